package core

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// LogLevel is shared by every handler installed through SetupLogging so the
// level can change at runtime.
var LogLevel = new(slog.LevelVar)

// SetupLogging installs a tint handler writing to w as the default logger.
// Colour is only used when w is a terminal.
func SetupLogging(w io.Writer, verbose int) {
	SetVerbosity(verbose)

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:      LogLevel,
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	})
	slog.SetDefault(slog.New(handler))
}

// SetVerbosity maps the -v count onto a log level.
func SetVerbosity(verbose int) {
	if verbose > 0 {
		LogLevel.Set(slog.LevelDebug)
		return
	}
	LogLevel.Set(slog.LevelInfo)
}
