package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsangwailam/mcclaw/internal/activity"
	"github.com/tsangwailam/mcclaw/internal/client"
	"github.com/tsangwailam/mcclaw/internal/core"
	"github.com/tsangwailam/mcclaw/internal/subscriber"
)

func NewWatchCommand() *cobra.Command {
	var port, lines int

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow activities as they are logged",
		Long: `Follow activities as they are logged.

Activities arrive over the daemon's live stream. When the stream cannot be
kept open the feed falls back to polling the API.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := streamOptions()
			c := client.New(daemonService.port(port))
			fetch := func(ctx context.Context) ([]activity.Record, error) {
				res, err := c.ListActivities(ctx, activity.Filter{Limit: opts.FeedSize})
				return res.Activities, err
			}

			initial, err := fetch(ctx)
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to load activities: %v", describeError(err)))
				os.Exit(1)
			}

			printer := newFeedPrinter(os.Stdout)
			shown := initial
			if lines >= 0 && len(shown) > lines {
				printer.markSeen(shown[lines:])
				shown = shown[:lines]
			}
			printer.printNew(shown)

			sub := subscriber.New(c.StreamURL(), subscriber.WebsocketDialer{}, fetch, opts, slog.Default())
			sub.Feed().Replace(initial)
			sub.OnState = func(s subscriber.State) {
				switch s {
				case subscriber.Connected:
					slog.Info("Watching live activity stream")
				case subscriber.Reconnecting:
					slog.Warn("Live stream lost, reconnecting")
				default:
					slog.Debug("Live stream state changed", "state", s)
				}
			}
			sub.OnRecord = func(rec activity.Record) { printer.printNew([]activity.Record{rec}) }
			sub.OnPoll = printer.printNew

			if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error(fmt.Sprintf("Watch stopped: %v", err))
				os.Exit(1)
			}
		},
	}
	watchCmd.Flags().IntVar(&port, "port", 0, "daemon port")
	watchCmd.Flags().IntVarP(&lines, "lines", "n", 10, "recent activities to show first")

	return watchCmd
}

// streamOptions reads the subscriber timings from config.hcl.
func streamOptions() subscriber.Options {
	def := subscriber.DefaultOptions()
	cfg := core.Config.Stream
	opts := subscriber.Options{
		MaxFailures:    cfg.MaxFailures,
		ConnectTimeout: core.ParseDuration(cfg.ConnectTimeout, def.ConnectTimeout),
		RetryDelay:     core.ParseDuration(cfg.RetryDelay, def.RetryDelay),
		PollInterval:   core.ParseDuration(cfg.PollInterval, def.PollInterval),
		FeedSize:       def.FeedSize,
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = def.MaxFailures
	}
	return opts
}

// feedPrinter prints each record version once. Polling hands back the whole
// feed, so records are remembered by id and last update.
type feedPrinter struct {
	w    io.Writer
	seen map[string]time.Time
}

func newFeedPrinter(w io.Writer) *feedPrinter {
	return &feedPrinter{w: w, seen: make(map[string]time.Time)}
}

func (p *feedPrinter) markSeen(records []activity.Record) {
	for _, rec := range records {
		p.seen[rec.ID] = rec.UpdatedAt
	}
}

// printNew prints unseen or updated records oldest first. records are
// newest first as delivered by the API.
func (p *feedPrinter) printNew(records []activity.Record) {
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if last, ok := p.seen[rec.ID]; ok && !rec.UpdatedAt.After(last) {
			continue
		}
		p.seen[rec.ID] = rec.UpdatedAt
		fmt.Fprintln(p.w, renderRecordLine(rec))
	}
}
