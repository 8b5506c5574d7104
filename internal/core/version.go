package core

import (
	"runtime/debug"
	"strings"
)

// Version is the build version, "devel" or "devel-<sha>[-dirty]" for local builds.
var Version = buildVersion()

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "devel"
	}

	if v := info.Main.Version; v != "" && v != "(devel)" && !isPseudoVersion(v) {
		return v
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	return develVersion(revision, dirty)
}

func develVersion(revision string, dirty bool) string {
	if revision == "" {
		return "devel"
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	v := "devel-" + revision
	if dirty {
		v += "-dirty"
	}
	return v
}

// FormatVersion strips the "v" prefix of tagged releases.
func FormatVersion(v string) string {
	return strings.TrimPrefix(v, "v")
}

// isPseudoVersion reports whether v ends in a 12-character commit hash,
// e.g. v0.0.0-20260217105831-82903d1d8810.
func isPseudoVersion(v string) bool {
	v, _, _ = strings.Cut(v, "+")
	i := strings.LastIndex(v, "-")
	if i < 0 {
		return false
	}
	hash := v[i+1:]
	if len(hash) != 12 {
		return false
	}
	return strings.Trim(hash, "0123456789abcdef") == ""
}
