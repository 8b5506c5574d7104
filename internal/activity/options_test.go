package activity

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseFilterDefaults(t *testing.T) {
	f, err := ParseFilter(url.Values{})
	require.NoError(t, err)
	require.Equal(t, DefaultListLimit, f.Limit)
	require.Empty(t, f.Agent)
	require.Nil(t, f.Start)
	require.Nil(t, f.End)
}

func TestParseFilterAllMeansNoFilter(t *testing.T) {
	f, err := ParseFilter(url.Values{"agent": {"all"}, "project": {"Mc"}, "status": {"all"}})
	require.NoError(t, err)
	require.Empty(t, f.Agent)
	require.Equal(t, "Mc", f.Project)
	require.Empty(t, f.Status)
}

func TestParseFilterDateOnlyEndIsInclusive(t *testing.T) {
	f, err := ParseFilter(url.Values{"start": {"2026-03-01"}, "end": {"2026-03-02"}})
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local), *f.Start)
	require.Equal(t, time.Date(2026, 3, 2, 23, 59, 59, int(999*time.Millisecond), time.Local), *f.End)
}

func TestParseFilterTimestampEndIsExact(t *testing.T) {
	f, err := ParseFilter(url.Values{"end": {"2026-03-02T10:00:00Z"}})
	require.NoError(t, err)
	require.True(t, f.End.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))
}

func TestParseFilterRejectsBadInput(t *testing.T) {
	for _, q := range []url.Values{
		{"limit": {"zero"}},
		{"limit": {"-3"}},
		{"start": {"yesterday"}},
		{"end": {"03/02/2026"}},
	} {
		_, err := ParseFilter(q)
		require.ErrorIs(t, err, ErrValidation, "query %v", q)
	}
}

func TestFilterQueryRoundTrip(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	in := Filter{Agent: "claude", Status: "failed", Start: &start, Limit: 50}

	out, err := ParseFilter(in.Query())
	require.NoError(t, err)
	require.Equal(t, in.Agent, out.Agent)
	require.Equal(t, in.Status, out.Status)
	require.Equal(t, in.Limit, out.Limit)
	require.True(t, out.Start.Equal(start))
}
