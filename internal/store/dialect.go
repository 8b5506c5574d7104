package store

import (
	"strconv"
	"strings"
	"time"
)

// dialect holds the SQL differences between the supported backends.
type dialect struct {
	provider Provider
	// nullSafeEq compares two values treating NULL as equal to NULL.
	nullSafeEq string
	numbered   bool
	schema     []string
}

// timeLayout sorts lexically in the same order as chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var sqliteDialect = dialect{
	provider:   ProviderSQLite,
	nullSafeEq: "IS",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS activities (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			action TEXT NOT NULL,
			details TEXT NOT NULL,
			agent TEXT,
			project TEXT,
			status TEXT NOT NULL DEFAULT 'completed',
			duration TEXT,
			input_tokens INTEGER,
			output_tokens INTEGER,
			total_tokens INTEGER,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_agent ON activities(agent)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_project ON activities(project)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_status ON activities(status)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_open ON activities(action, status)`,
	},
}

var postgresDialect = dialect{
	provider:   ProviderPostgres,
	nullSafeEq: "IS NOT DISTINCT FROM",
	numbered:   true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS activities (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			action TEXT NOT NULL,
			details TEXT NOT NULL,
			agent TEXT,
			project TEXT,
			status TEXT NOT NULL DEFAULT 'completed',
			duration TEXT,
			input_tokens BIGINT,
			output_tokens BIGINT,
			total_tokens BIGINT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_agent ON activities(agent)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_project ON activities(project)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_status ON activities(status)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_open ON activities(action, status)`,
	},
}

// rebind rewrites ? placeholders to $1, $2, ... for backends that number
// their parameters. Queries must not contain literal question marks.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// timeArg encodes t for a query parameter.
func (d dialect) timeArg(t time.Time) any {
	if d.provider == ProviderSQLite {
		return t.UTC().Format(timeLayout)
	}
	return t.UTC()
}

// timestamp scans either a sqlite text column or a native timestamp.
type timestamp struct {
	time.Time
}

func (ts *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		ts.Time = v.UTC()
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	case nil:
		ts.Time = time.Time{}
		return nil
	}
	return &scanError{src: src}
}

func (ts *timestamp) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	ts.Time = t.UTC()
	return nil
}
