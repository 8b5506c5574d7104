package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tsangwailam/mcclaw/internal/activity"
)

const columns = `id, action, details, agent, project, status, duration,
	input_tokens, output_tokens, total_tokens, created_at, updated_at`

var groupColumns = map[activity.GroupField]string{
	activity.FieldStatus:  "status",
	activity.FieldAgent:   "agent",
	activity.FieldProject: "project",
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (activity.Record, error) {
	var rec activity.Record
	var createdAt, updatedAt timestamp
	err := row.Scan(
		&rec.ID,
		&rec.Action,
		&rec.Details,
		&rec.Agent,
		&rec.Project,
		&rec.Status,
		&rec.Duration,
		&rec.InputTokens,
		&rec.OutputTokens,
		&rec.TotalTokens,
		&createdAt,
		&updatedAt,
	)
	rec.CreatedAt = createdAt.Time
	rec.UpdatedAt = updatedAt.Time
	return rec, err
}

// Create inserts rec.
func (s *SQLStore) Create(ctx context.Context, rec *activity.Record) error {
	query := s.dialect.rebind(`
		INSERT INTO activities (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.q.ExecContext(ctx, query,
		rec.ID,
		rec.Action,
		rec.Details,
		rec.Agent,
		rec.Project,
		string(rec.Status),
		rec.Duration,
		rec.InputTokens,
		rec.OutputTokens,
		rec.TotalTokens,
		s.dialect.timeArg(rec.CreatedAt),
		s.dialect.timeArg(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

// FindOpenByTriple returns the newest in_progress record for t.
func (s *SQLStore) FindOpenByTriple(ctx context.Context, t activity.Triple) (*activity.Record, error) {
	eq := s.dialect.nullSafeEq
	query := s.dialect.rebind(`
		SELECT ` + columns + `
		FROM activities
		WHERE action = ? AND agent ` + eq + ` ? AND project ` + eq + ` ? AND status = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`)

	row := s.q.QueryRowContext(ctx, query, t.Action, t.Agent, t.Project, string(activity.StatusInProgress))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, activity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open activity: %w", err)
	}
	return &rec, nil
}

// Update writes the mutable fields of rec.
func (s *SQLStore) Update(ctx context.Context, rec *activity.Record) error {
	query := s.dialect.rebind(`
		UPDATE activities
		SET details = ?, status = ?, duration = ?,
			input_tokens = ?, output_tokens = ?, total_tokens = ?, updated_at = ?
		WHERE id = ?`)

	res, err := s.q.ExecContext(ctx, query,
		rec.Details,
		string(rec.Status),
		rec.Duration,
		rec.InputTokens,
		rec.OutputTokens,
		rec.TotalTokens,
		s.dialect.timeArg(rec.UpdatedAt),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update activity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update activity: %w", err)
	}
	if n == 0 {
		return activity.ErrNotFound
	}
	return nil
}

// where builds the WHERE clause for f.
func (s *SQLStore) where(f activity.Filter) (string, []any) {
	var conditions []string
	var args []any

	if f.Agent != "" {
		conditions = append(conditions, "agent = ?")
		args = append(args, f.Agent)
	}
	if f.Project != "" {
		conditions = append(conditions, "project = ?")
		args = append(args, f.Project)
	}
	if f.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, f.Status)
	}
	if f.Start != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, s.dialect.timeArg(*f.Start))
	}
	if f.End != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, s.dialect.timeArg(*f.End))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// List returns records matching f, newest first.
func (s *SQLStore) List(ctx context.Context, f activity.Filter) ([]activity.Record, error) {
	clause, args := s.where(f)
	query := `SELECT ` + columns + ` FROM activities` + clause + ` ORDER BY created_at DESC, seq DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var records []activity.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity rows: %w", err)
	}
	return records, nil
}

// Count returns how many records match f. The limit is ignored.
func (s *SQLStore) Count(ctx context.Context, f activity.Filter) (int64, error) {
	clause, args := s.where(f)
	var n int64
	err := s.q.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM activities`+clause), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	return n, nil
}

// CountBy groups records by field, most frequent first. Records without a
// value for field are skipped. A limit of zero returns every group.
func (s *SQLStore) CountBy(ctx context.Context, field activity.GroupField, limit int) ([]activity.GroupCount, error) {
	col, ok := groupColumns[field]
	if !ok {
		return nil, fmt.Errorf("cannot group by %q", field)
	}

	query := `SELECT ` + col + `, COUNT(*) AS n FROM activities
		WHERE ` + col + ` IS NOT NULL
		GROUP BY ` + col + `
		ORDER BY n DESC, ` + col + ` ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count activities by %s: %w", field, err)
	}
	defer rows.Close()

	groups := []activity.GroupCount{}
	for rows.Next() {
		var g activity.GroupCount
		if err := rows.Scan(&g.Value, &g.Count); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Distinct returns the sorted set of non-null values of field.
func (s *SQLStore) Distinct(ctx context.Context, field activity.GroupField) ([]string, error) {
	col, ok := groupColumns[field]
	if !ok {
		return nil, fmt.Errorf("cannot list values of %q", field)
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT DISTINCT `+col+` FROM activities WHERE `+col+` IS NOT NULL ORDER BY `+col)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s values: %w", field, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", field, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
