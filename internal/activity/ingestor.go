package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Result is the outcome of an ingest: the stored record and whether it was
// newly created (true) or an in-progress record that was closed (false).
type Result struct {
	Record  Record
	Created bool
}

// Ingestor applies the upsert rule for incoming activity reports.
//
// A report with a terminal status closes the most recent in_progress record
// of the same (action, agent, project). Everything else is inserted.
type Ingestor struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithClock sets the source of createdAt and updatedAt.
func WithClock(now func() time.Time) IngestorOption {
	return func(i *Ingestor) { i.now = now }
}

// WithIDGenerator sets the source of record ids.
func WithIDGenerator(newID func() string) IngestorOption {
	return func(i *Ingestor) { i.newID = newID }
}

// NewIngestor creates an ingestor. publisher may be nil.
func NewIngestor(store Store, publisher Publisher, logger *slog.Logger, opts ...IngestorOption) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Ingestor{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest validates req, creates or updates a record and publishes it.
func (i *Ingestor) Ingest(ctx context.Context, req Request) (Result, error) {
	v, err := req.validate()
	if err != nil {
		return Result{}, err
	}

	var result Result
	err = i.store.InTx(ctx, func(tx Store) error {
		if v.status != nil && v.status.Terminal() {
			open, err := tx.FindOpenByTriple(ctx, Triple{Action: v.action, Agent: v.agent, Project: v.project})
			switch {
			case err == nil:
				i.merge(open, v)
				if err := tx.Update(ctx, open); err != nil {
					return err
				}
				result = Result{Record: *open}
				return nil
			case !errors.Is(err, ErrNotFound):
				return err
			}
		}

		rec := i.newRecord(v)
		if err := tx.Create(ctx, rec); err != nil {
			return err
		}
		result = Result{Record: *rec, Created: true}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("ingesting activity: %w", err)
	}

	i.logger.Debug("Activity ingested",
		"id", result.Record.ID,
		"action", result.Record.Action,
		"status", result.Record.Status,
		"created", result.Created)

	if i.publisher != nil {
		i.publisher.Broadcast(result.Record)
	}
	return result, nil
}

func (i *Ingestor) newRecord(v validated) *Record {
	now := i.now()
	rec := &Record{
		ID:           i.newID(),
		Action:       v.action,
		Details:      v.action,
		Agent:        v.agent,
		Project:      v.project,
		Status:       StatusCompleted,
		Duration:     v.duration,
		InputTokens:  v.inputTokens,
		OutputTokens: v.outputTokens,
		TotalTokens:  v.totalTokens,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if v.details != nil && *v.details != "" {
		rec.Details = *v.details
	}
	if v.status != nil {
		rec.Status = *v.status
	}
	return rec
}

// merge overwrites only the fields the request supplied. Details equal to
// the action are treated as the CLI default and leave the stored text alone.
func (i *Ingestor) merge(rec *Record, v validated) {
	rec.Status = *v.status
	rec.UpdatedAt = i.now()

	if v.details != nil && *v.details != "" && *v.details != v.action {
		rec.Details = *v.details
	}
	if v.duration != nil {
		rec.Duration = v.duration
	}
	if v.inputTokens != nil {
		rec.InputTokens = v.inputTokens
	}
	if v.outputTokens != nil {
		rec.OutputTokens = v.outputTokens
	}
	if v.totalTokens != nil {
		rec.TotalTokens = v.totalTokens
	}
}
