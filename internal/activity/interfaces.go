package activity

import "context"

// Store provides persistence for activity records.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	// FindOpenByTriple returns the most recently created in_progress record
	// for t, or ErrNotFound.
	FindOpenByTriple(ctx context.Context, t Triple) (*Record, error)
	Update(ctx context.Context, rec *Record) error
	List(ctx context.Context, f Filter) ([]Record, error)
	Count(ctx context.Context, f Filter) (int64, error)
	CountBy(ctx context.Context, field GroupField, limit int) ([]GroupCount, error)
	Distinct(ctx context.Context, field GroupField) ([]string, error)
	// InTx runs fn against a Store bound to one transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error
	Close() error
}

// Publisher is told about every record the ingestor creates or updates.
type Publisher interface {
	Broadcast(rec Record)
}
