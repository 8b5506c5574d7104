package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tsangwailam/mcclaw/internal/activity"
	"github.com/tsangwailam/mcclaw/internal/client"
	"github.com/tsangwailam/mcclaw/internal/store"
)

// errDaemonDown is logged by commands that need the daemon API.
var errDaemonDown = errors.New("daemon is not running, start it with 'mclaw daemon start' or use --db-url for direct database access")

// activitySource is what the read-only commands need, served either by the
// daemon API or by a store opened directly with --db-url.
type activitySource interface {
	Log(ctx context.Context, req activity.Request) (activity.Result, error)
	List(ctx context.Context, f activity.Filter) (activity.ListResult, error)
	Stats(ctx context.Context) (activity.Stats, error)
	Close() error
}

type remoteSource struct {
	client *client.Client
}

func (r remoteSource) Log(ctx context.Context, req activity.Request) (activity.Result, error) {
	return r.client.LogActivity(ctx, req)
}

func (r remoteSource) List(ctx context.Context, f activity.Filter) (activity.ListResult, error) {
	return r.client.ListActivities(ctx, f)
}

func (r remoteSource) Stats(ctx context.Context) (activity.Stats, error) {
	return r.client.Stats(ctx)
}

func (r remoteSource) Close() error { return nil }

// directSource runs the same ingestor and queries as the daemon, without
// broadcasting to live subscribers.
type directSource struct {
	store    *store.SQLStore
	ingestor *activity.Ingestor
	service  *activity.Service
}

func (d directSource) Log(ctx context.Context, req activity.Request) (activity.Result, error) {
	return d.ingestor.Ingest(ctx, req)
}

func (d directSource) List(ctx context.Context, f activity.Filter) (activity.ListResult, error) {
	return d.service.List(ctx, f)
}

func (d directSource) Stats(ctx context.Context) (activity.Stats, error) {
	return d.service.Stats(ctx)
}

func (d directSource) Close() error { return d.store.Close() }

// openSource returns a direct store source when dbURL is set and the daemon
// API otherwise.
func openSource(ctx context.Context, dbURL string, port int) (activitySource, error) {
	if dbURL == "" {
		return remoteSource{client: client.New(daemonService.port(port))}, nil
	}

	logger := slog.Default()
	st, err := store.Open(ctx, dbURL, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to prepare database: %w", err)
	}
	return directSource{
		store:    st,
		ingestor: activity.NewIngestor(st, nil, logger),
		service:  activity.NewService(st, logger),
	}, nil
}

// describeError turns an unreachable daemon into a hint.
func describeError(err error) error {
	if errors.Is(err, client.ErrUnavailable) {
		return errDaemonDown
	}
	return err
}
