package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/tsangwailam/mcclaw/internal/activity"
)

// Store is a mock for activity.Store. InTx runs the callback against the
// mock itself.
type Store struct {
	mock.Mock
}

func (m *Store) Create(ctx context.Context, rec *activity.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *Store) FindOpenByTriple(ctx context.Context, t activity.Triple) (*activity.Record, error) {
	args := m.Called(ctx, t)
	if rec, ok := args.Get(0).(*activity.Record); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Store) Update(ctx context.Context, rec *activity.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *Store) List(ctx context.Context, f activity.Filter) ([]activity.Record, error) {
	args := m.Called(ctx, f)
	if list, ok := args.Get(0).([]activity.Record); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Store) Count(ctx context.Context, f activity.Filter) (int64, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(int64), args.Error(1)
}

func (m *Store) CountBy(ctx context.Context, field activity.GroupField, limit int) ([]activity.GroupCount, error) {
	args := m.Called(ctx, field, limit)
	if list, ok := args.Get(0).([]activity.GroupCount); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Store) Distinct(ctx context.Context, field activity.GroupField) ([]string, error) {
	args := m.Called(ctx, field)
	if list, ok := args.Get(0).([]string); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Store) InTx(ctx context.Context, fn func(tx activity.Store) error) error {
	return fn(m)
}

func (m *Store) Close() error {
	return nil
}

// Publisher is a mock for activity.Publisher.
type Publisher struct {
	mock.Mock
}

func (m *Publisher) Broadcast(rec activity.Record) {
	m.Called(rec)
}
