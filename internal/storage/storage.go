// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"rss_relay/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	MarkSent(ctx context.Context, tid int64) error
	IsSent(ctx context.Context, tid int64) (bool, error)
	CountSent(ctx context.Context) (int, error)
	ImportSent(ctx context.Context, tids []int64) (int, error)

	SavePending(ctx context.Context, post model.Post) (bool, error)
	ListPending(ctx context.Context) ([]model.PendingPost, error)
	TouchPending(ctx context.Context, tid int64) error
	DeletePending(ctx context.Context, tid int64) error
	PromotePending(ctx context.Context, tid int64) error

	CreateFilter(ctx context.Context, f *model.Filter) error
	ListFilters(ctx context.Context) ([]model.Filter, error)
	GetFilter(ctx context.Context, id int64) (*model.Filter, error)
	DeleteFilter(ctx context.Context, id int64) error

	Close() error
}
