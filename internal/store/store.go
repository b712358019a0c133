// Package store provides task storage backends. Every backend merges updates through
// task.Task.Apply and honours task.Update.ExpectStatus as a compare-and-swap precondition.
package store

import (
	"context"
	"errors"

	"github.com/nadmax/imagegen/internal/task"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var (
	ErrEmptyProviderID = errors.New("empty provider task id")

	// ErrTooManyRetries means an optimistic write kept losing to concurrent
	// writers. The stored task was not changed and the caller may retry.
	ErrTooManyRetries = errors.New("too many concurrent writers")
)

type Store interface {
	Create(ctx context.Context, prompt string, ratio task.AspectRatio) (*task.Task, error)
	AttachProviderID(ctx context.Context, id, providerTaskID string) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	GetByProviderID(ctx context.Context, providerTaskID string) (*task.Task, error)
	Merge(ctx context.Context, id string, u task.Update) (*task.Task, error)
	List(ctx context.Context, limit, offset int) ([]*task.Task, error)
	Close() error
}

// NormalizePage applies the default and maximum page size.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

// Each calls fn for every stored task, newest first, paging through List.
func Each(ctx context.Context, s Store, fn func(*task.Task)) error {
	for offset := 0; ; {
		page, err := s.List(ctx, MaxLimit, offset)
		if err != nil {
			return err
		}
		for _, t := range page {
			fn(t)
		}
		if len(page) < MaxLimit {
			return nil
		}
		offset += len(page)
	}
}
