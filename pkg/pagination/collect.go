package pagination

import (
	"context"
	"errors"
)

var (
	// ErrNoItems is returned when exactly one item was expected and there
	// were none.
	ErrNoItems = errors.New("expected exactly one item, got none")

	// ErrMultipleItems is returned when exactly one item was expected and
	// there were more.
	ErrMultipleItems = errors.New("expected exactly one item, got multiple")
)

// Collect drains the stream into a slice, stopping after max items if max is
// positive. Items read before an error are returned along with it.
func Collect[T any](ctx context.Context, s *Stream[T], max int) ([]T, error) {
	var items []T
	for max <= 0 || len(items) < max {
		item, err := s.Next(ctx)
		if err == Done {
			break
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// ExactlyOne returns the only item of the stream. It reads one item past the
// first to make sure there is no second one.
func ExactlyOne[T any](ctx context.Context, s *Stream[T]) (T, error) {
	var zero T

	item, err := s.Next(ctx)
	if err == Done {
		return zero, ErrNoItems
	}
	if err != nil {
		return zero, err
	}

	_, err = s.Next(ctx)
	switch {
	case err == Done:
		return item, nil
	case err != nil:
		return zero, err
	default:
		return zero, ErrMultipleItems
	}
}

// ExactlyOneOf returns the only element of items.
func ExactlyOneOf[T any](items []T) (T, error) {
	var zero T
	switch len(items) {
	case 0:
		return zero, ErrNoItems
	case 1:
		return items[0], nil
	default:
		return zero, ErrMultipleItems
	}
}
