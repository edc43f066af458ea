package ranking

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks a content store failure the ranking could
	// not degrade around.
	ErrStoreUnavailable = errors.New("content store unavailable")
	// ErrCanceled is returned when the caller's context ends before the feed
	// is complete. No partial feed accompanies it.
	ErrCanceled = errors.New("ranking canceled")
)

func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// finish maps any failure observed after ctx ended to ErrCanceled.
func finish(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, ctxErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return err
}
