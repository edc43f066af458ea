package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chirpfeed/internal/metrics"

	gobreaker "github.com/sony/gobreaker/v2"
)

var _ Store = (*BreakerStore)(nil)

// BreakerConfig controls when the store circuit opens.
type BreakerConfig struct {
	Name         string
	FailureRatio float64
	MinRequests  uint32
	Timeout      time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "content-store",
		FailureRatio: 0.6,
		MinRequests:  10,
		Timeout:      30 * time.Second,
	}
}

// BreakerStore wraps a Store with a circuit breaker. Context cancellation is
// not counted as a failure.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreakerStore(next Store, cfg BreakerConfig) *BreakerStore {
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			slog.Warn("Content store circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	return &BreakerStore{next: next, cb: cb}
}

// State reports the current breaker state.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

func execute[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("content store unavailable: %w", err)
		}
		return zero, err
	}
	return out.(T), nil
}

func (b *BreakerStore) RecentPostsByAuthor(ctx context.Context, authorID string, since time.Time, limit int) ([]Post, error) {
	return execute(b, func() ([]Post, error) {
		return b.next.RecentPostsByAuthor(ctx, authorID, since, limit)
	})
}

func (b *BreakerStore) TopEmojisByUser(ctx context.Context, userID string, since time.Time, limit int) ([]EmojiCount, error) {
	return execute(b, func() ([]EmojiCount, error) {
		return b.next.TopEmojisByUser(ctx, userID, since, limit)
	})
}

func (b *BreakerStore) AuthorsReactedToByUser(ctx context.Context, userID string, since time.Time, excludeSelf bool, limit int) ([]AuthorCount, error) {
	return execute(b, func() ([]AuthorCount, error) {
		return b.next.AuthorsReactedToByUser(ctx, userID, since, excludeSelf, limit)
	})
}

func (b *BreakerStore) RecentPosts(ctx context.Context, q RecentPostsQuery) ([]Post, error) {
	return execute(b, func() ([]Post, error) {
		return b.next.RecentPosts(ctx, q)
	})
}

func (b *BreakerStore) TrendingPosts(ctx context.Context, q TrendingQuery) ([]Post, error) {
	return execute(b, func() ([]Post, error) {
		return b.next.TrendingPosts(ctx, q)
	})
}

func (b *BreakerStore) FollowedAuthorIDs(ctx context.Context, userID string) ([]string, error) {
	return execute(b, func() ([]string, error) {
		return b.next.FollowedAuthorIDs(ctx, userID)
	})
}

func (b *BreakerStore) BlockedUserIDs(ctx context.Context, userID string) ([]string, error) {
	return execute(b, func() ([]string, error) {
		return b.next.BlockedUserIDs(ctx, userID)
	})
}

func (b *BreakerStore) ReactionCounts(ctx context.Context, postIDs []int64) (map[int64]map[string]int, error) {
	return execute(b, func() (map[int64]map[string]int, error) {
		return b.next.ReactionCounts(ctx, postIDs)
	})
}

func (b *BreakerStore) UserReactions(ctx context.Context, userID string, postIDs []int64) (map[int64]string, error) {
	return execute(b, func() (map[int64]string, error) {
		return b.next.UserReactions(ctx, userID, postIDs)
	})
}

// Ping bypasses the breaker so readiness reflects the database itself.
func (b *BreakerStore) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

func (b *BreakerStore) Close() error {
	return b.next.Close()
}
