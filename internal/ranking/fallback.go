package ranking

import (
	"context"
	"log/slog"
	"time"

	"chirpfeed/internal/logging"
	"chirpfeed/internal/metrics"
	"chirpfeed/internal/storage"
)

// Source names the part of the engine that produced a feed.
type Source string

const (
	SourcePersonalized Source = "personalized"
	SourceFollowing    Source = "following"
	SourceRecent       Source = "recent"
	SourceTrending     Source = "trending"
)

// FallbackRequest carries what a fallback strategy needs to know about the
// viewer. Followed and Blocked are already fetched by the engine.
type FallbackRequest struct {
	ViewerID string
	Followed []string
	Blocked  []string
	Limit    int
}

// FallbackStrategy is one step of the fallback cascade.
type FallbackStrategy interface {
	Source() Source
	Select(ctx context.Context, req FallbackRequest) ([]storage.Post, error)
}

// FollowedStrategy serves the newest posts of followed authors.
type FollowedStrategy struct {
	store storage.Store
}

func NewFollowedStrategy(store storage.Store) *FollowedStrategy {
	return &FollowedStrategy{store: store}
}

func (s *FollowedStrategy) Source() Source { return SourceFollowing }

func (s *FollowedStrategy) Select(ctx context.Context, req FallbackRequest) ([]storage.Post, error) {
	if len(req.Followed) == 0 {
		return nil, nil
	}

	posts, err := s.store.RecentPosts(ctx, storage.RecentPostsQuery{
		AuthorIDs:      req.Followed,
		ExcludeAuthor:  req.ViewerID,
		ExcludeAuthors: req.Blocked,
		ExcludeReposts: true,
		Limit:          req.Limit,
	})
	if err != nil {
		return nil, storeError("followed posts", err)
	}
	return eligiblePosts(posts, req.ViewerID, req.Blocked), nil
}

// RecentStrategy serves the globally newest eligible posts.
type RecentStrategy struct {
	store storage.Store
}

func NewRecentStrategy(store storage.Store) *RecentStrategy {
	return &RecentStrategy{store: store}
}

func (s *RecentStrategy) Source() Source { return SourceRecent }

func (s *RecentStrategy) Select(ctx context.Context, req FallbackRequest) ([]storage.Post, error) {
	posts, err := s.store.RecentPosts(ctx, storage.RecentPostsQuery{
		ExcludeAuthor:  req.ViewerID,
		ExcludeAuthors: req.Blocked,
		ExcludeReposts: true,
		Limit:          req.Limit,
	})
	if err != nil {
		return nil, storeError("recent posts", err)
	}
	return eligiblePosts(posts, req.ViewerID, req.Blocked), nil
}

// TrendingStrategy serves the most reacted eligible posts of the last
// window, newest first among equals. A zero window covers all time.
type TrendingStrategy struct {
	store  storage.Store
	window time.Duration
	now    Clock
}

func NewTrendingStrategy(store storage.Store, window time.Duration, now Clock) *TrendingStrategy {
	return &TrendingStrategy{store: store, window: window, now: now}
}

func (s *TrendingStrategy) Source() Source { return SourceTrending }

func (s *TrendingStrategy) Select(ctx context.Context, req FallbackRequest) ([]storage.Post, error) {
	q := storage.TrendingQuery{
		ExcludeAuthor:  req.ViewerID,
		ExcludeAuthors: req.Blocked,
		ExcludeReposts: true,
		Limit:          req.Limit,
	}
	if s.window > 0 {
		q.Since = s.now().Add(-s.window)
	}

	posts, err := s.store.TrendingPosts(ctx, q)
	if err != nil {
		return nil, storeError("trending posts", err)
	}
	return eligiblePosts(posts, req.ViewerID, req.Blocked), nil
}

// FallbackSelector tries its strategies in order and returns the first
// non-empty result.
type FallbackSelector struct {
	strategies []FallbackStrategy
}

func NewFallbackSelector(strategies ...FallbackStrategy) *FallbackSelector {
	return &FallbackSelector{strategies: strategies}
}

func (f *FallbackSelector) Select(ctx context.Context, req FallbackRequest) ([]ScoredPost, error) {
	logger := logging.LoggerFromContext(ctx)

	for _, strategy := range f.strategies {
		posts, err := strategy.Select(ctx, req)
		if err != nil {
			metrics.FallbackUsed.WithLabelValues(string(strategy.Source()), "error").Inc()
			return nil, err
		}
		if len(posts) > req.Limit {
			posts = posts[:req.Limit]
		}
		if len(posts) == 0 {
			metrics.FallbackUsed.WithLabelValues(string(strategy.Source()), "empty").Inc()
			continue
		}

		metrics.FallbackUsed.WithLabelValues(string(strategy.Source()), "served").Inc()
		logger.Debug("Fallback strategy served feed",
			slog.String("strategy", string(strategy.Source())),
			slog.Int("posts", len(posts)))

		return fallbackScores(posts, strategy.Source()), nil
	}

	return []ScoredPost{}, nil
}

func fallbackScores(posts []storage.Post, source Source) []ScoredPost {
	reason := "Recent post"
	switch source {
	case SourceFollowing:
		reason = "From people you follow"
	case SourceTrending:
		reason = "Trending"
	}

	out := make([]ScoredPost, len(posts))
	for i, p := range posts {
		out[i] = ScoredPost{
			Post:   p,
			Score:  CandidateScore{PostID: p.ID, Reasons: []string{reason}},
			Source: source,
		}
	}
	return out
}
