package ranking

import (
	"context"
	"log/slog"
	"time"

	"chirpfeed/internal/logging"
	"chirpfeed/internal/metrics"
	"chirpfeed/internal/storage"

	"golang.org/x/sync/errgroup"
)

// Options tune the engine. Zero values take the defaults.
type Options struct {
	Weights           Weights
	CandidatePoolSize int
	DefaultPageSize   int
	MaxPageSize       int
	// Timeout bounds one ranking call; zero leaves only the caller's deadline.
	Timeout time.Duration
	Clock   Clock
}

func DefaultOptions() Options {
	return Options{
		Weights:           DefaultWeights(),
		CandidatePoolSize: CandidatePoolSize,
		DefaultPageSize:   20,
		MaxPageSize:       100,
		Clock:             time.Now,
	}
}

// Engine ranks chirps for a viewer. It holds no per-request state and is
// safe for concurrent use.
type Engine struct {
	store      storage.Store
	opts       Options
	profiles   *ProfileBuilder
	candidates *CandidateGenerator
	scorer     *Scorer
	fallback   *FallbackSelector
	recent     *FallbackSelector
	trending   *FallbackSelector
	enricher   *Enricher
}

func NewEngine(store storage.Store, opts Options) *Engine {
	defaults := DefaultOptions()
	if opts.Weights == (Weights{}) {
		opts.Weights = defaults.Weights
	}
	if opts.CandidatePoolSize <= 0 {
		opts.CandidatePoolSize = defaults.CandidatePoolSize
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = defaults.DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = defaults.MaxPageSize
	}
	if opts.Clock == nil {
		opts.Clock = defaults.Clock
	}

	recent := NewRecentStrategy(store)
	trending := NewFallbackSelector(
		NewTrendingStrategy(store, TrendingWindow, opts.Clock),
		NewTrendingStrategy(store, 0, opts.Clock),
	)
	return &Engine{
		store:      store,
		opts:       opts,
		profiles:   NewProfileBuilder(store, opts.Clock),
		candidates: NewCandidateGenerator(store, opts.Clock, opts.CandidatePoolSize),
		scorer:     NewScorer(opts.Weights, opts.Clock),
		fallback:   NewFallbackSelector(NewFollowedStrategy(store), recent),
		recent:     NewFallbackSelector(recent),
		trending:   trending,
		enricher:   NewEnricher(store),
	}
}

// PageSize normalizes a requested page size.
func (e *Engine) PageSize(requested int) int {
	if requested <= 0 {
		return e.opts.DefaultPageSize
	}
	if requested > e.opts.MaxPageSize {
		return e.opts.MaxPageSize
	}
	return requested
}

// GetPersonalizedFeed returns up to pageSize posts ranked for viewerID. When
// personalized ranking produces nothing, the fallback cascade fills the
// page. An empty slice with a nil error means the store has no eligible post.
func (e *Engine) GetPersonalizedFeed(ctx context.Context, viewerID string, pageSize int) ([]EnrichedPost, error) {
	start := time.Now()
	pageSize = e.PageSize(pageSize)

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	logger := logging.LoggerFromContext(ctx).With(slog.String("viewer_id", viewerID))

	var (
		profile  *EngagementProfile
		pool     []storage.Post
		followed []string
		blocked  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := e.profiles.Build(gctx, viewerID)
		profile = p
		return err
	})
	g.Go(func() error {
		b, err := e.store.BlockedUserIDs(gctx, viewerID)
		if err != nil {
			return storeError("blocked users", err)
		}
		blocked = b
		pool, err = e.candidates.Generate(gctx, viewerID, b)
		return err
	})
	g.Go(func() error {
		f, err := e.store.FollowedAuthorIDs(gctx, viewerID)
		if err != nil {
			return storeError("followed authors", err)
		}
		followed = f
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, e.failed(ctx, logger, SourcePersonalized, err)
	}

	metrics.CandidatePoolSize.Observe(float64(len(pool)))

	reactions, err := e.poolReactions(ctx, pool)
	if err != nil {
		return nil, e.failed(ctx, logger, SourcePersonalized, err)
	}

	followedSet := toSet(followed)
	scored := make([]ScoredPost, len(pool))
	for i, post := range pool {
		_, follows := followedSet[post.AuthorID]
		scored[i] = ScoredPost{
			Post: post,
			Score: e.scorer.Score(post, profile, Signals{
				FollowsAuthor: follows,
				Reactions:     reactions[post.ID],
			}),
			Source: SourcePersonalized,
		}
	}
	ranked := rankScored(scored, pageSize)

	source := SourcePersonalized
	if len(ranked) == 0 {
		ranked, err = e.fallback.Select(ctx, FallbackRequest{
			ViewerID: viewerID,
			Followed: followed,
			Blocked:  blocked,
			Limit:    pageSize,
		})
		if err != nil {
			return nil, e.failed(ctx, logger, SourcePersonalized, err)
		}
		if len(ranked) > 0 {
			source = ranked[0].Source
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, e.failed(ctx, logger, SourcePersonalized, err)
	}

	feed, err := e.enricher.Enrich(ctx, viewerID, ranked)
	if err != nil {
		return nil, e.failed(ctx, logger, SourcePersonalized, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, e.failed(ctx, logger, SourcePersonalized, err)
	}

	duration := time.Since(start)
	metrics.RankingDuration.Observe(duration.Seconds())
	metrics.FeedRequests.WithLabelValues(string(source), "success").Inc()

	logger.Info("Feed ranked",
		slog.String("source", string(source)),
		slog.Int("candidates", len(pool)),
		slog.Int("returned", len(feed)),
		slog.Bool("empty_profile", profile.IsEmpty()),
		slog.Duration("duration", duration))

	return feed, nil
}

// RecentFeed serves the global newest-first feed without personalization.
// Callers use it when GetPersonalizedFeed fails.
func (e *Engine) RecentFeed(ctx context.Context, viewerID string, pageSize int) ([]EnrichedPost, error) {
	return e.unranked(ctx, viewerID, pageSize, SourceRecent, e.recent)
}

// TrendingFeed serves the most reacted posts of the last week, widening to
// all time when the week has none.
func (e *Engine) TrendingFeed(ctx context.Context, viewerID string, pageSize int) ([]EnrichedPost, error) {
	return e.unranked(ctx, viewerID, pageSize, SourceTrending, e.trending)
}

func (e *Engine) unranked(ctx context.Context, viewerID string, pageSize int, source Source, selector *FallbackSelector) ([]EnrichedPost, error) {
	pageSize = e.PageSize(pageSize)

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	logger := logging.LoggerFromContext(ctx).With(slog.String("viewer_id", viewerID))

	blocked, err := e.store.BlockedUserIDs(ctx, viewerID)
	if err != nil {
		return nil, e.failed(ctx, logger, source, storeError("blocked users", err))
	}

	ranked, err := selector.Select(ctx, FallbackRequest{
		ViewerID: viewerID,
		Blocked:  blocked,
		Limit:    pageSize,
	})
	if err != nil {
		return nil, e.failed(ctx, logger, source, err)
	}

	feed, err := e.enricher.Enrich(ctx, viewerID, ranked)
	if err != nil {
		return nil, e.failed(ctx, logger, source, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, e.failed(ctx, logger, source, err)
	}

	served := source
	if len(ranked) > 0 {
		served = ranked[0].Source
	}
	metrics.FeedRequests.WithLabelValues(string(served), "success").Inc()
	return feed, nil
}

// poolReactions fetches reaction counts for the whole pool in one query.
func (e *Engine) poolReactions(ctx context.Context, pool []storage.Post) (map[int64]map[string]int, error) {
	if len(pool) == 0 {
		return map[int64]map[string]int{}, nil
	}

	ids := make([]int64, len(pool))
	for i, p := range pool {
		ids[i] = p.ID
	}

	counts, err := e.store.ReactionCounts(ctx, ids)
	if err != nil {
		return nil, storeError("candidate reactions", err)
	}
	return counts, nil
}

func (e *Engine) failed(ctx context.Context, logger *slog.Logger, source Source, err error) error {
	err = finish(ctx, err)
	status := "error"
	if ctx.Err() != nil {
		status = "canceled"
	}
	metrics.FeedRequests.WithLabelValues(string(source), status).Inc()
	logger.Error("Feed ranking failed", slog.String("error", err.Error()))
	return err
}
