package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"chirpfeed/internal/cache"
	"chirpfeed/internal/logging"
	"chirpfeed/internal/middleware"
	"chirpfeed/internal/ranking"

	"github.com/goccy/go-json"
)

// FeedRanker produces feed pages. *ranking.Engine satisfies it.
type FeedRanker interface {
	GetPersonalizedFeed(ctx context.Context, viewerID string, pageSize int) ([]ranking.EnrichedPost, error)
	RecentFeed(ctx context.Context, viewerID string, pageSize int) ([]ranking.EnrichedPost, error)
	TrendingFeed(ctx context.Context, viewerID string, pageSize int) ([]ranking.EnrichedPost, error)
	PageSize(requested int) int
}

// FeedCache stores rendered pages. *cache.RedisFeedCache satisfies it.
type FeedCache interface {
	Get(ctx context.Context, viewerID string, limit int) (*cache.CachedFeed, bool, error)
	Set(ctx context.Context, viewerID string, limit int, feed *cache.CachedFeed) error
}

type FeedHandler struct {
	ranker FeedRanker
	cache  FeedCache
	now    func() time.Time
}

type FeedResponse struct {
	Posts  []ranking.EnrichedPost `json:"posts"`
	Source ranking.Source         `json:"source"`
	Cached bool                   `json:"cached,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewFeedHandler builds the feed endpoint. feedCache may be nil.
func NewFeedHandler(ranker FeedRanker, feedCache FeedCache) *FeedHandler {
	return &FeedHandler{ranker: ranker, cache: feedCache, now: time.Now}
}

func (h *FeedHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.LoggerFromContext(ctx)

	viewerID := r.Header.Get(middleware.ViewerHeader)
	if viewerID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing viewer"})
		return
	}

	requested := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be an integer"})
			return
		}
		requested = n
	}
	limit := h.ranker.PageSize(requested)

	if r.URL.Query().Get("trending") == "true" {
		posts, err := h.ranker.TrendingFeed(ctx, viewerID, limit)
		if err != nil {
			h.serveRecent(w, r, viewerID, limit, "Trending feed failed", err)
			return
		}
		writeJSON(w, http.StatusOK, FeedResponse{Posts: posts, Source: feedSource(posts, ranking.SourceTrending)})
		return
	}

	if h.cache != nil {
		cached, ok, err := h.cache.Get(ctx, viewerID, limit)
		if err != nil {
			logger.Warn("Feed cache lookup failed", slog.String("error", err.Error()))
		}
		if ok {
			writeJSON(w, http.StatusOK, FeedResponse{Posts: cached.Posts, Source: cached.Source, Cached: true})
			return
		}
	}

	posts, err := h.ranker.GetPersonalizedFeed(ctx, viewerID, limit)
	if err != nil {
		h.serveRecent(w, r, viewerID, limit, "Personalized feed failed", err)
		return
	}

	source := feedSource(posts, ranking.SourcePersonalized)

	if h.cache != nil {
		entry := &cache.CachedFeed{Posts: posts, Source: source, RankedAt: h.now()}
		if err := h.cache.Set(ctx, viewerID, limit, entry); err != nil {
			logger.Warn("Failed to cache feed", slog.String("error", err.Error()))
		}
	}

	writeJSON(w, http.StatusOK, FeedResponse{Posts: posts, Source: source})
}

// serveRecent answers with the unranked recent feed after a ranking failure.
// Only a client that has gone away gets 503; the engine's own timeout still
// earns the recent feed.
func (h *FeedHandler) serveRecent(w http.ResponseWriter, r *http.Request, viewerID string, limit int, failure string, cause error) {
	ctx := r.Context()
	logger := logging.LoggerFromContext(ctx)

	if ctx.Err() != nil {
		logger.Warn("Client went away before the feed was ready", slog.String("error", cause.Error()))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "request canceled"})
		return
	}
	logger.Error(failure+", serving recent feed", slog.String("error", cause.Error()))

	posts, err := h.ranker.RecentFeed(ctx, viewerID, limit)
	if err != nil {
		if ctx.Err() != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "request canceled"})
			return
		}
		logger.Error("Recent feed failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "feed unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, FeedResponse{Posts: posts, Source: ranking.SourceRecent})
}

func feedSource(posts []ranking.EnrichedPost, fallback ranking.Source) ranking.Source {
	if len(posts) > 0 {
		return posts[0].Source
	}
	return fallback
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// ReadinessHandler answers 200 once every dependency responds.
func ReadinessHandler(deps ...Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for _, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				logging.LoggerFromContext(r.Context()).Warn("Readiness check failed", slog.String("error", err.Error()))
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("Not Ready"))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", slog.String("error", err.Error()))
	}
}
