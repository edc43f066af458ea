package ranking

import (
	"context"

	"chirpfeed/internal/storage"
)

type CandidateGenerator struct {
	store    storage.Store
	now      Clock
	poolSize int
}

func NewCandidateGenerator(store storage.Store, now Clock, poolSize int) *CandidateGenerator {
	if poolSize <= 0 {
		poolSize = CandidatePoolSize
	}
	return &CandidateGenerator{store: store, now: now, poolSize: poolSize}
}

// Generate returns up to poolSize posts from the last week, newest first,
// leaving out the viewer's own posts, reposts and posts by blocked authors.
func (g *CandidateGenerator) Generate(ctx context.Context, viewerID string, blocked []string) ([]storage.Post, error) {
	posts, err := g.store.RecentPosts(ctx, storage.RecentPostsQuery{
		Since:          g.now().Add(-CandidateWindow),
		ExcludeAuthor:  viewerID,
		ExcludeAuthors: blocked,
		ExcludeReposts: true,
		Limit:          g.poolSize,
	})
	if err != nil {
		return nil, storeError("candidates", err)
	}

	pool := eligiblePosts(posts, viewerID, blocked)
	if len(pool) > g.poolSize {
		pool = pool[:g.poolSize]
	}
	return pool, nil
}

// eligiblePosts drops posts that may never appear in a viewer's feed.
func eligiblePosts(posts []storage.Post, viewerID string, blocked []string) []storage.Post {
	blockedSet := toSet(blocked)
	out := make([]storage.Post, 0, len(posts))
	for _, p := range posts {
		if p.AuthorID == viewerID || p.IsRepost() {
			continue
		}
		if _, ok := blockedSet[p.AuthorID]; ok {
			continue
		}
		out = append(out, p)
	}
	return out
}
