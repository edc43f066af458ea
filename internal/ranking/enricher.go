package ranking

import (
	"context"

	"chirpfeed/internal/storage"
)

// EnrichedPost is a ranked post ready for rendering.
type EnrichedPost struct {
	storage.Post
	Score          float64        `json:"score"`
	Reasons        []string       `json:"reasons"`
	Source         Source         `json:"source"`
	ReactionCount  int            `json:"reaction_count"`
	ReactionCounts map[string]int `json:"reaction_counts"`
	ViewerReacted  bool           `json:"viewer_reacted"`
	ViewerReaction string         `json:"viewer_reaction,omitempty"`
}

type Enricher struct {
	store storage.Store
}

func NewEnricher(store storage.Store) *Enricher {
	return &Enricher{store: store}
}

// Enrich attaches reaction totals and the viewer's own reaction to posts,
// in the order given. Reaction rows are fetched only for these posts.
func (e *Enricher) Enrich(ctx context.Context, viewerID string, posts []ScoredPost) ([]EnrichedPost, error) {
	out := make([]EnrichedPost, 0, len(posts))
	if len(posts) == 0 {
		return out, nil
	}

	ids := make([]int64, len(posts))
	for i, p := range posts {
		ids[i] = p.Post.ID
	}

	counts, err := e.store.ReactionCounts(ctx, ids)
	if err != nil {
		return nil, storeError("reaction counts", err)
	}

	mine, err := e.store.UserReactions(ctx, viewerID, ids)
	if err != nil {
		return nil, storeError("viewer reactions", err)
	}

	for _, p := range posts {
		byEmoji := make(map[string]int, len(counts[p.Post.ID]))
		total := 0
		for emoji, n := range counts[p.Post.ID] {
			byEmoji[emoji] = n
			total += n
		}

		own, reacted := mine[p.Post.ID]
		out = append(out, EnrichedPost{
			Post:           p.Post,
			Score:          p.Score.Score,
			Reasons:        p.Score.Reasons,
			Source:         p.Source,
			ReactionCount:  total,
			ReactionCounts: byEmoji,
			ViewerReacted:  reacted,
			ViewerReaction: own,
		})
	}

	return out, nil
}
