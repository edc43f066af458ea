package ranking

import (
	"context"
	"log/slog"
	"sort"

	"chirpfeed/internal/logging"
	"chirpfeed/internal/metrics"
	"chirpfeed/internal/storage"
)

// EngagementProfile summarizes what a viewer has recently written and
// reacted to. It is rebuilt for every ranking call.
type EngagementProfile struct {
	ViewerID string   `json:"viewer_id"`
	Keywords []string `json:"keywords"`
	Emojis   []string `json:"emojis"`
	Authors  []string `json:"authors"`
}

// IsEmpty reports whether the profile carries no personalization signal.
func (p *EngagementProfile) IsEmpty() bool {
	return len(p.Keywords) == 0 && len(p.Emojis) == 0 && len(p.Authors) == 0
}

type ProfileBuilder struct {
	store storage.Store
	now   Clock
}

func NewProfileBuilder(store storage.Store, now Clock) *ProfileBuilder {
	return &ProfileBuilder{store: store, now: now}
}

// Build derives the viewer's profile from the last 30 days of activity. A
// store failure yields an empty profile so ranking falls back to recency;
// only cancellation of ctx is returned as an error.
func (b *ProfileBuilder) Build(ctx context.Context, viewerID string) (*EngagementProfile, error) {
	since := b.now().Add(-ProfileWindow)
	profile := &EngagementProfile{ViewerID: viewerID}

	posts, err := b.store.RecentPostsByAuthor(ctx, viewerID, since, ProfilePostLimit)
	if err != nil {
		return b.degrade(ctx, viewerID, "recent posts", err)
	}

	emojis, err := b.store.TopEmojisByUser(ctx, viewerID, since, MaxEmojis)
	if err != nil {
		return b.degrade(ctx, viewerID, "reactions", err)
	}

	authors, err := b.store.AuthorsReactedToByUser(ctx, viewerID, since, true, MaxAuthors)
	if err != nil {
		return b.degrade(ctx, viewerID, "reacted authors", err)
	}

	texts := make([]string, len(posts))
	for i, p := range posts {
		texts[i] = p.Content
	}
	profile.Keywords = ExtractKeywords(texts, MaxKeywords)
	profile.Emojis = emojiNames(emojis, MaxEmojis)
	profile.Authors = topAuthors(authors, viewerID, MaxAuthors)

	return profile, nil
}

func (b *ProfileBuilder) degrade(ctx context.Context, viewerID, source string, err error) (*EngagementProfile, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	logging.LoggerFromContext(ctx).Warn("Engagement profile degraded to empty",
		slog.String("viewer_id", viewerID),
		slog.String("source", source),
		slog.String("error", err.Error()))
	metrics.ProfileDegraded.Inc()

	return &EngagementProfile{ViewerID: viewerID}, nil
}

func emojiNames(emojis []storage.EmojiCount, limit int) []string {
	if len(emojis) > limit {
		emojis = emojis[:limit]
	}
	names := make([]string, len(emojis))
	for i, e := range emojis {
		names[i] = e.Emoji
	}
	return names
}

func topAuthors(authors []storage.AuthorCount, viewerID string, limit int) []string {
	ranked := make([]storage.AuthorCount, 0, len(authors))
	for _, a := range authors {
		if a.AuthorID != viewerID {
			ranked = append(ranked, a)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	ids := make([]string, len(ranked))
	for i, a := range ranked {
		ids[i] = a.AuthorID
	}
	return ids
}
