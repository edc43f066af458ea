package ranking

import (
	"context"
	"sort"
	"sync"
	"time"

	"chirpfeed/internal/storage"
)

var testNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func hoursAgo(h float64) time.Time {
	return testNow.Add(-time.Duration(h * float64(time.Hour)))
}

type fakeReaction struct {
	UserID    string
	PostID    int64
	Emoji     string
	CreatedAt time.Time
}

// memoryStore is an in-memory storage.Store that applies the same filters
// the Postgres queries do.
type memoryStore struct {
	mu        sync.Mutex
	posts     []storage.Post
	reactions []fakeReaction
	follows   map[string][]string
	blocks    map[string][]string
	errs      map[string]error

	// waitForCancel makes RecentPosts block until ctx ends.
	waitForCancel bool

	reactionCountCalls [][]int64
	userReactionCalls  [][]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		follows: make(map[string][]string),
		blocks:  make(map[string][]string),
		errs:    make(map[string]error),
	}
}

func (m *memoryStore) addPost(id int64, author, content string, createdAt time.Time) storage.Post {
	p := storage.Post{ID: id, AuthorID: author, Content: content, CreatedAt: createdAt}
	m.posts = append(m.posts, p)
	return p
}

func (m *memoryStore) addRepost(id int64, author string, of int64, createdAt time.Time) {
	m.posts = append(m.posts, storage.Post{ID: id, AuthorID: author, CreatedAt: createdAt, RepostOfID: &of})
}

func (m *memoryStore) react(user string, postID int64, emoji string, createdAt time.Time) {
	m.reactions = append(m.reactions, fakeReaction{UserID: user, PostID: postID, Emoji: emoji, CreatedAt: createdAt})
}

func (m *memoryStore) post(id int64) (storage.Post, bool) {
	for _, p := range m.posts {
		if p.ID == id {
			return p, true
		}
	}
	return storage.Post{}, false
}

func newestFirst(posts []storage.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return posts[i].ID > posts[j].ID
	})
}

func (m *memoryStore) RecentPostsByAuthor(ctx context.Context, authorID string, since time.Time, limit int) ([]storage.Post, error) {
	if err := m.errs["RecentPostsByAuthor"]; err != nil {
		return nil, err
	}
	var out []storage.Post
	for _, p := range m.posts {
		if p.AuthorID == authorID && p.CreatedAt.After(since) {
			out = append(out, p)
		}
	}
	newestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) TopEmojisByUser(ctx context.Context, userID string, since time.Time, limit int) ([]storage.EmojiCount, error) {
	if err := m.errs["TopEmojisByUser"]; err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	latest := make(map[string]time.Time)
	for _, r := range m.reactions {
		if r.UserID != userID || !r.CreatedAt.After(since) {
			continue
		}
		counts[r.Emoji]++
		if r.CreatedAt.After(latest[r.Emoji]) {
			latest[r.Emoji] = r.CreatedAt
		}
	}

	out := make([]storage.EmojiCount, 0, len(counts))
	for emoji, n := range counts {
		out = append(out, storage.EmojiCount{Emoji: emoji, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if !latest[out[i].Emoji].Equal(latest[out[j].Emoji]) {
			return latest[out[i].Emoji].After(latest[out[j].Emoji])
		}
		return out[i].Emoji < out[j].Emoji
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) AuthorsReactedToByUser(ctx context.Context, userID string, since time.Time, excludeSelf bool, limit int) ([]storage.AuthorCount, error) {
	if err := m.errs["AuthorsReactedToByUser"]; err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, r := range m.reactions {
		if r.UserID != userID || !r.CreatedAt.After(since) {
			continue
		}
		p, ok := m.post(r.PostID)
		if !ok || (excludeSelf && p.AuthorID == userID) {
			continue
		}
		counts[p.AuthorID]++
	}

	out := make([]storage.AuthorCount, 0, len(counts))
	for author, n := range counts {
		out = append(out, storage.AuthorCount{AuthorID: author, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].AuthorID < out[j].AuthorID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) RecentPosts(ctx context.Context, q storage.RecentPostsQuery) ([]storage.Post, error) {
	if m.waitForCancel {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := m.errs["RecentPosts"]; err != nil {
		return nil, err
	}

	excluded := toSet(q.ExcludeAuthors)
	only := toSet(q.AuthorIDs)
	var out []storage.Post
	for _, p := range m.posts {
		if !q.Since.IsZero() && !p.CreatedAt.After(q.Since) {
			continue
		}
		if q.ExcludeAuthor != "" && p.AuthorID == q.ExcludeAuthor {
			continue
		}
		if _, ok := excluded[p.AuthorID]; ok {
			continue
		}
		if _, ok := only[p.AuthorID]; len(only) > 0 && !ok {
			continue
		}
		if q.ExcludeReposts && p.IsRepost() {
			continue
		}
		out = append(out, p)
	}
	newestFirst(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memoryStore) TrendingPosts(ctx context.Context, q storage.TrendingQuery) ([]storage.Post, error) {
	if err := m.errs["TrendingPosts"]; err != nil {
		return nil, err
	}

	posts, _ := m.RecentPosts(ctx, storage.RecentPostsQuery{
		Since:          q.Since,
		ExcludeAuthor:  q.ExcludeAuthor,
		ExcludeAuthors: q.ExcludeAuthors,
		ExcludeReposts: q.ExcludeReposts,
	})
	counts := make(map[int64]int)
	for _, r := range m.reactions {
		counts[r.PostID]++
	}
	// posts is newest first already, so a stable sort keeps that for ties
	sort.SliceStable(posts, func(i, j int) bool {
		return counts[posts[i].ID] > counts[posts[j].ID]
	})
	if q.Limit > 0 && len(posts) > q.Limit {
		posts = posts[:q.Limit]
	}
	return posts, nil
}

func (m *memoryStore) FollowedAuthorIDs(ctx context.Context, userID string) ([]string, error) {
	if err := m.errs["FollowedAuthorIDs"]; err != nil {
		return nil, err
	}
	return m.follows[userID], nil
}

func (m *memoryStore) BlockedUserIDs(ctx context.Context, userID string) ([]string, error) {
	if err := m.errs["BlockedUserIDs"]; err != nil {
		return nil, err
	}
	return m.blocks[userID], nil
}

func (m *memoryStore) ReactionCounts(ctx context.Context, postIDs []int64) (map[int64]map[string]int, error) {
	m.mu.Lock()
	m.reactionCountCalls = append(m.reactionCountCalls, append([]int64(nil), postIDs...))
	m.mu.Unlock()

	if err := m.errs["ReactionCounts"]; err != nil {
		return nil, err
	}
	wanted := make(map[int64]bool, len(postIDs))
	for _, id := range postIDs {
		wanted[id] = true
	}
	counts := make(map[int64]map[string]int)
	for _, r := range m.reactions {
		if !wanted[r.PostID] {
			continue
		}
		if counts[r.PostID] == nil {
			counts[r.PostID] = make(map[string]int)
		}
		counts[r.PostID][r.Emoji]++
	}
	return counts, nil
}

func (m *memoryStore) UserReactions(ctx context.Context, userID string, postIDs []int64) (map[int64]string, error) {
	m.mu.Lock()
	m.userReactionCalls = append(m.userReactionCalls, append([]int64(nil), postIDs...))
	m.mu.Unlock()

	if err := m.errs["UserReactions"]; err != nil {
		return nil, err
	}
	wanted := make(map[int64]bool, len(postIDs))
	for _, id := range postIDs {
		wanted[id] = true
	}
	out := make(map[int64]string)
	for _, r := range m.reactions {
		if r.UserID == userID && wanted[r.PostID] {
			if _, seen := out[r.PostID]; !seen {
				out[r.PostID] = r.Emoji
			}
		}
	}
	return out, nil
}

func (m *memoryStore) Ping(ctx context.Context) error { return nil }

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) lastReactionCountCall() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reactionCountCalls) == 0 {
		return nil
	}
	return m.reactionCountCalls[len(m.reactionCountCalls)-1]
}
