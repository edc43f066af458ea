package ranking

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func newTestEngine(store *memoryStore) *Engine {
	opts := DefaultOptions()
	opts.Clock = fixedClock
	return NewEngine(store, opts)
}

func feedIDs(feed []EnrichedPost) []int64 {
	ids := make([]int64, len(feed))
	for i, p := range feed {
		ids[i] = p.ID
	}
	return ids
}

func TestGetPersonalizedFeed_FavouriteAuthorRanksFirst(t *testing.T) {
	store := newMemoryStore()
	for i := int64(1); i <= 5; i++ {
		store.addPost(100+i, "x", "older post", hoursAgo(400))
		store.react("viewer", 100+i, "👍", hoursAgo(300))
	}
	for i := int64(1); i <= 9; i++ {
		store.addPost(i, fmt.Sprintf("other%d", i), "hello world", hoursAgo(10))
	}
	store.addPost(10, "x", "hello world", hoursAgo(10))

	feed, err := newTestEngine(store).GetPersonalizedFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("GetPersonalizedFeed returned error: %v", err)
	}
	if len(feed) != 10 {
		t.Fatalf("expected 10 posts, got %d", len(feed))
	}
	if feed[0].ID != 10 || feed[0].AuthorID != "x" {
		t.Fatalf("expected post by x first, got %d by %s", feed[0].ID, feed[0].AuthorID)
	}
	if feed[0].Source != SourcePersonalized {
		t.Errorf("expected personalized source, got %s", feed[0].Source)
	}
	if feed[0].Score <= feed[1].Score {
		t.Errorf("favourite author score %v should exceed %v", feed[0].Score, feed[1].Score)
	}
}

func TestGetPersonalizedFeed_NewerPostFirst(t *testing.T) {
	store := newMemoryStore()
	store.addPost(1, "alice", "same content here", hoursAgo(160))
	store.addPost(2, "alice", "same content here", hoursAgo(1))

	feed, err := newTestEngine(store).GetPersonalizedFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("GetPersonalizedFeed returned error: %v", err)
	}
	if got := feedIDs(feed); !reflect.DeepEqual(got, []int64{2, 1}) {
		t.Fatalf("expected [2 1], got %v", got)
	}
	if feed[0].Score <= feed[1].Score {
		t.Errorf("newer score %v should exceed older %v", feed[0].Score, feed[1].Score)
	}
}

func TestGetPersonalizedFeed_NewViewerGetsGlobalRecent(t *testing.T) {
	store := newMemoryStore()
	store.addPost(1, "alice", "last month", hoursAgo(24*20))
	store.addPost(2, "bob", "two weeks ago", hoursAgo(24*14))

	feed, err := newTestEngine(store).GetPersonalizedFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("GetPersonalizedFeed returned error: %v", err)
	}
	if got := feedIDs(feed); !reflect.DeepEqual(got, []int64{2, 1}) {
		t.Fatalf("expected global recent [2 1], got %v", got)
	}
	for _, p := range feed {
		if p.Source != SourceRecent {
			t.Errorf("post %d: expected recent source, got %s", p.ID, p.Source)
		}
	}
}

func TestGetPersonalizedFeed_EmptyPoolPrefersFollowedAuthors(t *testing.T) {
	store := newMemoryStore()
	store.follows["viewer"] = []string{"bob"}
	store.addPost(1, "alice", "old and unfollowed", hoursAgo(24*9))
	store.addPost(2, "bob", "old but followed", hoursAgo(24*10))
	store.addPost(3, "bob", "older and followed", hoursAgo(24*12))

	feed, err := newTestEngine(store).GetPersonalizedFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("GetPersonalizedFeed returned error: %v", err)
	}
	if got := feedIDs(feed); !reflect.DeepEqual(got, []int64{2, 3}) {
		t.Fatalf("expected followed posts [2 3], got %v", got)
	}
	if feed[0].Source != SourceFollowing {
		t.Errorf("expected following source, got %s", feed[0].Source)
	}
}

func TestGetPersonalizedFeed_EmptyStore(t *testing.T) {
	feed, err := newTestEngine(newMemoryStore()).GetPersonalizedFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("empty store should not be an error: %v", err)
	}
	if feed == nil || len(feed) != 0 {
		t.Fatalf("expected empty non-nil feed, got %v", feed)
	}
}

func TestGetPersonalizedFeed_Idempotent(t *testing.T) {
	store := newMemoryStore()
	store.follows["viewer"] = []string{"carol"}
	store.addPost(1, "viewer", "morning coffee with jazz", hoursAgo(30))
	store.addPost(2, "alice", "coffee and jazz tonight", hoursAgo(5))
	store.addPost(3, "bob", "football scores", hoursAgo(5))
	store.addPost(4, "carol", "new jazz record", hoursAgo(50))
	store.addPost(5, "dave", "random thoughts", hoursAgo(2))
	store.react("viewer", 3, "🔥", hoursAgo(4))
	store.react("alice", 4, "🔥", hoursAgo(4))

	engine := newTestEngine(store)
	first, err := engine.GetPersonalizedFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("first call returned error: %v", err)
	}
	second, err := engine.GetPersonalizedFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("second call returned error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("ranking is not reproducible:\n%v\n%v", feedIDs(first), feedIDs(second))
	}
}

func TestGetPersonalizedFeed_EmptyProfileIsPureRecency(t *testing.T) {
	store := newMemoryStore()
	ages := []float64{90, 3, 150, 3, 40, 120, 0.5, 77}
	for i, age := range ages {
		store.addPost(int64(i+1), fmt.Sprintf("author%d", i), "shared words about coffee", hoursAgo(age))
	}
	store.react("someone", 3, "🔥", hoursAgo(1))

	feed, err := newTestEngine(store).GetPersonalizedFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("GetPersonalizedFeed returned error: %v", err)
	}

	// Newest first; equal timestamps break on the higher id.
	want := []int64{7, 4, 2, 5, 8, 1, 6, 3}
	if got := feedIDs(feed); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected recency order %v, got %v", want, got)
	}
	for _, p := range feed {
		if !approx(p.Score, recencyFactor(testNow.Sub(p.CreatedAt).Hours())*DefaultWeights().Recency) {
			t.Errorf("post %d: score %v is not recency only", p.ID, p.Score)
		}
	}
}

func TestGetPersonalizedFeed_NeverOwnPostsOrReposts(t *testing.T) {
	store := newMemoryStore()
	store.follows["viewer"] = []string{"viewer", "alice"}
	store.addPost(1, "viewer", "my own words", hoursAgo(1))
	store.addPost(2, "alice", "original", hoursAgo(2))
	store.addRepost(3, "alice", 2, hoursAgo(1))
	store.addRepost(4, "bob", 2, hoursAgo(1))
	store.addPost(5, "bob", "bob speaks", hoursAgo(3))

	engine := newTestEngine(store)
	check := func(name string, feed []EnrichedPost) {
		t.Helper()
		for _, p := range feed {
			if p.AuthorID == "viewer" {
				t.Errorf("%s: feed contains viewer's own post %d", name, p.ID)
			}
			if p.IsRepost() {
				t.Errorf("%s: feed contains repost %d", name, p.ID)
			}
		}
	}

	feed, err := engine.GetPersonalizedFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("GetPersonalizedFeed returned error: %v", err)
	}
	if got := feedIDs(feed); !reflect.DeepEqual(got, []int64{2, 5}) {
		t.Errorf("expected [2 5], got %v", got)
	}
	check("personalized", feed)

	// Push everything out of the candidate window to exercise the fallbacks.
	for i := range store.posts {
		store.posts[i].CreatedAt = store.posts[i].CreatedAt.Add(-30 * 24 * time.Hour)
	}
	feed, err = engine.GetPersonalizedFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("GetPersonalizedFeed returned error: %v", err)
	}
	if len(feed) == 0 || feed[0].Source != SourceFollowing {
		t.Fatalf("expected following fallback, got %v", feedIDs(feed))
	}
	check("following fallback", feed)

	store.follows["viewer"] = nil
	feed, err = engine.GetPersonalizedFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("GetPersonalizedFeed returned error: %v", err)
	}
	if len(feed) == 0 || feed[0].Source != SourceRecent {
		t.Fatalf("expected recent fallback, got %v", feedIDs(feed))
	}
	check("recent fallback", feed)
}

func TestGetPersonalizedFeed_ExcludesBlockedAuthors(t *testing.T) {
	store := newMemoryStore()
	store.blocks["viewer"] = []string{"troll"}
	store.addPost(1, "troll", "bait", hoursAgo(1))
	store.addPost(2, "alice", "hello", hoursAgo(2))

	feed, err := newTestEngine(store).GetPersonalizedFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("GetPersonalizedFeed returned error: %v", err)
	}
	if got := feedIDs(feed); !reflect.DeepEqual(got, []int64{2}) {
		t.Fatalf("expected [2], got %v", got)
	}
}

func TestGetPersonalizedFeed_ProfileFailureDegrades(t *testing.T) {
	store := newMemoryStore()
	store.addPost(1, "alice", "older", hoursAgo(20))
	store.addPost(2, "bob", "newer", hoursAgo(2))
	store.errs["TopEmojisByUser"] = errors.New("connection reset")

	feed, err := newTestEngine(store).GetPersonalizedFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("profile failure should degrade, got error: %v", err)
	}
	if got := feedIDs(feed); !reflect.DeepEqual(got, []int64{2, 1}) {
		t.Fatalf("expected recency order [2 1], got %v", got)
	}
}

func TestGetPersonalizedFeed_StoreFailures(t *testing.T) {
	for _, method := range []string{"RecentPosts", "FollowedAuthorIDs", "BlockedUserIDs", "ReactionCounts", "UserReactions"} {
		t.Run(method, func(t *testing.T) {
			store := newMemoryStore()
			store.addPost(1, "alice", "hello", hoursAgo(1))
			dbErr := errors.New("connection refused")
			store.errs[method] = dbErr

			feed, err := newTestEngine(store).GetPersonalizedFeed(context.Background(), "viewer", 20)
			if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, dbErr) {
				t.Fatalf("expected store unavailable wrapping %v, got %v", dbErr, err)
			}
			if errors.Is(err, ErrCanceled) {
				t.Errorf("store failure must not look like cancellation: %v", err)
			}
			if feed != nil {
				t.Errorf("expected no feed on failure, got %v", feedIDs(feed))
			}
		})
	}
}

func TestGetPersonalizedFeed_CanceledContext(t *testing.T) {
	store := newMemoryStore()
	store.addPost(1, "alice", "hello", hoursAgo(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	feed, err := newTestEngine(store).GetPersonalizedFeed(ctx, "viewer", 20)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if feed != nil {
		t.Fatalf("canceled call must not return a feed, got %v", feedIDs(feed))
	}
}

func TestGetPersonalizedFeed_TimeoutAbandonsStoreQuery(t *testing.T) {
	store := newMemoryStore()
	store.waitForCancel = true

	opts := DefaultOptions()
	opts.Clock = fixedClock
	opts.Timeout = 20 * time.Millisecond
	engine := NewEngine(store, opts)

	_, err := engine.GetPersonalizedFeed(context.Background(), "viewer", 20)
	if !errors.Is(err, ErrCanceled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected ErrCanceled wrapping deadline, got %v", err)
	}
}

func TestGetPersonalizedFeed_BatchesReactionLookups(t *testing.T) {
	store := newMemoryStore()
	for i := int64(1); i <= 6; i++ {
		store.addPost(i, fmt.Sprintf("author%d", i), "words", hoursAgo(float64(i)))
	}
	store.react("someone", 1, "🔥", hoursAgo(1))

	feed, err := newTestEngine(store).GetPersonalizedFeed(context.Background(), "viewer", 2)
	if err != nil {
		t.Fatalf("GetPersonalizedFeed returned error: %v", err)
	}

	if len(store.reactionCountCalls) != 2 {
		t.Fatalf("expected one pool lookup and one enrichment lookup, got %d calls", len(store.reactionCountCalls))
	}
	if len(store.reactionCountCalls[0]) != 6 {
		t.Errorf("pool lookup should cover all 6 candidates, got %v", store.reactionCountCalls[0])
	}
	if got := store.lastReactionCountCall(); !reflect.DeepEqual(got, feedIDs(feed)) {
		t.Errorf("enrichment should fetch exactly the final ids %v, got %v", feedIDs(feed), got)
	}
	if len(store.userReactionCalls) != 1 {
		t.Errorf("expected one viewer reaction lookup, got %d", len(store.userReactionCalls))
	}
}

func TestGetPersonalizedFeed_PageSize(t *testing.T) {
	store := newMemoryStore()
	for i := int64(1); i <= 150; i++ {
		store.addPost(i, fmt.Sprintf("author%d", i), "words", hoursAgo(float64(i)/2))
	}
	engine := newTestEngine(store)

	tests := []struct {
		requested int
		expected  int
	}{
		{requested: 0, expected: 20},
		{requested: -3, expected: 20},
		{requested: 5, expected: 5},
		{requested: 500, expected: 100},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("requested %d", tt.requested), func(t *testing.T) {
			feed, err := engine.GetPersonalizedFeed(context.Background(), "viewer", tt.requested)
			if err != nil {
				t.Fatalf("GetPersonalizedFeed returned error: %v", err)
			}
			if len(feed) != tt.expected {
				t.Errorf("expected %d posts, got %d", tt.expected, len(feed))
			}
		})
	}
}

func TestRecentFeed(t *testing.T) {
	store := newMemoryStore()
	store.blocks["viewer"] = []string{"troll"}
	store.addPost(1, "alice", "old", hoursAgo(24*40))
	store.addPost(2, "troll", "bait", hoursAgo(1))
	store.addPost(3, "viewer", "mine", hoursAgo(1))
	store.addPost(4, "bob", "new", hoursAgo(2))
	store.react("viewer", 4, "❤️", hoursAgo(1))

	feed, err := newTestEngine(store).RecentFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("RecentFeed returned error: %v", err)
	}
	if got := feedIDs(feed); !reflect.DeepEqual(got, []int64{4, 1}) {
		t.Fatalf("expected [4 1], got %v", got)
	}
	if !feed[0].ViewerReacted || feed[0].ViewerReaction != "❤️" || feed[0].ReactionCount != 1 {
		t.Errorf("unexpected enrichment: %+v", feed[0])
	}
}

func TestRecentFeed_BoundedByTimeout(t *testing.T) {
	store := newMemoryStore()
	store.waitForCancel = true

	opts := DefaultOptions()
	opts.Clock = fixedClock
	opts.Timeout = 20 * time.Millisecond

	_, err := NewEngine(store, opts).RecentFeed(context.Background(), "viewer", 20)
	if !errors.Is(err, ErrCanceled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected ErrCanceled wrapping deadline, got %v", err)
	}
}

func TestTrendingFeed(t *testing.T) {
	store := newMemoryStore()
	store.blocks["viewer"] = []string{"troll"}
	store.addPost(1, "alice", "quiet", hoursAgo(1))
	store.addPost(2, "bob", "popular", hoursAgo(30))
	store.addPost(3, "carol", "liked once", hoursAgo(5))
	store.addPost(4, "dave", "liked once, newer", hoursAgo(3))
	store.addPost(5, "troll", "bait", hoursAgo(2))
	store.addPost(6, "viewer", "mine", hoursAgo(2))
	store.addRepost(7, "erin", 2, hoursAgo(1))
	store.addPost(8, "frank", "old favourite", hoursAgo(24*10))
	for _, user := range []string{"u1", "u2", "u3"} {
		store.react(user, 2, "🔥", hoursAgo(20))
		store.react(user, 5, "🔥", hoursAgo(1))
		store.react(user, 6, "🔥", hoursAgo(1))
		store.react(user, 8, "🔥", hoursAgo(24*9))
	}
	store.react("u1", 3, "👍", hoursAgo(4))
	store.react("u2", 4, "👍", hoursAgo(2))

	feed, err := newTestEngine(store).TrendingFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("TrendingFeed returned error: %v", err)
	}
	if got := feedIDs(feed); !reflect.DeepEqual(got, []int64{2, 4, 3, 1}) {
		t.Fatalf("expected [2 4 3 1], got %v", got)
	}
	for _, p := range feed {
		if p.Source != SourceTrending {
			t.Errorf("post %d: expected trending source, got %s", p.ID, p.Source)
		}
	}
	if feed[0].ReactionCount != 3 {
		t.Errorf("expected 3 reactions on the top post, got %d", feed[0].ReactionCount)
	}
}

func TestTrendingFeed_WidensToAllTime(t *testing.T) {
	store := newMemoryStore()
	store.addPost(1, "alice", "ancient", hoursAgo(24*60))
	store.addPost(2, "bob", "old", hoursAgo(24*20))
	store.react("u1", 1, "🔥", hoursAgo(24*59))

	feed, err := newTestEngine(store).TrendingFeed(context.Background(), "viewer", 20)
	if err != nil {
		t.Fatalf("TrendingFeed returned error: %v", err)
	}
	if got := feedIDs(feed); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Fatalf("expected all-time order [1 2], got %v", got)
	}
}

func TestTrendingFeed_StoreFailure(t *testing.T) {
	store := newMemoryStore()
	store.addPost(1, "alice", "hello", hoursAgo(1))
	store.errs["TrendingPosts"] = errors.New("connection refused")

	_, err := newTestEngine(store).TrendingFeed(context.Background(), "viewer", 20)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
