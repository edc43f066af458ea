package storage

import (
	"context"
	"time"
)

// Post is a chirp as stored in the chirps table.
type Post struct {
	ID         int64     `json:"id"`
	AuthorID   string    `json:"author_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	ReplyToID  *int64    `json:"reply_to_id,omitempty"`
	RepostOfID *int64    `json:"repost_of_id,omitempty"`
}

// IsRepost reports whether the post re-shares another post.
func (p Post) IsRepost() bool {
	return p.RepostOfID != nil
}

// EmojiCount is an emoji together with how often a user reacted with it.
type EmojiCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// AuthorCount is an author together with how often a user reacted to them.
type AuthorCount struct {
	AuthorID string `json:"author_id"`
	Count    int    `json:"count"`
}

// RecentPostsQuery selects recent posts, newest first.
type RecentPostsQuery struct {
	Since          time.Time // zero means no lower bound
	ExcludeAuthor  string
	ExcludeAuthors []string
	AuthorIDs      []string // restrict to these authors when non-empty
	ExcludeReposts bool
	Limit          int
}

// TrendingQuery selects posts ordered by how many reactions they collected,
// then newest first.
type TrendingQuery struct {
	Since          time.Time // zero means all time
	ExcludeAuthor  string
	ExcludeAuthors []string
	ExcludeReposts bool
	Limit          int
}

// Store is the read side of the content store the feed ranking needs.
type Store interface {
	RecentPostsByAuthor(ctx context.Context, authorID string, since time.Time, limit int) ([]Post, error)
	TopEmojisByUser(ctx context.Context, userID string, since time.Time, limit int) ([]EmojiCount, error)
	AuthorsReactedToByUser(ctx context.Context, userID string, since time.Time, excludeSelf bool, limit int) ([]AuthorCount, error)
	RecentPosts(ctx context.Context, q RecentPostsQuery) ([]Post, error)
	TrendingPosts(ctx context.Context, q TrendingQuery) ([]Post, error)
	FollowedAuthorIDs(ctx context.Context, userID string) ([]string, error)
	BlockedUserIDs(ctx context.Context, userID string) ([]string, error)
	ReactionCounts(ctx context.Context, postIDs []int64) (map[int64]map[string]int, error)
	UserReactions(ctx context.Context, userID string, postIDs []int64) (map[int64]string, error)
	Ping(ctx context.Context) error
	Close() error
}
