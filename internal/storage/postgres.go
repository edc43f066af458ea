package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"chirpfeed/internal/metrics"

	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	// Handle Railway-specific SSL configuration
	finalURL := adjustDatabaseURLForEnvironment(databaseURL)

	db, err := sql.Open("postgres", finalURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewPostgresStoreFromDB wraps an already opened connection pool. The schema
// is assumed to exist.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func adjustDatabaseURLForEnvironment(databaseURL string) string {
	// Railway PostgreSQL doesn't support SSL
	if os.Getenv("RAILWAY_ENVIRONMENT") != "" || strings.Contains(databaseURL, "railway.app") {
		// Parse the URL
		parsedURL, err := url.Parse(databaseURL)
		if err != nil {
			return databaseURL
		}

		// Set SSL mode to disable for Railway
		values := parsedURL.Query()
		values.Set("sslmode", "disable")
		parsedURL.RawQuery = values.Encode()
		return parsedURL.String()
	}

	return databaseURL
}

func (s *PostgresStore) initSchema() error {
	slog.Info("Initializing feed schema...")

	// chirps, reactions, follows and user_blocks mirror the application schema
	tables := []string{
		`CREATE TABLE IF NOT EXISTS chirps (
			id BIGSERIAL PRIMARY KEY,
			author_id VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			reply_to_id BIGINT REFERENCES chirps(id) ON DELETE CASCADE,
			repost_of_id BIGINT REFERENCES chirps(id) ON DELETE CASCADE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS reactions (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			chirp_id BIGINT NOT NULL REFERENCES chirps(id) ON DELETE CASCADE,
			emoji VARCHAR(32) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE(user_id, chirp_id)
		);`,
		`CREATE TABLE IF NOT EXISTS follows (
			id BIGSERIAL PRIMARY KEY,
			follower_id VARCHAR(255) NOT NULL,
			following_id VARCHAR(255) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE(follower_id, following_id)
		);`,
		`CREATE TABLE IF NOT EXISTS user_blocks (
			id BIGSERIAL PRIMARY KEY,
			blocker_id VARCHAR(255) NOT NULL,
			blocked_id VARCHAR(255) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE(blocker_id, blocked_id)
		);`,
	}
	// Step 1: Create tables
	for _, tableSQL := range tables {
		if _, err := s.db.Exec(tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	// Step 2: Create indexes (failures are logged, not fatal)
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_chirps_created_at ON chirps(created_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_chirps_author_created ON chirps(author_id, created_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_reactions_chirp ON reactions(chirp_id);",
		"CREATE INDEX IF NOT EXISTS idx_reactions_user_created ON reactions(user_id, created_at);",
		"CREATE INDEX IF NOT EXISTS idx_follows_follower ON follows(follower_id);",
		"CREATE INDEX IF NOT EXISTS idx_user_blocks_blocker ON user_blocks(blocker_id);",
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			slog.Warn("Failed to create index", "error", err, "sql", indexSQL)
		}
	}

	slog.Info("Feed schema initialized successfully")
	return nil
}

func (s *PostgresStore) RecentPostsByAuthor(ctx context.Context, authorID string, since time.Time, limit int) (posts []Post, err error) {
	defer observe("recent_posts_by_author", time.Now(), &err)

	query := `
		SELECT id, author_id, content, created_at, reply_to_id, repost_of_id
		FROM chirps
		WHERE author_id = $1 AND created_at > $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, authorID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get posts by author: %w", err)
	}
	defer rows.Close()

	return scanPosts(rows)
}

func (s *PostgresStore) TopEmojisByUser(ctx context.Context, userID string, since time.Time, limit int) (emojis []EmojiCount, err error) {
	defer observe("top_emojis_by_user", time.Now(), &err)

	// Ties go to the emoji used most recently
	query := `
		SELECT emoji, COUNT(*) AS reaction_count
		FROM reactions
		WHERE user_id = $1 AND created_at > $2
		GROUP BY emoji
		ORDER BY reaction_count DESC, MAX(created_at) DESC, emoji ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top emojis: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e EmojiCount
		if err := rows.Scan(&e.Emoji, &e.Count); err != nil {
			return nil, fmt.Errorf("failed to scan emoji count: %w", err)
		}
		emojis = append(emojis, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read emoji counts: %w", err)
	}

	return emojis, nil
}

func (s *PostgresStore) AuthorsReactedToByUser(ctx context.Context, userID string, since time.Time, excludeSelf bool, limit int) (authors []AuthorCount, err error) {
	defer observe("authors_reacted_to", time.Now(), &err)

	// Optionally drop reactions to the user's own chirps
	selfFilter := ""
	if excludeSelf {
		selfFilter = "AND c.author_id <> $1"
	}

	query := fmt.Sprintf(`
		SELECT c.author_id, COUNT(*) AS reaction_count
		FROM reactions r
		INNER JOIN chirps c ON c.id = r.chirp_id
		WHERE r.user_id = $1 AND r.created_at > $2 %s
		GROUP BY c.author_id
		ORDER BY reaction_count DESC, c.author_id ASC
		LIMIT $3
	`, selfFilter)

	rows, err := s.db.QueryContext(ctx, query, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get authors reacted to: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a AuthorCount
		if err := rows.Scan(&a.AuthorID, &a.Count); err != nil {
			return nil, fmt.Errorf("failed to scan author count: %w", err)
		}
		authors = append(authors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read author counts: %w", err)
	}

	return authors, nil
}

func (s *PostgresStore) RecentPosts(ctx context.Context, q RecentPostsQuery) (posts []Post, err error) {
	defer observe("recent_posts", time.Now(), &err)

	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	conditions := postConditions("", q, arg)

	// Build the query from whichever filters are set
	query := `
		SELECT id, author_id, content, created_at, reply_to_id, repost_of_id
		FROM chirps`
	if len(conditions) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conditions, " AND ")
	}
	query += "\n\t\tORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		query += "\n\t\tLIMIT " + arg(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent posts: %w", err)
	}
	defer rows.Close()

	return scanPosts(rows)
}

func (s *PostgresStore) TrendingPosts(ctx context.Context, q TrendingQuery) (posts []Post, err error) {
	defer observe("trending_posts", time.Now(), &err)

	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	conditions := postConditions("c.", RecentPostsQuery{
		Since:          q.Since,
		ExcludeAuthor:  q.ExcludeAuthor,
		ExcludeAuthors: q.ExcludeAuthors,
		ExcludeReposts: q.ExcludeReposts,
	}, arg)

	// Count reactions in the same query so posts without any still qualify
	query := `
		SELECT c.id, c.author_id, c.content, c.created_at, c.reply_to_id, c.repost_of_id
		FROM chirps c
		LEFT JOIN reactions r ON r.chirp_id = c.id`
	if len(conditions) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conditions, " AND ")
	}
	query += "\n\t\tGROUP BY c.id"
	query += "\n\t\tORDER BY COUNT(r.id) DESC, c.created_at DESC, c.id DESC"
	if q.Limit > 0 {
		query += "\n\t\tLIMIT " + arg(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get trending posts: %w", err)
	}
	defer rows.Close()

	return scanPosts(rows)
}

// postConditions renders the filters of q against the chirps columns,
// qualified by prefix. arg binds a value and returns its placeholder.
func postConditions(prefix string, q RecentPostsQuery, arg func(interface{}) string) []string {
	var conditions []string
	if !q.Since.IsZero() {
		conditions = append(conditions, prefix+"created_at > "+arg(q.Since))
	}
	if q.ExcludeAuthor != "" {
		conditions = append(conditions, prefix+"author_id <> "+arg(q.ExcludeAuthor))
	}
	if len(q.ExcludeAuthors) > 0 {
		conditions = append(conditions, "NOT ("+prefix+"author_id = ANY("+arg(pq.Array(q.ExcludeAuthors))+"))")
	}
	if len(q.AuthorIDs) > 0 {
		conditions = append(conditions, prefix+"author_id = ANY("+arg(pq.Array(q.AuthorIDs))+")")
	}
	if q.ExcludeReposts {
		conditions = append(conditions, prefix+"repost_of_id IS NULL")
	}
	return conditions
}

func (s *PostgresStore) FollowedAuthorIDs(ctx context.Context, userID string) (ids []string, err error) {
	defer observe("followed_authors", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT following_id
		FROM follows
		WHERE follower_id = $1
		ORDER BY following_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get followed authors: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

func (s *PostgresStore) BlockedUserIDs(ctx context.Context, userID string) (ids []string, err error) {
	defer observe("blocked_users", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT blocked_id
		FROM user_blocks
		WHERE blocker_id = $1
		ORDER BY blocked_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get blocked users: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

func (s *PostgresStore) ReactionCounts(ctx context.Context, postIDs []int64) (counts map[int64]map[string]int, err error) {
	counts = make(map[int64]map[string]int)
	if len(postIDs) == 0 {
		return counts, nil
	}
	defer observe("reaction_counts", time.Now(), &err)

	// One grouped query for the whole batch
	rows, err := s.db.QueryContext(ctx, `
		SELECT chirp_id, emoji, COUNT(*)
		FROM reactions
		WHERE chirp_id = ANY($1)
		GROUP BY chirp_id, emoji
	`, pq.Array(postIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get reaction counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var postID int64
		var emoji string
		var n int
		if err := rows.Scan(&postID, &emoji, &n); err != nil {
			return nil, fmt.Errorf("failed to scan reaction count: %w", err)
		}
		if counts[postID] == nil {
			counts[postID] = make(map[string]int)
		}
		counts[postID][emoji] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reaction counts: %w", err)
	}

	return counts, nil
}

func (s *PostgresStore) UserReactions(ctx context.Context, userID string, postIDs []int64) (reactions map[int64]string, err error) {
	reactions = make(map[int64]string)
	if len(postIDs) == 0 {
		return reactions, nil
	}
	defer observe("user_reactions", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT chirp_id, emoji
		FROM reactions
		WHERE user_id = $1 AND chirp_id = ANY($2)
		ORDER BY created_at ASC, id ASC
	`, userID, pq.Array(postIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get user reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var postID int64
		var emoji string
		if err := rows.Scan(&postID, &emoji); err != nil {
			return nil, fmt.Errorf("failed to scan user reaction: %w", err)
		}
		// Oldest reaction wins when a user reacted more than once
		if _, seen := reactions[postID]; !seen {
			reactions[postID] = emoji
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user reactions: %w", err)
	}

	return reactions, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanPosts(rows *sql.Rows) ([]Post, error) {
	var posts []Post
	for rows.Next() {
		var p Post
		// reply_to_id and repost_of_id are nullable
		var replyTo, repostOf sql.NullInt64
		err := rows.Scan(&p.ID, &p.AuthorID, &p.Content, &p.CreatedAt, &replyTo, &repostOf)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		if replyTo.Valid {
			id := replyTo.Int64
			p.ReplyToID = &id
		}
		if repostOf.Valid {
			id := repostOf.Int64
			p.RepostOfID = &id
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read posts: %w", err)
	}
	return posts, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ids: %w", err)
	}
	return out, nil
}

// observe records one database operation; err is read after the call returns.
func observe(operation string, start time.Time, err *error) {
	status := "success"
	if *err != nil {
		status = "error"
	}
	metrics.DatabaseOperations.WithLabelValues(operation, status).Inc()
	metrics.DatabaseOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
