package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"reddit_watcher/internal/model"
	"reddit_watcher/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// NormalizeKeyword returns the canonical form a keyword is stored under.
func NormalizeKeyword(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// GetOrCreateKeyword inserts a keyword if its normalized text is new and
// returns the stored row either way.
func (s *SQLite) GetOrCreateKeyword(ctx context.Context, text string) (*model.Keyword, error) {
	norm := NormalizeKeyword(text)
	if norm == "" {
		return nil, fmt.Errorf("empty keyword")
	}

	now := time.Now().UTC().Format(timeLayout)
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO keywords (keyword, created_at) VALUES (?, ?)`,
		norm, now,
	); err != nil {
		return nil, fmt.Errorf("insert keyword: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, keyword, created_at FROM keywords WHERE keyword = ?`, norm,
	)
	var k model.Keyword
	var created string
	if err := row.Scan(&k.ID, &k.Text, &created); err != nil {
		return nil, fmt.Errorf("scan keyword: %w", err)
	}
	k.CreatedAt, _ = time.Parse(timeLayout, created)
	return &k, nil
}

// DeleteKeyword removes a keyword and severs its match links. Persisted
// matches that cited the keyword are left untouched.
func (s *SQLite) DeleteKeyword(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM match_keywords WHERE keyword_id = ?`, id); err != nil {
		return fmt.Errorf("delete match links: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM keywords WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete keyword: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// ListKeywords returns all keywords, optionally filtered by a substring query.
func (s *SQLite) ListKeywords(ctx context.Context, query string) ([]model.Keyword, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if query != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, keyword, created_at FROM keywords WHERE keyword LIKE ? ORDER BY id DESC`,
			"%"+NormalizeKeyword(query)+"%",
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, keyword, created_at FROM keywords ORDER BY id DESC`,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keywords []model.Keyword
	for rows.Next() {
		var k model.Keyword
		var created string
		if err := rows.Scan(&k.ID, &k.Text, &created); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		k.CreatedAt, _ = time.Parse(timeLayout, created)
		keywords = append(keywords, k)
	}
	return keywords, rows.Err()
}

// RecordIfNew atomically records an external id in the dedup ledger and
// reports whether this call was the first to see it.
func (s *SQLite) RecordIfNew(ctx context.Context, externalID string, kind model.ItemKind) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_items (external_id, kind, seen_at) VALUES (?, ?, ?)`,
		externalID, string(kind), now,
	)
	if err != nil {
		return false, fmt.Errorf("record seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// CreateMatch persists a match and its keyword links in one transaction
// and populates its ID and CreatedAt. A duplicate external id is not an
// error: the existing row's id is loaded instead and the keyword links
// are merged.
func (s *SQLite) CreateMatch(ctx context.Context, m *model.Match) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO matches (external_id, url, subreddit, kind, title, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ExternalID, m.URL, m.Subreddit, string(m.Kind), m.Title, m.Body, now,
	)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		m.ID = id
		m.CreatedAt, _ = time.Parse(timeLayout, now)
	} else {
		row := tx.QueryRowContext(ctx,
			`SELECT id, created_at FROM matches WHERE external_id = ?`, m.ExternalID,
		)
		var created string
		if err := row.Scan(&m.ID, &created); err != nil {
			return fmt.Errorf("load existing match: %w", err)
		}
		m.CreatedAt, _ = time.Parse(timeLayout, created)
	}

	for _, kid := range m.KeywordIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO match_keywords (match_id, keyword_id) VALUES (?, ?)`,
			m.ID, kid,
		); err != nil {
			return fmt.Errorf("link keyword: %w", err)
		}
	}

	return tx.Commit()
}

const matchColumns = `m.id, m.external_id, m.url, m.subreddit, m.kind, m.title, m.body, m.created_at,
	COALESCE(GROUP_CONCAT(k.keyword, ','), '') AS keywords`

// ListMatches returns matches ordered newest first, filtered and paged.
func (s *SQLite) ListMatches(ctx context.Context, f MatchFilter) ([]model.Match, error) {
	base := `SELECT ` + matchColumns + `
		FROM matches m
		LEFT JOIN match_keywords mk ON mk.match_id = m.id
		LEFT JOIN keywords k ON k.id = mk.keyword_id`

	var where []string
	var params []any

	if f.KeywordID != 0 {
		where = append(where, `m.id IN (SELECT match_id FROM match_keywords WHERE keyword_id = ?)`)
		params = append(params, f.KeywordID)
	} else if f.Keyword != "" {
		where = append(where, `m.id IN (SELECT mk2.match_id FROM match_keywords mk2
			JOIN keywords k2 ON k2.id = mk2.keyword_id WHERE k2.keyword = ?)`)
		params = append(params, NormalizeKeyword(f.Keyword))
	}
	if f.Subreddit != "" {
		where = append(where, `m.subreddit = ?`)
		params = append(params, f.Subreddit)
	}
	if f.Kind != "" {
		where = append(where, `m.kind = ?`)
		params = append(params, string(f.Kind))
	}
	if !f.From.IsZero() {
		where = append(where, `m.created_at >= ?`)
		params = append(params, f.From.UTC().Format(timeLayout))
	}
	if !f.To.IsZero() {
		where = append(where, `m.created_at <= ?`)
		params = append(params, f.To.UTC().Format(timeLayout))
	}

	if len(where) > 0 {
		base += ` WHERE ` + strings.Join(where, ` AND `)
	}
	base += ` GROUP BY m.id ORDER BY m.created_at DESC, m.id DESC`

	size := f.Size
	if size <= 0 {
		size = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	base += ` LIMIT ? OFFSET ?`
	params = append(params, size, (page-1)*size)

	rows, err := s.db.QueryContext(ctx, base, params...)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// CreateDelivery records a successful direct-post delivery and populates
// its ID and DeliveredAt.
func (s *SQLite) CreateDelivery(ctx context.Context, d *model.Delivery) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (match_id, message_id, channel_id, guild_id, delivered_at)
		 VALUES (?, ?, ?, ?, ?)`,
		d.MatchID, d.MessageID, d.ChannelID, d.GuildID, now,
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	d.ID = id
	d.DeliveredAt, _ = time.Parse(timeLayout, now)
	return nil
}

// MatchIDByMessageID resolves a messaging-target message id to the match
// it delivered. Returns ErrNotFound for unknown message ids.
func (s *SQLite) MatchIDByMessageID(ctx context.Context, messageID string) (int64, error) {
	var matchID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT match_id FROM deliveries WHERE message_id = ?`, messageID,
	).Scan(&matchID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query delivery: %w", err)
	}
	return matchID, nil
}

// CreateReply records an inbound reply and populates its ID and CreatedAt.
func (s *SQLite) CreateReply(ctx context.Context, r *model.Reply) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO replies (match_id, message_id, author_id, author_name, content, url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.MatchID, r.MessageID, r.AuthorID, r.AuthorName, r.Content, r.URL, now,
	)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	r.ID = id
	r.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListRepliesByMatch returns all replies for a match, newest first.
func (s *SQLite) ListRepliesByMatch(ctx context.Context, matchID int64) ([]model.Reply, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, match_id, message_id, author_id, author_name, content, url, created_at
		 FROM replies WHERE match_id = ? ORDER BY created_at DESC, id DESC`, matchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query replies: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanReplies(rows)
}

// ListReplies returns replies joined with their matches, newest first.
func (s *SQLite) ListReplies(ctx context.Context, f ReplyFilter) ([]ReplyDetail, error) {
	base := `SELECT r.id, r.match_id, r.message_id, r.author_id, r.author_name, r.content, r.url, r.created_at,
		m.id, m.external_id, m.url, m.subreddit, m.kind, m.title, m.body, m.created_at,
		COALESCE((SELECT GROUP_CONCAT(k.keyword, ',') FROM match_keywords mk
			JOIN keywords k ON k.id = mk.keyword_id WHERE mk.match_id = m.id), '') AS keywords
		FROM replies r
		JOIN matches m ON m.id = r.match_id`

	var where []string
	var params []any

	if f.KeywordID != 0 {
		where = append(where, `EXISTS (SELECT 1 FROM match_keywords mk2 WHERE mk2.match_id = m.id AND mk2.keyword_id = ?)`)
		params = append(params, f.KeywordID)
	} else if f.Keyword != "" {
		where = append(where, `EXISTS (SELECT 1 FROM match_keywords mk2
			JOIN keywords k2 ON k2.id = mk2.keyword_id WHERE mk2.match_id = m.id AND k2.keyword = ?)`)
		params = append(params, NormalizeKeyword(f.Keyword))
	}
	if f.Subreddit != "" {
		where = append(where, `m.subreddit = ?`)
		params = append(params, f.Subreddit)
	}
	if f.Kind != "" {
		where = append(where, `m.kind = ?`)
		params = append(params, string(f.Kind))
	}
	if !f.From.IsZero() {
		where = append(where, `r.created_at >= ?`)
		params = append(params, f.From.UTC().Format(timeLayout))
	}
	if !f.To.IsZero() {
		where = append(where, `r.created_at <= ?`)
		params = append(params, f.To.UTC().Format(timeLayout))
	}

	if len(where) > 0 {
		base += ` WHERE ` + strings.Join(where, ` AND `)
	}
	base += ` ORDER BY r.created_at DESC, r.id DESC`

	size := f.Size
	if size <= 0 {
		size = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	base += ` LIMIT ? OFFSET ?`
	params = append(params, size, (page-1)*size)

	rows, err := s.db.QueryContext(ctx, base, params...)
	if err != nil {
		return nil, fmt.Errorf("query replies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var details []ReplyDetail
	for rows.Next() {
		var d ReplyDetail
		var replyCreated, matchCreated, kindStr, keywords string
		err := rows.Scan(
			&d.Reply.ID, &d.Reply.MatchID, &d.Reply.MessageID, &d.Reply.AuthorID,
			&d.Reply.AuthorName, &d.Reply.Content, &d.Reply.URL, &replyCreated,
			&d.Match.ID, &d.Match.ExternalID, &d.Match.URL, &d.Match.Subreddit,
			&kindStr, &d.Match.Title, &d.Match.Body, &matchCreated, &keywords,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reply detail: %w", err)
		}
		d.Reply.CreatedAt, _ = time.Parse(timeLayout, replyCreated)
		d.Match.Kind = model.ItemKind(kindStr)
		d.Match.CreatedAt, _ = time.Parse(timeLayout, matchCreated)
		d.Match.Keywords = splitKeywords(keywords)
		details = append(details, d)
	}
	return details, rows.Err()
}

// KeywordStats aggregates match, post, comment and reply counts per keyword.
func (s *SQLite) KeywordStats(ctx context.Context) ([]KeywordStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT k.id, k.keyword, k.created_at,
			COUNT(mk.match_id) AS matches_count,
			COALESCE(SUM(CASE WHEN m.kind = 'post' THEN 1 ELSE 0 END), 0) AS posts_count,
			COALESCE(SUM(CASE WHEN m.kind = 'comment' THEN 1 ELSE 0 END), 0) AS comments_count,
			COALESCE((SELECT COUNT(*) FROM replies r
				JOIN match_keywords mk2 ON mk2.match_id = r.match_id
				WHERE mk2.keyword_id = k.id), 0) AS replies_count
		FROM keywords k
		LEFT JOIN match_keywords mk ON mk.keyword_id = k.id
		LEFT JOIN matches m ON m.id = mk.match_id
		GROUP BY k.id
		ORDER BY k.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query keyword stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []KeywordStat
	for rows.Next() {
		var st KeywordStat
		var created string
		err := rows.Scan(&st.Keyword.ID, &st.Keyword.Text, &created,
			&st.Matches, &st.Posts, &st.Comments, &st.Replies)
		if err != nil {
			return nil, fmt.Errorf("scan keyword stat: %w", err)
		}
		st.Keyword.CreatedAt, _ = time.Parse(timeLayout, created)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// RecentActivity returns the latest matches annotated with reply counts.
func (s *SQLite) RecentActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+matchColumns+`,
			COALESCE(rc.reply_count, 0),
			COALESCE(rc.last_reply_at, '')
		FROM matches m
		LEFT JOIN match_keywords mk ON mk.match_id = m.id
		LEFT JOIN keywords k ON k.id = mk.keyword_id
		LEFT JOIN (
			SELECT match_id, COUNT(*) AS reply_count, MAX(created_at) AS last_reply_at
			FROM replies GROUP BY match_id
		) rc ON rc.match_id = m.id
		GROUP BY m.id
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		var created, kindStr, keywords, lastReply string
		err := rows.Scan(&e.Match.ID, &e.Match.ExternalID, &e.Match.URL, &e.Match.Subreddit,
			&kindStr, &e.Match.Title, &e.Match.Body, &created, &keywords,
			&e.ReplyCount, &lastReply)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Match.Kind = model.ItemKind(kindStr)
		e.Match.CreatedAt, _ = time.Parse(timeLayout, created)
		e.Match.Keywords = splitKeywords(keywords)
		if lastReply != "" {
			e.LastReplyAt, _ = time.Parse(timeLayout, lastReply)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMatch(row scannable) (model.Match, error) {
	var m model.Match
	var kindStr, created, keywords string
	err := row.Scan(&m.ID, &m.ExternalID, &m.URL, &m.Subreddit, &kindStr,
		&m.Title, &m.Body, &created, &keywords)
	if err != nil {
		return m, fmt.Errorf("scan match: %w", err)
	}
	m.Kind = model.ItemKind(kindStr)
	m.CreatedAt, _ = time.Parse(timeLayout, created)
	m.Keywords = splitKeywords(keywords)
	return m, nil
}

func scanReplies(rows *sql.Rows) ([]model.Reply, error) {
	var replies []model.Reply
	for rows.Next() {
		var r model.Reply
		var created string
		err := rows.Scan(&r.ID, &r.MatchID, &r.MessageID, &r.AuthorID,
			&r.AuthorName, &r.Content, &r.URL, &created)
		if err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		r.CreatedAt, _ = time.Parse(timeLayout, created)
		replies = append(replies, r)
	}
	return replies, rows.Err()
}

func splitKeywords(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
