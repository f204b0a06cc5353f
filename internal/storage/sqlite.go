package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"rss_relay/internal/model"
	"rss_relay/migrations"
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
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
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

// MarkSent records that a post has been delivered. Marking twice is a no-op.
func (s *SQLite) MarkSent(ctx context.Context, tid int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sent_posts (tid, sent_at) VALUES (?, ?)`,
		tid, now(),
	)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// IsSent checks whether a post has already been delivered.
func (s *SQLite) IsSent(ctx context.Context, tid int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sent_posts WHERE tid = ?`, tid,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check sent: %w", err)
	}
	return count > 0, nil
}

// CountSent returns the size of the sent-set.
func (s *SQLite) CountSent(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sent_posts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sent: %w", err)
	}
	return count, nil
}

// ImportSent union-merges tids into the sent-set and reports how many were new.
func (s *SQLite) ImportSent(ctx context.Context, tids []int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := now()
	added := 0
	for _, tid := range tids {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO sent_posts (tid, sent_at) VALUES (?, ?)`, tid, ts,
		)
		if err != nil {
			return 0, fmt.Errorf("import tid %d: %w", tid, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		added += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

// SavePending stores a post awaiting moderation. It reports false when the
// post was already pending or has already been sent.
func (s *SQLite) SavePending(ctx context.Context, post model.Post) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pending_posts (tid, link, title, author, description, first_seen_at, last_check_at, checks)
		 SELECT ?, ?, ?, ?, ?, ?, ?, 1
		 WHERE NOT EXISTS (SELECT 1 FROM sent_posts WHERE tid = ?)`,
		post.TID, post.Link, post.Title, post.Author, post.Description, now(), now(), post.TID,
	)
	if err != nil {
		return false, fmt.Errorf("save pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListPending returns all pending posts ordered by TID.
func (s *SQLite) ListPending(ctx context.Context) ([]model.PendingPost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tid, link, title, author, description, first_seen_at, last_check_at, checks
		 FROM pending_posts ORDER BY tid`,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var posts []model.PendingPost
	for rows.Next() {
		var p model.PendingPost
		var firstSeen string
		var lastCheck sql.NullString
		err := rows.Scan(&p.TID, &p.Link, &p.Title, &p.Author, &p.Description, &firstSeen, &lastCheck, &p.Checks)
		if err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		p.FirstSeenAt, _ = time.Parse(timeLayout, firstSeen)
		if lastCheck.Valid {
			t, _ := time.Parse(timeLayout, lastCheck.String)
			p.LastCheckAt = &t
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// TouchPending records another moderation check of a pending post.
func (s *SQLite) TouchPending(ctx context.Context, tid int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_posts SET checks = checks + 1, last_check_at = ? WHERE tid = ?`,
		now(), tid,
	)
	if err != nil {
		return fmt.Errorf("touch pending: %w", err)
	}
	return requireAffected(res, "pending post", tid)
}

// DeletePending drops a post from the pending-set.
func (s *SQLite) DeletePending(ctx context.Context, tid int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_posts WHERE tid = ?`, tid)
	if err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	return nil
}

// PromotePending moves a pending post into the sent-set.
func (s *SQLite) PromotePending(ctx context.Context, tid int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sent_posts (tid, sent_at) VALUES (?, ?)`, tid, now(),
	); err != nil {
		return fmt.Errorf("insert sent: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_posts WHERE tid = ?`, tid); err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	return tx.Commit()
}

// CreateFilter inserts a new filter and populates its ID and CreatedAt.
func (s *SQLite) CreateFilter(ctx context.Context, f *model.Filter) error {
	ts := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO filters (kind, scope, value, created_at) VALUES (?, ?, ?, ?)`,
		string(f.Kind), string(f.Scope), f.Value, ts,
	)
	if err != nil {
		return fmt.Errorf("insert filter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	f.ID = id
	f.CreatedAt, _ = time.Parse(timeLayout, ts)
	return nil
}

// ListFilters returns all filters ordered by ID.
func (s *SQLite) ListFilters(ctx context.Context) ([]model.Filter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, scope, value, created_at FROM filters ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query filters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var filters []model.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

// GetFilter returns a single filter by its ID.
func (s *SQLite) GetFilter(ctx context.Context, id int64) (*model.Filter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, scope, value, created_at FROM filters WHERE id = ?`, id,
	)
	f, err := scanFilter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("filter %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// DeleteFilter removes a filter by its ID.
func (s *SQLite) DeleteFilter(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM filters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete filter: %w", err)
	}
	return requireAffected(res, "filter", id)
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

func requireAffected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFilter(row scannable) (model.Filter, error) {
	var f model.Filter
	var kindStr, scopeStr, createdStr string
	err := row.Scan(&f.ID, &kindStr, &scopeStr, &f.Value, &createdStr)
	if err != nil {
		return f, fmt.Errorf("scan filter: %w", err)
	}
	f.Kind = model.FilterKind(kindStr)
	f.Scope = model.FilterScope(scopeStr)
	f.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	return f, nil
}
