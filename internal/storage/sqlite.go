package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "adbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite store, creating the database file and tables
// as needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadCooldown(ctx context.Context, actorID int64) (int64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, ErrClosed
	}
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_ad_time FROM ad_cooldowns WHERE actor_id = ?`, actorID).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return ms, true, nil
}

func (s *sqliteStore) SaveCooldown(ctx context.Context, actorID int64, lastMilli int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ad_cooldowns(actor_id, last_ad_time) VALUES(?,?)
		 ON CONFLICT(actor_id) DO UPDATE SET last_ad_time=excluded.last_ad_time`,
		actorID, lastMilli,
	)
	return err
}

func (s *sqliteStore) EnqueueReview(ctx context.Context, item ReviewItem) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	at := item.SubmittedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ad_review_queue(submitter_id, message, submitted_at) VALUES(?,?,?)`,
		item.SubmitterID, item.Message, at.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) PendingReviews(ctx context.Context, limit int) ([]ReviewItem, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, submitter_id, message, submitted_at
		 FROM ad_review_queue ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReviewItem
	for rows.Next() {
		var it ReviewItem
		var ms int64
		if err := rows.Scan(&it.ID, &it.SubmitterID, &it.Message, &ms); err != nil {
			return nil, err
		}
		it.SubmittedAt = time.UnixMilli(ms)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ResolveReview(ctx context.Context, id int64) (ReviewItem, bool, error) {
	if s == nil || s.db == nil {
		return ReviewItem{}, false, ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ReviewItem{}, false, err
	}
	defer tx.Rollback()

	var it ReviewItem
	var ms int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, submitter_id, message, submitted_at FROM ad_review_queue WHERE id = ?`, id).
		Scan(&it.ID, &it.SubmitterID, &it.Message, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return ReviewItem{}, false, nil
	}
	if err != nil {
		return ReviewItem{}, false, err
	}
	it.SubmittedAt = time.UnixMilli(ms)

	if _, err := tx.ExecContext(ctx, `DELETE FROM ad_review_queue WHERE id = ?`, id); err != nil {
		return ReviewItem{}, false, err
	}
	return it, true, tx.Commit()
}
