package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new Storage instance, opening/creating the DB and initializing schema
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates tables and indices if they don't exist.
// Timestamps are unix milliseconds.
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scrape_cache (
		url TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		is_minimum INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		domain TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		domain TEXT NOT NULL,
		strategy TEXT,
		headless INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		success INTEGER NOT NULL DEFAULT 0,
		job_count INTEGER NOT NULL DEFAULT 0,
		platform TEXT,
		language TEXT,
		cache_created INTEGER NOT NULL DEFAULT 0,
		from_cache INTEGER NOT NULL DEFAULT 0,
		status TEXT,
		text_snapshot TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cache_expires ON scrape_cache(expires_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_domain ON sessions(domain);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// PutCacheEntry inserts or replaces the cached result for a URL
func (s *Storage) PutCacheEntry(ctx context.Context, e *CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_cache (url, data, is_minimum, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			data = EXCLUDED.data,
			is_minimum = EXCLUDED.is_minimum,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`, e.URL, string(e.Data), boolInt(e.IsMinimum), toMillis(e.CreatedAt), toMillis(e.ExpiresAt))

	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// GetCacheEntry returns the entry for a URL that has not expired at now,
// or nil if there is none
func (s *Storage) GetCacheEntry(ctx context.Context, url string, now time.Time) (*CacheEntry, error) {
	var (
		e         CacheEntry
		data      string
		isMinimum int
		created   int64
		expires   int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT url, data, is_minimum, created_at, expires_at
		FROM scrape_cache
		WHERE url = ? AND expires_at > ?
	`, url, toMillis(now)).Scan(&e.URL, &data, &isMinimum, &created, &expires)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	e.Data = []byte(data)
	e.IsMinimum = isMinimum != 0
	e.CreatedAt = fromMillis(created)
	e.ExpiresAt = fromMillis(expires)
	return &e, nil
}

// DeleteCacheEntry removes the cached result for a URL
func (s *Storage) DeleteCacheEntry(ctx context.Context, url string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM scrape_cache WHERE url = ?", url); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// PurgeExpiredCache deletes entries that expired at or before now
func (s *Storage) PurgeExpiredCache(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM scrape_cache WHERE expires_at <= ?", toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SaveProfiles upserts serialised profiles in one transaction
func (s *Storage) SaveProfiles(records []*ProfileRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin profile transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO profiles (domain, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare profile upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.Domain, string(r.Data), toMillis(r.UpdatedAt)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save profile %s: %w", r.Domain, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profiles: %w", err)
	}
	return nil
}

// LoadProfiles returns every stored profile, oldest update first
func (s *Storage) LoadProfiles() ([]*ProfileRecord, error) {
	rows, err := s.db.Query(`
		SELECT domain, data, updated_at
		FROM profiles
		ORDER BY updated_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	defer rows.Close()

	var records []*ProfileRecord
	for rows.Next() {
		var (
			r       ProfileRecord
			data    string
			updated int64
		)
		if err := rows.Scan(&r.Domain, &data, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		r.Data = []byte(data)
		r.UpdatedAt = fromMillis(updated)
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}

	return records, nil
}

// DeleteProfile removes a stored profile
func (s *Storage) DeleteProfile(domain string) error {
	if _, err := s.db.Exec("DELETE FROM profiles WHERE domain = ?", domain); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// InsertSession appends a session record
func (s *Storage) InsertSession(ctx context.Context, sess *scrape.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (
			id, url, domain, strategy, headless, started_at, ended_at, success,
			job_count, platform, language, cache_created, from_cache, status, text_snapshot
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sess.ID, sess.URL, sess.Domain, sess.Strategy, boolInt(sess.Headless),
		toMillis(sess.StartedAt), toMillis(sess.EndedAt), boolInt(sess.Success),
		sess.JobCount, sess.Platform, sess.Language, boolInt(sess.CacheCreated),
		boolInt(sess.FromCache), string(sess.Status), sess.TextSnapshot,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first
func (s *Storage) RecentSessions(ctx context.Context, limit int) ([]*scrape.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, domain, strategy, headless, started_at, ended_at, success,
			job_count, platform, language, cache_created, from_cache, status, text_snapshot
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*scrape.Session
	for rows.Next() {
		var (
			sess                             scrape.Session
			strategy, platform, lang, status sql.NullString
			snapshot                         sql.NullString
			headless, success, cacheCreated  int
			fromCache                        int
			started, ended                   int64
		)
		if err := rows.Scan(&sess.ID, &sess.URL, &sess.Domain, &strategy, &headless,
			&started, &ended, &success, &sess.JobCount, &platform, &lang,
			&cacheCreated, &fromCache, &status, &snapshot); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.Strategy = strategy.String
		sess.Headless = headless != 0
		sess.StartedAt = fromMillis(started)
		sess.EndedAt = fromMillis(ended)
		sess.Success = success != 0
		sess.Platform = platform.String
		sess.Language = lang.String
		sess.CacheCreated = cacheCreated != 0
		sess.FromCache = fromCache != 0
		sess.Status = scrape.Status(status.String)
		sess.TextSnapshot = snapshot.String
		sessions = append(sessions, &sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}
