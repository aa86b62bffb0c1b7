// Package store is the SQLite-backed cache and state store: accounts,
// per-scope catalog tables with cached_at stamps, and series watch pointers.
// Catalog scopes are replaced wholesale inside one transaction so concurrent
// readers never observe a half-written scope.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/uiptv/uiptv/internal/account"
)

// Store wraps the engine database. Safe for concurrent use; database/sql
// serializes access to the single SQLite connection pool.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// catalogTables maps a browsing mode to its category/channel table pair.
// Live, VOD and series catalogs live in separate tables so each scope keeps
// independent cached_at stamps and reload policies.
func catalogTables(mode account.Mode) (catTable, chanTable string, err error) {
	switch mode {
	case account.ModeLive:
		return "categories", "channels", nil
	case account.ModeVOD:
		return "vod_categories", "vod_channels", nil
	case account.ModeSeries:
		return "series_categories", "series_channels", nil
	}
	return "", "", fmt.Errorf("unknown mode %q", mode)
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			mac_address TEXT NOT NULL DEFAULT '',
			serial_number TEXT NOT NULL DEFAULT '',
			device_id1 TEXT NOT NULL DEFAULT '',
			device_id2 TEXT NOT NULL DEFAULT '',
			signature TEXT NOT NULL DEFAULT '',
			epg_url TEXT NOT NULL DEFAULT '',
			m3u_path TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT 'itv',
			server_portal_url TEXT NOT NULL DEFAULT '',
			pause_caching INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS series_watch_state (
			account_id INTEGER NOT NULL,
			mode TEXT NOT NULL,
			category_id TEXT NOT NULL,
			series_id TEXT NOT NULL,
			episode_id TEXT NOT NULL DEFAULT '',
			episode_name TEXT NOT NULL DEFAULT '',
			season INTEGER NOT NULL DEFAULT 0,
			episode_num INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT 'AUTO',
			PRIMARY KEY (account_id, mode, category_id, series_id)
		)`,
		`CREATE TABLE IF NOT EXISTS series_episodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			category_id TEXT NOT NULL,
			series_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			number INTEGER NOT NULL DEFAULT 0,
			cmd TEXT NOT NULL DEFAULT '',
			cmd1 TEXT NOT NULL DEFAULT '',
			cmd2 TEXT NOT NULL DEFAULT '',
			cmd3 TEXT NOT NULL DEFAULT '',
			logo TEXT NOT NULL DEFAULT '',
			censored INTEGER NOT NULL DEFAULT 0,
			status INTEGER NOT NULL DEFAULT 0,
			hd INTEGER NOT NULL DEFAULT 0,
			drm TEXT NOT NULL DEFAULT '',
			season TEXT NOT NULL DEFAULT '',
			episode_num TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			release_date TEXT NOT NULL DEFAULT '',
			rating TEXT NOT NULL DEFAULT '',
			duration TEXT NOT NULL DEFAULT '',
			cached_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_series_episodes_scope
			ON series_episodes (account_id, category_id, series_id)`,
	}
	for _, mode := range []account.Mode{account.ModeLive, account.ModeVOD, account.ModeSeries} {
		cat, ch, _ := catalogTables(mode)
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				account_id INTEGER NOT NULL,
				category_id TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				alias TEXT NOT NULL DEFAULT '',
				active_sub INTEGER NOT NULL DEFAULT 1,
				censored INTEGER NOT NULL DEFAULT 0,
				cached_at INTEGER NOT NULL DEFAULT 0
			)`, cat),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_account ON %s (account_id)`, cat, cat),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				account_id INTEGER NOT NULL,
				category_id TEXT NOT NULL,
				channel_id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				number INTEGER NOT NULL DEFAULT 0,
				cmd TEXT NOT NULL DEFAULT '',
				cmd1 TEXT NOT NULL DEFAULT '',
				cmd2 TEXT NOT NULL DEFAULT '',
				cmd3 TEXT NOT NULL DEFAULT '',
				logo TEXT NOT NULL DEFAULT '',
				censored INTEGER NOT NULL DEFAULT 0,
				status INTEGER NOT NULL DEFAULT 0,
				hd INTEGER NOT NULL DEFAULT 0,
				drm TEXT NOT NULL DEFAULT '',
				season TEXT NOT NULL DEFAULT '',
				episode_num TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				release_date TEXT NOT NULL DEFAULT '',
				rating TEXT NOT NULL DEFAULT '',
				duration TEXT NOT NULL DEFAULT '',
				cached_at INTEGER NOT NULL DEFAULT 0
			)`, ch),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_scope ON %s (account_id, category_id)`, ch, ch),
		)
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Fresh reports whether a cached_at stamp (epoch millis) is still usable at
// now: true iff the stamp is set and no older than maxAge. A stamp aged
// exactly maxAge is still fresh; one millisecond more is not.
func Fresh(cachedAtMillis int64, maxAge time.Duration, now time.Time) bool {
	if cachedAtMillis <= 0 {
		return false
	}
	return now.UnixMilli()-cachedAtMillis <= maxAge.Milliseconds()
}

func nowMillis() int64 { return time.Now().UnixMilli() }
