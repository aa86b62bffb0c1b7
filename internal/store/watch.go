package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/uiptv/uiptv/internal/account"
)

const watchCols = `account_id, mode, category_id, series_id, episode_id,
	episode_name, season, episode_num, updated_at, source`

// SaveWatchState upserts the pointer for its (account, mode, category, series) key.
// Advance-rule decisions belong to the watch tracker; the store writes what it
// is given.
func (s *Store) SaveWatchState(ws *account.WatchState) error {
	_, err := s.db.Exec(`INSERT INTO series_watch_state
		(account_id, mode, category_id, series_id, episode_id, episode_name,
		 season, episode_num, updated_at, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, mode, category_id, series_id) DO UPDATE SET
			episode_id = excluded.episode_id,
			episode_name = excluded.episode_name,
			season = excluded.season,
			episode_num = excluded.episode_num,
			updated_at = excluded.updated_at,
			source = excluded.source`,
		ws.AccountID, string(ws.Mode), ws.CategoryID, ws.SeriesID, ws.EpisodeID,
		ws.EpisodeName, ws.Season, ws.EpisodeNum, ws.UpdatedAt, string(ws.Source))
	if err != nil {
		return fmt.Errorf("save watch state %s/%s: %w", ws.CategoryID, ws.SeriesID, err)
	}
	return nil
}

// WatchState returns the pointer for an exact key, or nil when none exists.
func (s *Store) WatchState(accountID int64, mode account.Mode, categoryID, seriesID string) (*account.WatchState, error) {
	row := s.db.QueryRow(`SELECT `+watchCols+` FROM series_watch_state
		WHERE account_id = ? AND mode = ? AND category_id = ? AND series_id = ?`,
		accountID, string(mode), categoryID, seriesID)
	return scanWatchState(row)
}

// WatchStateAnyCategory returns the newest pointer for the series across all
// categories of the account, or nil. Used as fallback when the caller's
// category key has no row.
func (s *Store) WatchStateAnyCategory(accountID int64, mode account.Mode, seriesID string) (*account.WatchState, error) {
	row := s.db.QueryRow(`SELECT `+watchCols+` FROM series_watch_state
		WHERE account_id = ? AND mode = ? AND series_id = ?
		ORDER BY updated_at DESC LIMIT 1`,
		accountID, string(mode), seriesID)
	return scanWatchState(row)
}

// WatchStatesByAccount returns every pointer of the account, newest first.
func (s *Store) WatchStatesByAccount(accountID int64) ([]account.WatchState, error) {
	rows, err := s.db.Query(`SELECT `+watchCols+` FROM series_watch_state
		WHERE account_id = ? ORDER BY updated_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list watch states: %w", err)
	}
	defer rows.Close()
	var out []account.WatchState
	for rows.Next() {
		ws, err := scanWatchStateRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ws)
	}
	return out, rows.Err()
}

// DeleteWatchState removes one pointer. Missing rows are not an error.
func (s *Store) DeleteWatchState(accountID int64, mode account.Mode, categoryID, seriesID string) error {
	_, err := s.db.Exec(`DELETE FROM series_watch_state
		WHERE account_id = ? AND mode = ? AND category_id = ? AND series_id = ?`,
		accountID, string(mode), categoryID, seriesID)
	if err != nil {
		return fmt.Errorf("delete watch state %s/%s: %w", categoryID, seriesID, err)
	}
	return nil
}

// DeleteWatchStatesByAccount removes every pointer of the account.
func (s *Store) DeleteWatchStatesByAccount(accountID int64) error {
	_, err := s.db.Exec(`DELETE FROM series_watch_state WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("clear watch states for account %d: %w", accountID, err)
	}
	return nil
}

func scanWatchState(row *sql.Row) (*account.WatchState, error) {
	ws, err := scanWatchStateRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ws, err
}

func scanWatchStateRow(r rowScanner) (*account.WatchState, error) {
	var ws account.WatchState
	var mode, source string
	err := r.Scan(&ws.AccountID, &mode, &ws.CategoryID, &ws.SeriesID, &ws.EpisodeID,
		&ws.EpisodeName, &ws.Season, &ws.EpisodeNum, &ws.UpdatedAt, &source)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan watch state: %w", err)
	}
	ws.Mode = account.Mode(mode)
	ws.Source = account.WatchSource(source)
	return &ws, nil
}
