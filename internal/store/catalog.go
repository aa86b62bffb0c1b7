package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/uiptv/uiptv/internal/account"
)

// ReplaceCategories swaps the whole category set for (accountID, mode):
// delete scope + bulk insert in one transaction, stamping cached_at.
func (s *Store) ReplaceCategories(ctx context.Context, accountID int64, mode account.Mode, cats []account.Category) error {
	table, _, err := catalogTables(mode)
	if err != nil {
		return err
	}
	now := nowMillis()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace %s: %w", table, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("replace %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+`
		(account_id, category_id, title, alias, active_sub, censored, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("replace %s: %w", table, err)
	}
	defer stmt.Close()
	for _, c := range cats {
		if _, err := stmt.ExecContext(ctx, accountID, c.CategoryID, c.Title, c.Alias,
			boolInt(c.ActiveSub), boolInt(c.Censored), now); err != nil {
			return fmt.Errorf("replace %s: insert %q: %w", table, c.CategoryID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace %s: %w", table, err)
	}
	return nil
}

// Categories returns the cached category set for (accountID, mode) in insert order.
func (s *Store) Categories(ctx context.Context, accountID int64, mode account.Mode) ([]account.Category, error) {
	table, _, err := catalogTables(mode)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, category_id, title, alias, active_sub, censored
		FROM `+table+` WHERE account_id = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()
	var out []account.Category
	for rows.Next() {
		c := account.Category{AccountID: accountID}
		var activeSub, censored int
		if err := rows.Scan(&c.ID, &c.CategoryID, &c.Title, &c.Alias, &activeSub, &censored); err != nil {
			return nil, fmt.Errorf("read %s: %w", table, err)
		}
		c.ActiveSub = activeSub != 0
		c.Censored = censored != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// CategoriesCachedAt returns the newest cached_at stamp of the scope, 0 when empty.
func (s *Store) CategoriesCachedAt(ctx context.Context, accountID int64, mode account.Mode) (int64, error) {
	table, _, err := catalogTables(mode)
	if err != nil {
		return 0, err
	}
	return s.maxCachedAt(ctx, table, `account_id = ?`, accountID)
}

// ReplaceChannels swaps the channel set for one (accountID, mode, categoryID)
// scope in a single transaction.
func (s *Store) ReplaceChannels(ctx context.Context, accountID int64, mode account.Mode, categoryID string, chans []account.Channel) error {
	_, table, err := catalogTables(mode)
	if err != nil {
		return err
	}
	now := nowMillis()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace %s: %w", table, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE account_id = ? AND category_id = ?`,
		accountID, categoryID); err != nil {
		return fmt.Errorf("replace %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+`
		(account_id, category_id, channel_id, name, number, cmd, cmd1, cmd2, cmd3,
		 logo, censored, status, hd, drm, season, episode_num, description,
		 release_date, rating, duration, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("replace %s: %w", table, err)
	}
	defer stmt.Close()
	for _, c := range chans {
		if _, err := stmt.ExecContext(ctx, accountID, categoryID, c.ChannelID, c.Name, c.Number,
			c.Cmd, c.Cmd1, c.Cmd2, c.Cmd3, c.Logo, c.Censored, c.Status, c.HD,
			marshalDRM(c.DRM), c.Season, c.EpisodeNum, c.Description,
			c.ReleaseDate, c.Rating, c.Duration, now); err != nil {
			return fmt.Errorf("replace %s: insert %q: %w", table, c.ChannelID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace %s: %w", table, err)
	}
	return nil
}

// Channels returns the cached channels of one (accountID, mode, categoryID) scope.
func (s *Store) Channels(ctx context.Context, accountID int64, mode account.Mode, categoryID string) ([]account.Channel, error) {
	_, table, err := catalogTables(mode)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+channelCols+`
		FROM `+table+` WHERE account_id = ? AND category_id = ? ORDER BY id`,
		accountID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()
	return scanChannels(rows, table)
}

// ChannelsCachedAt returns the newest cached_at stamp of the channel scope, 0 when empty.
func (s *Store) ChannelsCachedAt(ctx context.Context, accountID int64, mode account.Mode, categoryID string) (int64, error) {
	_, table, err := catalogTables(mode)
	if err != nil {
		return 0, err
	}
	return s.maxCachedAt(ctx, table, `account_id = ? AND category_id = ?`, accountID, categoryID)
}

// ReplaceEpisodes swaps the episode set of one (accountID, categoryID, seriesID)
// scope in a single transaction. Episodes are scoped by category as well as
// series so the same series listed under two categories keeps separate caches.
func (s *Store) ReplaceEpisodes(ctx context.Context, accountID int64, categoryID, seriesID string, eps []account.Channel) error {
	now := nowMillis()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace series_episodes: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM series_episodes
		WHERE account_id = ? AND category_id = ? AND series_id = ?`,
		accountID, categoryID, seriesID); err != nil {
		return fmt.Errorf("replace series_episodes: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO series_episodes
		(account_id, category_id, series_id, channel_id, name, number, cmd, cmd1,
		 cmd2, cmd3, logo, censored, status, hd, drm, season, episode_num,
		 description, release_date, rating, duration, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("replace series_episodes: %w", err)
	}
	defer stmt.Close()
	for _, c := range eps {
		if _, err := stmt.ExecContext(ctx, accountID, categoryID, seriesID, c.ChannelID,
			c.Name, c.Number, c.Cmd, c.Cmd1, c.Cmd2, c.Cmd3, c.Logo,
			c.Censored, c.Status, c.HD, marshalDRM(c.DRM), c.Season, c.EpisodeNum,
			c.Description, c.ReleaseDate, c.Rating, c.Duration, now); err != nil {
			return fmt.Errorf("replace series_episodes: insert %q: %w", c.ChannelID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace series_episodes: %w", err)
	}
	return nil
}

// Episodes returns the cached episodes of one (accountID, categoryID, seriesID) scope.
func (s *Store) Episodes(ctx context.Context, accountID int64, categoryID, seriesID string) ([]account.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+channelCols+`
		FROM series_episodes WHERE account_id = ? AND category_id = ? AND series_id = ?
		ORDER BY id`, accountID, categoryID, seriesID)
	if err != nil {
		return nil, fmt.Errorf("read series_episodes: %w", err)
	}
	defer rows.Close()
	return scanChannels(rows, "series_episodes")
}

// EpisodesCachedAt returns the newest cached_at stamp of the episode scope, 0 when empty.
func (s *Store) EpisodesCachedAt(ctx context.Context, accountID int64, categoryID, seriesID string) (int64, error) {
	return s.maxCachedAt(ctx, "series_episodes",
		`account_id = ? AND category_id = ? AND series_id = ?`, accountID, categoryID, seriesID)
}

// ClearCatalog drops every cached catalog row for the account (watch state
// and the account itself are kept).
func (s *Store) ClearCatalog(ctx context.Context, accountID int64) error {
	tables := []string{
		"categories", "channels",
		"vod_categories", "vod_channels",
		"series_categories", "series_channels",
		"series_episodes",
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear catalog for account %d: %w", accountID, err)
	}
	defer tx.Rollback()
	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+t+` WHERE account_id = ?`, accountID); err != nil {
			return fmt.Errorf("clear catalog for account %d (%s): %w", accountID, t, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear catalog for account %d: %w", accountID, err)
	}
	return nil
}

const channelCols = `id, channel_id, name, number, cmd, cmd1, cmd2, cmd3, logo,
	censored, status, hd, drm, season, episode_num, description, release_date,
	rating, duration, category_id`

func scanChannels(rows *sql.Rows, table string) ([]account.Channel, error) {
	var out []account.Channel
	for rows.Next() {
		var c account.Channel
		var drm string
		if err := rows.Scan(&c.ID, &c.ChannelID, &c.Name, &c.Number, &c.Cmd, &c.Cmd1,
			&c.Cmd2, &c.Cmd3, &c.Logo, &c.Censored, &c.Status, &c.HD, &drm,
			&c.Season, &c.EpisodeNum, &c.Description, &c.ReleaseDate,
			&c.Rating, &c.Duration, &c.CategoryID); err != nil {
			return nil, fmt.Errorf("read %s: %w", table, err)
		}
		c.DRM = unmarshalDRM(drm)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) maxCachedAt(ctx context.Context, table, where string, args ...any) (int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(cached_at) FROM `+table+` WHERE `+where, args...).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("cached_at %s: %w", table, err)
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

func marshalDRM(d *account.DRM) string {
	if d == nil {
		return ""
	}
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalDRM(s string) *account.DRM {
	if s == "" {
		return nil
	}
	var d account.DRM
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil
	}
	return &d
}
