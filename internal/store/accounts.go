package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/uiptv/uiptv/internal/account"
)

const accountCols = `id, name, type, username, password, url, mac_address,
	serial_number, device_id1, device_id2, signature, epg_url, m3u_path,
	mode, server_portal_url, pause_caching`

// SaveAccount inserts a new account (ID == 0) or updates an existing one.
// On insert the generated id is written back into a.
func (s *Store) SaveAccount(a *account.Account) error {
	if a.Mode == "" {
		a.Mode = account.ModeLive
	}
	if a.ID == 0 {
		res, err := s.db.Exec(`INSERT INTO accounts
			(name, type, username, password, url, mac_address, serial_number,
			 device_id1, device_id2, signature, epg_url, m3u_path, mode,
			 server_portal_url, pause_caching)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.Name, string(a.Type), a.Username, a.Password, a.URL, a.MacAddress,
			a.SerialNumber, a.DeviceID1, a.DeviceID2, a.Signature, a.EPGURL,
			a.M3UPath, string(a.Mode), a.ServerPortalURL, boolInt(a.PauseCaching))
		if err != nil {
			return fmt.Errorf("insert account %q: %w", a.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert account %q: %w", a.Name, err)
		}
		a.ID = id
		return nil
	}
	_, err := s.db.Exec(`UPDATE accounts SET
			name = ?, type = ?, username = ?, password = ?, url = ?,
			mac_address = ?, serial_number = ?, device_id1 = ?, device_id2 = ?,
			signature = ?, epg_url = ?, m3u_path = ?, mode = ?,
			server_portal_url = ?, pause_caching = ?
		WHERE id = ?`,
		a.Name, string(a.Type), a.Username, a.Password, a.URL, a.MacAddress,
		a.SerialNumber, a.DeviceID1, a.DeviceID2, a.Signature, a.EPGURL,
		a.M3UPath, string(a.Mode), a.ServerPortalURL, boolInt(a.PauseCaching), a.ID)
	if err != nil {
		return fmt.Errorf("update account %q: %w", a.Name, err)
	}
	return nil
}

// SaveServerPortalURL persists only the lazily discovered portal URL.
func (s *Store) SaveServerPortalURL(a *account.Account) error {
	_, err := s.db.Exec(`UPDATE accounts SET server_portal_url = ? WHERE id = ?`,
		a.ServerPortalURL, a.ID)
	if err != nil {
		return fmt.Errorf("save portal url for account %d: %w", a.ID, err)
	}
	return nil
}

// Account returns the account with the given id, or nil when absent.
func (s *Store) Account(id int64) (*account.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// AccountByName returns the account with the given name, or nil when absent.
func (s *Store) AccountByName(name string) (*account.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE name = ?`, name)
	return scanAccount(row)
}

// Accounts returns all accounts ordered by name.
func (s *Store) Accounts() ([]account.Account, error) {
	rows, err := s.db.Query(`SELECT ` + accountCols + ` FROM accounts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []account.Account
	for rows.Next() {
		a, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// DeleteAccount removes the account and cascades to every cached category,
// channel, episode and watch-state row scoped to it.
func (s *Store) DeleteAccount(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete account %d: %w", id, err)
	}
	defer tx.Rollback()
	tables := []string{
		"categories", "channels",
		"vod_categories", "vod_channels",
		"series_categories", "series_channels",
		"series_episodes", "series_watch_state",
	}
	for _, t := range tables {
		if _, err := tx.Exec(`DELETE FROM `+t+` WHERE account_id = ?`, id); err != nil {
			return fmt.Errorf("delete account %d cache (%s): %w", id, t, err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete account %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete account %d: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row *sql.Row) (*account.Account, error) {
	a, err := scanAccountRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func scanAccountRow(r rowScanner) (*account.Account, error) {
	var a account.Account
	var typ, mode string
	var pause int
	err := r.Scan(&a.ID, &a.Name, &typ, &a.Username, &a.Password, &a.URL,
		&a.MacAddress, &a.SerialNumber, &a.DeviceID1, &a.DeviceID2,
		&a.Signature, &a.EPGURL, &a.M3UPath, &mode, &a.ServerPortalURL, &pause)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.Type = account.Type(typ)
	a.Mode = account.Mode(mode)
	a.PauseCaching = pause != 0
	return &a, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
