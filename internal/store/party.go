package store

import (
	"database/sql"
	"time"
)

// UpsertParty inserts or updates a display name for an identity.
// Empty display names never overwrite a known one.
func (db *DB) UpsertParty(p *Party) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO parties (identity, display_name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE parties.display_name END,
			updated_at = excluded.updated_at`,
		p.Identity, p.DisplayName, now)
	return err
}

// GetParty returns a party by identity, or nil when unknown.
func (db *DB) GetParty(identity string) (*Party, error) {
	var p Party
	err := db.QueryRow(`SELECT identity, display_name FROM parties WHERE identity = ?`, identity).
		Scan(&p.Identity, &p.DisplayName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
