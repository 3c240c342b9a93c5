package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// UpsertMessage inserts or replaces a message keyed on (partition_key,
// msg_id) and reports whether an entry with that id already existed.
// Overwriting an existing id is the intended idempotence path for
// negotiation artifacts written with deterministic ids.
func (db *DB) UpsertMessage(m *Message) (bool, error) {
	meta, err := encodeMetadata(m.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existed bool
	if err := tx.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM messages WHERE partition_key = ? AND msg_id = ?)`,
		m.PartitionKey, m.MsgID).Scan(&existed); err != nil {
		return false, fmt.Errorf("check existing: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO messages (partition_key, msg_id, sender, receiver, body, message_type, offer_id, metadata, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(partition_key, msg_id) DO UPDATE SET
			sender = excluded.sender,
			receiver = excluded.receiver,
			body = excluded.body,
			message_type = excluded.message_type,
			offer_id = excluded.offer_id,
			metadata = excluded.metadata,
			timestamp = excluded.timestamp`,
		m.PartitionKey, m.MsgID, m.Sender, m.Receiver, m.Body, m.MessageType,
		m.OfferID, meta, m.Timestamp, time.Now().UnixMilli()); err != nil {
		return false, fmt.Errorf("upsert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return existed, nil
}

// DeleteMessage removes a message and reports whether a row was deleted.
func (db *DB) DeleteMessage(partitionKey, msgID string) (bool, error) {
	res, err := db.Exec(`DELETE FROM messages WHERE partition_key = ? AND msg_id = ?`, partitionKey, msgID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListMessages returns messages in a partition ordered by timestamp
// ascending, using keyset pagination on timestamp.
func (db *DB) ListMessages(partitionKey string, afterTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT id, partition_key, msg_id, sender, receiver, body, message_type, offer_id, metadata, timestamp
		FROM messages
		WHERE partition_key = ? AND timestamp > ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ?`, partitionKey, afterTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// AllMessages returns every message in a partition ordered by timestamp
// ascending. New change-feed subscribers are seeded from it.
func (db *DB) AllMessages(partitionKey string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, partition_key, msg_id, sender, receiver, body, message_type, offer_id, metadata, timestamp
		FROM messages
		WHERE partition_key = ?
		ORDER BY timestamp ASC, id ASC`, partitionKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// LatestMessage returns the most recent message in a partition, or nil
// if the partition is empty.
func (db *DB) LatestMessage(partitionKey string) (*Message, error) {
	rows, err := db.Query(`
		SELECT id, partition_key, msg_id, sender, receiver, body, message_type, offer_id, metadata, timestamp
		FROM messages
		WHERE partition_key = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`, partitionKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// LatestOfferMessage returns the most recent PRICE_OFFER message in a
// partition, or nil if there is none.
func (db *DB) LatestOfferMessage(partitionKey string) (*Message, error) {
	rows, err := db.Query(`
		SELECT id, partition_key, msg_id, sender, receiver, body, message_type, offer_id, metadata, timestamp
		FROM messages
		WHERE partition_key = ? AND message_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`, partitionKey, TypePriceOffer)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// ListPartitions returns every partition key that holds at least one message.
func (db *DB) ListPartitions() ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT partition_key FROM messages ORDER BY partition_key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// MessageCount returns the total number of stored messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var meta string
		if err := rows.Scan(&m.ID, &m.PartitionKey, &m.MsgID, &m.Sender, &m.Receiver,
			&m.Body, &m.MessageType, &m.OfferID, &meta, &m.Timestamp); err != nil {
			return nil, err
		}
		md, err := decodeMetadata(meta)
		if err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", m.MsgID, err)
		}
		m.Metadata = md
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func encodeMetadata(md map[string]any) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var md map[string]any
	if err := json.Unmarshal([]byte(s), &md); err != nil {
		return nil, err
	}
	return md, nil
}
