package store

import "fmt"

// SearchMessages performs a full-text search on message bodies,
// optionally scoped to one partition.
func (db *DB) SearchMessages(query string, partitionKey string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.partition_key, m.msg_id, m.sender, m.receiver, m.body,
		       m.message_type, m.offer_id, m.metadata, m.timestamp,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if partitionKey != "" {
		q += " AND m.partition_key = ?"
		args = append(args, partitionKey)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var meta string
		if err := rows.Scan(
			&r.Message.ID, &r.Message.PartitionKey, &r.Message.MsgID,
			&r.Message.Sender, &r.Message.Receiver, &r.Message.Body,
			&r.Message.MessageType, &r.Message.OfferID, &meta,
			&r.Message.Timestamp, &r.Snippet,
		); err != nil {
			return nil, err
		}
		md, err := decodeMetadata(meta)
		if err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", r.Message.MsgID, err)
		}
		r.Message.Metadata = md
		results = append(results, r)
	}
	return results, rows.Err()
}
