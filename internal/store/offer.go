package store

import (
	"database/sql"
	"fmt"
)

// CreateOffer persists a new offer row. Fails if the offer id exists.
func (db *DB) CreateOffer(o *PriceOffer) error {
	_, err := db.Exec(`
		INSERT INTO offers (offer_id, product_id, buyer, seller, original_price, offered_price, message, status, conversation_key, created_at, responded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OfferID, o.ProductID, o.Buyer, o.Seller, o.OriginalPrice, o.OfferedPrice,
		o.Message, o.Status, o.ConversationKey, o.CreatedAt, o.RespondedAt)
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

// UpdateOfferStatus moves an offer from one status to another as a
// single guarded update. Returns false when the offer is missing or no
// longer in the expected status, which makes concurrent responders lose
// cleanly instead of double-applying a transition.
func (db *DB) UpdateOfferStatus(offerID, from, to string, respondedAt int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE offers SET status = ?, responded_at = ?
		WHERE offer_id = ? AND status = ?`,
		to, respondedAt, offerID, from)
	if err != nil {
		return false, fmt.Errorf("update offer status: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetOffer returns an offer by id, or nil when absent.
func (db *DB) GetOffer(offerID string) (*PriceOffer, error) {
	var o PriceOffer
	err := db.QueryRow(`
		SELECT offer_id, product_id, buyer, seller, original_price, offered_price, message, status, conversation_key, created_at, responded_at
		FROM offers WHERE offer_id = ?`, offerID).
		Scan(&o.OfferID, &o.ProductID, &o.Buyer, &o.Seller, &o.OriginalPrice,
			&o.OfferedPrice, &o.Message, &o.Status, &o.ConversationKey, &o.CreatedAt, &o.RespondedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOffersByProduct returns offers for a product, newest first.
func (db *DB) ListOffersByProduct(productID string) ([]PriceOffer, error) {
	return db.listOffers(`
		SELECT offer_id, product_id, buyer, seller, original_price, offered_price, message, status, conversation_key, created_at, responded_at
		FROM offers WHERE product_id = ? ORDER BY created_at DESC`, productID)
}

// ListOffersByBuyer returns offers made by a buyer, newest first.
func (db *DB) ListOffersByBuyer(buyer string) ([]PriceOffer, error) {
	return db.listOffers(`
		SELECT offer_id, product_id, buyer, seller, original_price, offered_price, message, status, conversation_key, created_at, responded_at
		FROM offers WHERE buyer = ? ORDER BY created_at DESC`, buyer)
}

// OfferCount returns the total number of offers.
func (db *DB) OfferCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM offers`).Scan(&count)
	return count, err
}

func (db *DB) listOffers(query string, args ...any) ([]PriceOffer, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var offers []PriceOffer
	for rows.Next() {
		var o PriceOffer
		if err := rows.Scan(&o.OfferID, &o.ProductID, &o.Buyer, &o.Seller, &o.OriginalPrice,
			&o.OfferedPrice, &o.Message, &o.Status, &o.ConversationKey, &o.CreatedAt, &o.RespondedAt); err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}
