// Package negotiate layers the price-offer state machine on top of the
// conversation stream. Offer records live in the offer store; the
// artifacts other parties see are ordinary messages written with
// deterministic ids through the chat sender.
package negotiate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hagglechat/haggle/internal/bus"
	"github.com/hagglechat/haggle/internal/chat"
	"github.com/hagglechat/haggle/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrOfferNotFound is returned when responding to an unknown offer.
	ErrOfferNotFound = errors.New("negotiate: offer not found")
	// ErrInvalidTransition is returned when responding to an offer that
	// is no longer pending.
	ErrInvalidTransition = errors.New("negotiate: invalid status transition")
	// ErrOfferPersistFailed wraps offer store write failures.
	ErrOfferPersistFailed = errors.New("negotiate: offer persist failed")
	// ErrMessageWriteFailed wraps chat write failures. The offer record
	// is already persisted when this happens; that dangling record is an
	// accepted partial-failure window, there is no cross-store rollback.
	ErrMessageWriteFailed = errors.New("negotiate: message write failed")
)

// validTransitions defines allowed offer status transitions. Accepted
// and rejected are terminal.
var validTransitions = map[string][]string{
	store.OfferPending: {store.OfferAccepted, store.OfferRejected},
}

// OfferStore is the durable offer collaborator, transactional per row.
type OfferStore interface {
	CreateOffer(o *store.PriceOffer) error
	UpdateOfferStatus(offerID, from, to string, respondedAt int64) (bool, error)
	GetOffer(offerID string) (*store.PriceOffer, error)
	ListOffersByProduct(productID string) ([]store.PriceOffer, error)
	ListOffersByBuyer(buyer string) ([]store.PriceOffer, error)
}

// ArtifactWriter writes negotiation artifacts into the stream.
type ArtifactWriter interface {
	SendSpecial(ctx context.Context, conversationKey string, msg *store.Message) <-chan error
}

// Service drives offer creation and accept/reject transitions.
type Service struct {
	offers OfferStore
	sender ArtifactWriter
	bus    *bus.Bus
	logger *zap.Logger
}

// NewService creates a negotiation service. The bus is optional; when
// present, offer lifecycle events are announced on it.
func NewService(offers OfferStore, sender ArtifactWriter, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{offers: offers, sender: sender, bus: b, logger: logger}
}

// CreateParams describes a new price offer.
type CreateParams struct {
	ProductID     string
	Buyer         string
	Seller        string
	OriginalPrice float64
	OfferedPrice  float64
	Note          string
	ProductTitle  string
}

// CreateOffer persists a pending offer and writes its PRICE_OFFER
// artifact into the product-scoped conversation. The two writes are
// independent; if the second fails the offer record remains.
func (s *Service) CreateOffer(ctx context.Context, p CreateParams) (string, error) {
	key, err := chat.DeriveProductKey(p.Buyer, p.Seller, p.ProductID)
	if err != nil {
		return "", err
	}

	offerID := uuid.New().String()
	now := time.Now().UnixMilli()
	offer := &store.PriceOffer{
		OfferID:         offerID,
		ProductID:       p.ProductID,
		Buyer:           p.Buyer,
		Seller:          p.Seller,
		OriginalPrice:   p.OriginalPrice,
		OfferedPrice:    p.OfferedPrice,
		Message:         p.Note,
		Status:          store.OfferPending,
		ConversationKey: key,
		CreatedAt:       now,
	}
	if err := s.offers.CreateOffer(offer); err != nil {
		return "", fmt.Errorf("%w: %v", ErrOfferPersistFailed, err)
	}

	msg := &store.Message{
		MsgID:       OfferMessageID(offerID),
		Sender:      p.Buyer,
		Receiver:    p.Seller,
		Body:        p.Note,
		MessageType: store.TypePriceOffer,
		OfferID:     offerID,
		Timestamp:   now,
		Metadata: map[string]any{
			"productTitle":  p.ProductTitle,
			"originalPrice": p.OriginalPrice,
			"offeredPrice":  p.OfferedPrice,
			"offerMessage":  p.Note,
		},
	}
	if err := <-s.sender.SendSpecial(ctx, key, msg); err != nil {
		s.logger.Error("offer artifact write failed, offer record kept",
			zap.String("offer_id", offerID), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrMessageWriteFailed, err)
	}

	s.logger.Info("offer created",
		zap.String("offer_id", offerID),
		zap.String("conversation", key),
		zap.Float64("offered_price", p.OfferedPrice))
	s.publish(bus.TopicOfferCreated, offerID, store.OfferPending)
	return offerID, nil
}

// Respond applies an accept or reject to a pending offer and writes the
// PRICE_RESPONSE artifact. Responding twice fails with
// ErrInvalidTransition; the status update is a compare-and-set so
// concurrent responders cannot double-apply.
func (s *Service) Respond(ctx context.Context, offerID string, accepted bool) error {
	offer, err := s.offers.GetOffer(offerID)
	if err != nil {
		return fmt.Errorf("load offer: %w", err)
	}
	if offer == nil {
		return ErrOfferNotFound
	}

	to := store.OfferRejected
	if accepted {
		to = store.OfferAccepted
	}
	if !slices.Contains(validTransitions[offer.Status], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, offer.Status, to)
	}

	now := time.Now().UnixMilli()
	ok, err := s.offers.UpdateOfferStatus(offerID, store.OfferPending, to, now)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOfferPersistFailed, err)
	}
	if !ok {
		// Lost the race to another responder.
		return fmt.Errorf("%w: offer no longer pending", ErrInvalidTransition)
	}

	msg := &store.Message{
		MsgID:       ResponseMessageID(offerID),
		Sender:      offer.Seller,
		Receiver:    offer.Buyer,
		Body:        responseBody(accepted),
		MessageType: store.TypePriceResponse,
		OfferID:     offerID,
		Timestamp:   now,
		Metadata: map[string]any{
			"isAccepted":   accepted,
			"offeredPrice": offer.OfferedPrice,
		},
	}
	if err := <-s.sender.SendSpecial(ctx, offer.ConversationKey, msg); err != nil {
		s.logger.Error("response artifact write failed, status already applied",
			zap.String("offer_id", offerID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrMessageWriteFailed, err)
	}

	s.logger.Info("offer responded",
		zap.String("offer_id", offerID),
		zap.Bool("accepted", accepted))
	s.publish(bus.TopicOfferResponded, offerID, to)
	return nil
}

func (s *Service) publish(topic, offerID, status string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Topic: topic,
		At:    time.Now(),
		Payload: map[string]string{
			"offer_id": offerID,
			"status":   status,
		},
	})
}

// GetOffer returns an offer by id.
func (s *Service) GetOffer(offerID string) (*store.PriceOffer, error) {
	o, err := s.offers.GetOffer(offerID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOfferNotFound
	}
	return o, nil
}

// ListByProduct returns the offers made on a product.
func (s *Service) ListByProduct(productID string) ([]store.PriceOffer, error) {
	return s.offers.ListOffersByProduct(productID)
}

// ListByBuyer returns the offers a buyer has made.
func (s *Service) ListByBuyer(buyer string) ([]store.PriceOffer, error) {
	return s.offers.ListOffersByBuyer(buyer)
}

// OfferMessageID is the deterministic stream id for an offer artifact.
// Retrying the same offer overwrites instead of duplicating.
func OfferMessageID(offerID string) string {
	return "offer_" + chat.NormalizeIdentity(offerID)
}

// ResponseMessageID is the deterministic stream id for a response artifact.
func ResponseMessageID(offerID string) string {
	return "response_" + chat.NormalizeIdentity(offerID)
}

func responseBody(accepted bool) string {
	if accepted {
		return "Offer accepted"
	}
	return "Offer rejected"
}
