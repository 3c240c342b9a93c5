package store

// Message types carried on the conversation stream. Negotiation
// artifacts travel through the same partitions as plain text.
const (
	TypeText          = "TEXT"
	TypePriceOffer    = "PRICE_OFFER"
	TypePriceResponse = "PRICE_RESPONSE"
)

// Offer statuses. PENDING is the only non-terminal state.
const (
	OfferPending  = "PENDING"
	OfferAccepted = "ACCEPTED"
	OfferRejected = "REJECTED"
)

// Message is one entry in a conversation partition. MsgID is unique
// within its partition; negotiation artifacts use deterministic ids so
// retried writes overwrite instead of duplicating.
type Message struct {
	ID           int64
	PartitionKey string
	MsgID        string
	Sender       string
	Receiver     string
	Body         string
	MessageType  string
	OfferID      string
	Metadata     map[string]any
	Timestamp    int64
}

// PriceOffer is a persisted negotiation record. Status moves
// PENDING -> ACCEPTED or PENDING -> REJECTED and is terminal after that.
type PriceOffer struct {
	OfferID         string  `json:"offer_id"`
	ProductID       string  `json:"product_id"`
	Buyer           string  `json:"buyer"`
	Seller          string  `json:"seller"`
	OriginalPrice   float64 `json:"original_price"`
	OfferedPrice    float64 `json:"offered_price"`
	Message         string  `json:"message,omitempty"`
	Status          string  `json:"status"`
	ConversationKey string  `json:"conversation_key"`
	CreatedAt       int64   `json:"created_at"`
	RespondedAt     int64   `json:"responded_at,omitempty"`
}

// OutboxEntry is a queued outgoing plain-text message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	Sender       string
	Buyer        string
	Seller       string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
}

// Party holds an optional display name for an identity.
type Party struct {
	Identity    string
	DisplayName string
}

// SearchResult holds a message with a highlighted search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
