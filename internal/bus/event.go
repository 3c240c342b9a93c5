package bus

import "time"

// Topics published by the daemon. Subscribers filter by prefix, so
// "message." matches every message-related event.
const (
	TopicMessageWritten = "message.written"
	TopicMessageSendAck = "message.send_ack"
	TopicMessageSendErr = "message.send_fail"
	TopicOfferCreated   = "offer.created"
	TopicOfferResponded = "offer.responded"
	TopicStatusChanged  = "daemon.status_changed"
)

// Event is a domain event published on the bus.
type Event struct {
	Topic   string
	At      time.Time
	Payload any
}
