package domain

import (
	"encoding/json"
	"time"
)

const RoutingKeyConversionCreated = "conversion.created"

// OutboxMessage is written in the same transaction as the facts it
// announces and published later by the outbox worker.
type OutboxMessage struct {
	ID         string
	MessageID  string
	RoutingKey string
	Payload    json.RawMessage
	OccurredAt time.Time
}

// ConversionCreated is the payload published under conversion.created.
type ConversionCreated struct {
	ConversionID   string    `json:"conversion_id"`
	WebhookEventID string    `json:"webhook_event_id"`
	OrderID        string    `json:"order_id"`
	TrackingLinkID string    `json:"tracking_link_id"`
	InfluencerID   string    `json:"influencer_id"`
	ProgramID      string    `json:"program_id"`
	OrderAmount    string    `json:"order_amount"`
	GrossAmount    string    `json:"gross_amount"`
	PlatformFee    string    `json:"platform_fee"`
	NetAmount      string    `json:"net_amount"`
	Currency       string    `json:"currency"`
	OccurredAt     time.Time `json:"occurred_at"`
}
