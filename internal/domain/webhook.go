package domain

import (
	"encoding/json"
	"time"
)

// WebhookEvent is unique per (Source, ExternalEventID).
type WebhookEvent struct {
	ID              string
	Source          string
	ExternalEventID string
	EventType       string
	Payload         json.RawMessage
	StatusCode      int
	ErrorMessage    string
	ConversionID    *string
	CreatedAt       time.Time
}
