package domain

import "time"

const (
	PlatformDesktop = "desktop"
	PlatformMobile  = "mobile"
	PlatformTablet  = "tablet"
	PlatformBot     = "bot"
)

// Click is append-only. The client IP only ever appears as IPHash.
type Click struct {
	ID                string
	TrackingLinkID    string
	IPHash            string
	UserAgent         string
	Referer           string
	DeviceFingerprint string
	Platform          string
	Browser           string
	SubID             string
	FraudScore        float64
	FraudFlags        FraudFlags
	ClickedAt         time.Time
}

type FraudFlags struct {
	IsBot            bool  `json:"is_bot"`
	VelocityExceeded bool  `json:"velocity_exceeded"`
	VelocityCount    int64 `json:"velocity_count,omitempty"`
}
