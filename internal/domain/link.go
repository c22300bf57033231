package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrackingLink is owned by link management; this service reads it and
// bumps its counters.
type TrackingLink struct {
	ID             string
	Slug           string
	InfluencerID   string
	ProgramID      string
	ProductID      *string
	DestinationURL string
	UTMParams      map[string]string
	SubID          string
	IsActive       bool

	TotalClicks      int64
	TotalConversions int64
	TotalRevenue     decimal.Decimal

	CreatedAt time.Time
}

type Program struct {
	ID               string
	MerchantID       string
	CommissionType   CommissionType
	CommissionValue  decimal.Decimal
	CookieWindowDays int
}

// LinkDescriptor is what a redirect needs. It is the JSON stored under
// link:<slug> in the cache, so field tags are part of the cache contract.
type LinkDescriptor struct {
	ID               string `json:"id"`
	Slug             string `json:"slug"`
	InfluencerID     string `json:"influencer_id"`
	ProgramID        string `json:"program_id"`
	ProductID        string `json:"product_id,omitempty"`
	DestinationURL   string `json:"destination"`
	SubID            string `json:"subid,omitempty"`
	CookieWindowDays int    `json:"cookie_window_days"`
}

// AttributionTarget is a link joined with the program used to price it.
type AttributionTarget struct {
	LinkID       string
	Slug         string
	InfluencerID string
	Program      Program
}
