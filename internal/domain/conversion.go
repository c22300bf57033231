package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Conversion struct {
	ID               string
	TrackingLinkID   string
	WebhookEventID   string
	OrderID          string
	OrderAmount      decimal.Decimal
	CommissionAmount decimal.Decimal
	Currency         string
	SubID            string
	Status           ConversionStatus
	ConvertedAt      time.Time
}

type Commission struct {
	ID           string
	InfluencerID string
	ProgramID    string
	ConversionID string
	GrossAmount  decimal.Decimal
	PlatformFee  decimal.Decimal
	NetAmount    decimal.Decimal
	Status       CommissionStatus
	CreatedAt    time.Time
}
