package webhook

import (
	"encoding/json"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/baechuer/affiliate-tracker/internal/domain"
)

const (
	SourceRefersion = "refersion"
	SourceShopify   = "shopify"
	SourceImpact    = "impact"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	// Amounts are validated by sign only, so "gte=0" reads as non-negative.
	validate.RegisterCustomTypeFunc(decimalSign, decimal.Decimal{})
}

func decimalSign(v reflect.Value) any {
	if d, ok := v.Interface().(decimal.Decimal); ok {
		return d.Sign()
	}
	return nil
}

// Meta carries delivery metadata that some networks send as headers
// rather than in the body.
type Meta struct {
	DeliveryID string
	Topic      string
}

// ConversionReport is the network-agnostic view of a sale.
type ConversionReport struct {
	OrderID            string
	OrderAmount        decimal.Decimal
	ReportedCommission decimal.Decimal
	Currency           string
	SubID              string
	AffiliateID        string
	OccurredAt         time.Time
}

// Payload is a parsed webhook body. Implementations are the per-source
// variants below; UnknownPayload covers sources without an adapter.
type Payload interface {
	Source() string
	ExternalEventID() string
	EventType() string
	// Conversion returns ok=false when the event carries nothing to attribute.
	Conversion() (ConversionReport, bool)
}

var conversionEventTypes = map[string]bool{
	"sale":          true,
	"conversion":    true,
	"order":         true,
	"order_created": true,
	"orders/create": true,
	"orders/paid":   true,
}

func isConversionEvent(eventType string) bool {
	return conversionEventTypes[strings.ToLower(strings.TrimSpace(eventType))]
}

// ParsePayload decodes body into the variant registered for source and
// validates it. Unknown sources still parse as long as they carry an
// event id, so the delivery is recorded.
func ParsePayload(source string, meta Meta, body []byte) (Payload, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	if err := validate.Var(source, "required,max=64,alphanum"); err != nil {
		return nil, domain.ErrValidationMeta("invalid webhook source", map[string]string{"source": source})
	}

	var p Payload
	switch source {
	case SourceRefersion:
		var rp RefersionPayload
		if err := decode(body, &rp); err != nil {
			return nil, err
		}
		if rp.Currency == "" {
			rp.Currency = "USD"
		}
		p = &rp
	case SourceShopify:
		var sp ShopifyPayload
		if err := decode(body, &sp); err != nil {
			return nil, err
		}
		if err := sp.parseAmounts(); err != nil {
			return nil, err
		}
		sp.deliveryID = strings.TrimSpace(meta.DeliveryID)
		sp.topic = strings.TrimSpace(meta.Topic)
		p = &sp
	case SourceImpact:
		var ip ImpactPayload
		if err := decode(body, &ip); err != nil {
			return nil, err
		}
		p = &ip
	default:
		up := UnknownPayload{source: source}
		if err := decode(body, &up); err != nil {
			return nil, err
		}
		if up.EventID == "" {
			up.EventID = strings.TrimSpace(meta.DeliveryID)
		}
		p = &up
	}

	if err := validate.Struct(p); err != nil {
		return nil, formatValidationErrors(err)
	}
	return p, nil
}

func decode(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return domain.ErrValidation("malformed JSON body")
	}
	return nil
}

func formatValidationErrors(err error) error {
	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		return domain.ErrValidation(err.Error())
	}
	meta := make(map[string]string, len(ves))
	for _, fe := range ves {
		switch fe.Tag() {
		case "required":
			meta[fe.Field()] = "is required"
		case "max":
			meta[fe.Field()] = "is too long"
		case "gte":
			meta[fe.Field()] = "must be a non-negative amount"
		default:
			meta[fe.Field()] = "is invalid"
		}
	}
	return domain.ErrValidationMeta("invalid webhook payload", meta)
}

type RefersionPayload struct {
	Type             string          `json:"event_type" validate:"required"`
	EventID          string          `json:"event_id" validate:"required,max=255"`
	OrderID          string          `json:"order_id" validate:"required"`
	AffiliateID      string          `json:"affiliate_id"`
	CommissionAmount decimal.Decimal `json:"commission_amount" validate:"gte=0"`
	SaleAmount       decimal.Decimal `json:"sale_amount" validate:"gte=0"`
	Currency         string          `json:"currency"`
	TrackingID       string          `json:"tracking_id"`
	Metadata         map[string]any  `json:"metadata"`
}

func (p *RefersionPayload) Source() string          { return SourceRefersion }
func (p *RefersionPayload) ExternalEventID() string { return p.EventID }
func (p *RefersionPayload) EventType() string       { return p.Type }

func (p *RefersionPayload) Conversion() (ConversionReport, bool) {
	if !isConversionEvent(p.Type) {
		return ConversionReport{}, false
	}
	return ConversionReport{
		OrderID:            p.OrderID,
		OrderAmount:        p.SaleAmount,
		ReportedCommission: p.CommissionAmount,
		Currency:           p.Currency,
		SubID:              p.TrackingID,
		AffiliateID:        p.AffiliateID,
	}, true
}

type ShopifyNoteAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ShopifyPayload is an order webhook. Shopify identifies deliveries
// with the X-Shopify-Webhook-Id header and the event with X-Shopify-Topic.
// Prices arrive as strings and may be empty.
type ShopifyPayload struct {
	ID             json.Number            `json:"id" validate:"required"`
	SubtotalPrice  string                 `json:"subtotal_price"`
	TotalPrice     string                 `json:"total_price"`
	Currency       string                 `json:"currency"`
	LandingSite    string                 `json:"landing_site"`
	NoteAttributes []ShopifyNoteAttribute `json:"note_attributes"`
	CreatedAt      *time.Time             `json:"created_at"`

	subtotal   decimal.Decimal
	total      decimal.Decimal
	deliveryID string
	topic      string
}

func (p *ShopifyPayload) parseAmounts() error {
	var err error
	if p.subtotal, err = shopifyAmount("SubtotalPrice", p.SubtotalPrice); err != nil {
		return err
	}
	p.total, err = shopifyAmount("TotalPrice", p.TotalPrice)
	return err
}

func shopifyAmount(field, s string) (decimal.Decimal, error) {
	d, err := domain.ParseAmount(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, domain.ErrValidationMeta("invalid webhook payload",
			map[string]string{field: "must be a non-negative amount"})
	}
	return d, nil
}

func (p *ShopifyPayload) Source() string { return SourceShopify }

func (p *ShopifyPayload) ExternalEventID() string {
	if p.deliveryID != "" {
		return p.deliveryID
	}
	return p.ID.String()
}

func (p *ShopifyPayload) EventType() string {
	if p.topic != "" {
		return p.topic
	}
	return "orders/create"
}

func (p *ShopifyPayload) Conversion() (ConversionReport, bool) {
	if !isConversionEvent(p.EventType()) {
		return ConversionReport{}, false
	}
	r := ConversionReport{
		OrderID:     p.ID.String(),
		OrderAmount: p.subtotal,
		Currency:    p.Currency,
		SubID:       p.subID(),
	}
	if r.OrderAmount.IsZero() {
		r.OrderAmount = p.total
	}
	if p.CreatedAt != nil {
		r.OccurredAt = p.CreatedAt.UTC()
	}
	return r, true
}

func (p *ShopifyPayload) subID() string {
	if p.LandingSite != "" {
		if u, err := url.Parse(p.LandingSite); err == nil {
			if ref := u.Query().Get("ref"); ref != "" {
				return ref
			}
		}
	}
	for _, a := range p.NoteAttributes {
		switch strings.ToLower(a.Name) {
		case "ref", "subid", "aff_ref":
			if v := strings.TrimSpace(a.Value); v != "" {
				return v
			}
		}
	}
	return ""
}

type ImpactPayload struct {
	ActionID  string          `json:"ActionId" validate:"required,max=255"`
	OrderID   string          `json:"OrderId" validate:"required"`
	Amount    decimal.Decimal `json:"Amount" validate:"gte=0"`
	Payout    decimal.Decimal `json:"Payout" validate:"gte=0"`
	Currency  string          `json:"Currency"`
	SubID1    string          `json:"SubId1"`
	Type      string          `json:"EventType"`
	EventDate *time.Time      `json:"EventDate"`
}

func (p *ImpactPayload) Source() string          { return SourceImpact }
func (p *ImpactPayload) ExternalEventID() string { return p.ActionID }

func (p *ImpactPayload) EventType() string {
	if p.Type == "" {
		return "sale"
	}
	return p.Type
}

func (p *ImpactPayload) Conversion() (ConversionReport, bool) {
	if !isConversionEvent(p.EventType()) {
		return ConversionReport{}, false
	}
	r := ConversionReport{
		OrderID:            p.OrderID,
		OrderAmount:        p.Amount,
		ReportedCommission: p.Payout,
		Currency:           p.Currency,
		SubID:              p.SubID1,
	}
	if r.Currency == "" {
		r.Currency = "USD"
	}
	if p.EventDate != nil {
		r.OccurredAt = p.EventDate.UTC()
	}
	return r, true
}

// UnknownPayload is a delivery from a source without an adapter. It is
// recorded for audit and never attributed.
type UnknownPayload struct {
	EventID string `json:"event_id" validate:"required,max=255"`
	Type    string `json:"event_type"`

	source string
}

func (p *UnknownPayload) Source() string          { return p.source }
func (p *UnknownPayload) ExternalEventID() string { return p.EventID }

func (p *UnknownPayload) EventType() string {
	if p.Type == "" {
		return "unknown"
	}
	return p.Type
}

func (p *UnknownPayload) Conversion() (ConversionReport, bool) { return ConversionReport{}, false }
