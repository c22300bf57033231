package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/affiliate-tracker/internal/application/webhook"
	"github.com/baechuer/affiliate-tracker/internal/domain"
	"github.com/baechuer/affiliate-tracker/internal/metrics"
	"github.com/baechuer/affiliate-tracker/internal/security/signature"
	"github.com/baechuer/affiliate-tracker/internal/transport/http/response"
)

const defaultMaxBodyBytes = 1 << 20

type WebhookIngester interface {
	Ingest(ctx context.Context, source string, meta webhook.Meta, body []byte) (webhook.Result, error)
}

type SignatureVerifier interface {
	Verify(source string, h http.Header, body []byte) error
	HasSecret(source string) bool
	Provider(source string) signature.Provider
}

type WebhookOptions struct {
	MaxBodyBytes int64
	// AllowUnsigned accepts deliveries from sources without a configured
	// secret. Signatures that are present are still checked.
	AllowUnsigned bool
}

type WebhookHandler struct {
	svc      WebhookIngester
	verifier SignatureVerifier
	metrics  *metrics.Metrics
	opts     WebhookOptions
}

func NewWebhookHandler(svc WebhookIngester, verifier SignatureVerifier, m *metrics.Metrics, opts WebhookOptions) *WebhookHandler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &WebhookHandler{svc: svc, verifier: verifier, metrics: m, opts: opts}
}

type webhookResponse struct {
	Status         string `json:"status"`
	Outcome        string `json:"outcome"`
	WebhookEventID string `json:"webhook_event_id"`
	ConversionID   string `json:"conversion_id,omitempty"`
}

// Receive handles POST /webhooks/{source}.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	source := strings.ToLower(chi.URLParam(r, "source"))

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Err(w, r, domain.ErrPayloadTooLarge("request body too large"))
			return
		}
		response.Err(w, r, domain.ErrValidation("unreadable request body"))
		return
	}

	if err := h.verify(source, r, body); err != nil {
		h.metrics.RecordSignatureRejected(source)
		zlog.Warn().
			Err(err).
			Str("source", source).
			Str("remote_ip", r.RemoteAddr).
			Msg("webhook_signature_rejected")
		response.Err(w, r, domain.ErrInvalidSignature(err.Error()))
		return
	}

	meta := webhook.Meta{
		DeliveryID: firstHeader(r.Header, "X-Shopify-Webhook-Id", "X-Webhook-Id"),
		Topic:      firstHeader(r.Header, "X-Shopify-Topic", "X-Webhook-Topic"),
	}
	res, err := h.svc.Ingest(r.Context(), source, meta, body)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	status := "success"
	switch {
	case res.IsDuplicate:
		status = "accepted"
	case res.Outcome != domain.OutcomeConverted:
		status = "processed"
	}
	response.JSON(w, webhook.StatusCode(res.Outcome), webhookResponse{
		Status:         status,
		Outcome:        string(res.Outcome),
		WebhookEventID: res.WebhookEventID,
		ConversionID:   res.ConversionID,
	})
}

func (h *WebhookHandler) verify(source string, r *http.Request, body []byte) error {
	err := h.verifier.Verify(source, r.Header, body)
	if errors.Is(err, signature.ErrNoSecret) && h.opts.AllowUnsigned {
		zlog.Warn().Str("source", source).Msg("webhook_unsigned_accepted")
		return nil
	}
	return err
}

type signatureInfo struct {
	signature.Provider
	Format           string `json:"format"`
	SecretConfigured bool   `json:"secret_configured"`
	Required         bool   `json:"verification_required"`
}

// SignatureInfo handles GET /webhooks/{source}/signature-info. It describes
// the expected header so partners can configure their side; the secret
// itself is never included.
func (h *WebhookHandler) SignatureInfo(w http.ResponseWriter, r *http.Request) {
	source := strings.ToLower(chi.URLParam(r, "source"))
	p := h.verifier.Provider(source)
	hasSecret := h.verifier.HasSecret(source)

	response.Data(w, http.StatusOK, signatureInfo{
		Provider:         p,
		Format:           signatureFormat(p),
		SecretConfigured: hasSecret,
		Required:         hasSecret || !h.opts.AllowUnsigned,
	})
}

func signatureFormat(p signature.Provider) string {
	switch p.Scheme {
	case signature.SchemeStripe:
		return "t=<unix>,v1=<hex hmac of \"<unix>.<body>\">"
	case signature.SchemeBase64:
		return "<base64 hmac-" + p.Algorithm + " of body>"
	default:
		if p.TimestampHeader != "" {
			return p.Algorithm + "=<hex hmac of \"<" + p.TimestampHeader + ">.<body>\">"
		}
		return p.Algorithm + "=<hex hmac of body>"
	}
}

func firstHeader(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(h.Get(k)); v != "" {
			return v
		}
	}
	return ""
}
