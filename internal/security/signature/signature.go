// Package signature verifies HMAC signatures on inbound webhook deliveries.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"hash"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	SchemeHex    = "hex"
	SchemeBase64 = "base64"
	SchemeStripe = "stripe"

	AlgSHA256 = "sha256"
	AlgSHA512 = "sha512"

	DefaultMaxAge     = 5 * time.Minute
	DefaultFutureSkew = 60 * time.Second
)

var (
	ErrNoSecret           = errors.New("no webhook secret configured for source")
	ErrMissingSignature   = errors.New("missing signature header")
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrMissingTimestamp   = errors.New("missing signature timestamp")
	ErrStaleTimestamp     = errors.New("signature timestamp outside tolerance")
	ErrMismatch           = errors.New("signature mismatch")
)

// Provider is the signing convention of one webhook source. Secrets are
// looked up separately so a Provider is safe to describe to callers.
type Provider struct {
	Name            string `json:"source"`
	Header          string `json:"header"`
	Scheme          string `json:"scheme"`
	Algorithm       string `json:"algorithm"`
	TimestampHeader string `json:"timestamp_header,omitempty"`
}

// SecretFunc returns the shared secret for a source, or "" if none.
type SecretFunc func(source string) string

type Verifier struct {
	providers  map[string]Provider
	secret     SecretFunc
	maxAge     time.Duration
	futureSkew time.Duration
	now        func() time.Time
}

type Option func(*Verifier)

func WithMaxAge(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.maxAge = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(providers map[string]Provider, secret SecretFunc, opts ...Option) *Verifier {
	v := &Verifier{
		providers:  make(map[string]Provider, len(providers)),
		secret:     secret,
		maxAge:     DefaultMaxAge,
		futureSkew: DefaultFutureSkew,
		now:        time.Now,
	}
	for name, p := range providers {
		name = strings.ToLower(name)
		p.Name = name
		v.providers[name] = normalize(p)
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Provider returns the convention for source. Unconfigured sources get
// the generic X-<Source>-Signature: sha256=<hex> convention.
func (v *Verifier) Provider(source string) Provider {
	source = strings.ToLower(source)
	if p, ok := v.providers[source]; ok {
		return p
	}
	return normalize(Provider{Name: source, Header: "X-" + titleCase(source) + "-Signature"})
}

// HasSecret reports whether deliveries from source can be verified at all.
func (v *Verifier) HasSecret(source string) bool {
	return v.secret != nil && v.secret(strings.ToLower(source)) != ""
}

// Verify checks the signature headers in h against body.
func (v *Verifier) Verify(source string, h http.Header, body []byte) error {
	source = strings.ToLower(source)
	if !v.HasSecret(source) {
		return ErrNoSecret
	}
	secret := v.secret(source)
	p := v.Provider(source)

	raw := strings.TrimSpace(h.Get(p.Header))
	if raw == "" {
		return ErrMissingSignature
	}

	var (
		ts   string
		sigs [][]byte
		err  error
	)
	switch p.Scheme {
	case SchemeStripe:
		ts, sigs, err = parseStripe(raw)
	case SchemeBase64:
		sigs, err = decodeBase64(raw)
	default:
		sigs, err = decodeHex(raw, p.Algorithm)
	}
	if err != nil {
		return err
	}

	if p.Scheme != SchemeStripe && p.TimestampHeader != "" {
		ts = strings.TrimSpace(h.Get(p.TimestampHeader))
		if ts == "" {
			return ErrMissingTimestamp
		}
	}
	if ts != "" {
		if err := v.checkTimestamp(ts); err != nil {
			return err
		}
	}

	expected := compute(p.Algorithm, secret, signedPayload(ts, body))
	for _, s := range sigs {
		if hmac.Equal(expected, s) {
			return nil
		}
	}
	return ErrMismatch
}

// Sign renders the header value a sender following p would produce.
// ts may be empty when the provider does not sign timestamps.
func Sign(p Provider, secret string, body []byte, ts string) string {
	p = normalize(p)
	mac := compute(p.Algorithm, secret, signedPayload(ts, body))
	switch p.Scheme {
	case SchemeStripe:
		return "t=" + ts + ",v1=" + hex.EncodeToString(mac)
	case SchemeBase64:
		return base64.StdEncoding.EncodeToString(mac)
	default:
		return p.Algorithm + "=" + hex.EncodeToString(mac)
	}
}

func (v *Verifier) checkTimestamp(ts string) error {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrMalformedSignature
	}
	age := v.now().Sub(time.Unix(sec, 0))
	if age > v.maxAge || -age > v.futureSkew {
		return ErrStaleTimestamp
	}
	return nil
}

func signedPayload(ts string, body []byte) []byte {
	if ts == "" {
		return body
	}
	out := make([]byte, 0, len(ts)+1+len(body))
	out = append(out, ts...)
	out = append(out, '.')
	return append(out, body...)
}

func compute(alg, secret string, msg []byte) []byte {
	var fn func() hash.Hash = sha256.New
	if alg == AlgSHA512 {
		fn = sha512.New
	}
	m := hmac.New(fn, []byte(secret))
	m.Write(msg)
	return m.Sum(nil)
}

func decodeHex(raw, alg string) ([][]byte, error) {
	if prefix, value, ok := strings.Cut(raw, "="); ok {
		if !strings.EqualFold(prefix, alg) {
			return nil, ErrMalformedSignature
		}
		raw = value
	}
	b, err := hex.DecodeString(strings.ToLower(raw))
	if err != nil {
		return nil, ErrMalformedSignature
	}
	return [][]byte{b}, nil
}

func decodeBase64(raw string) ([][]byte, error) {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrMalformedSignature
	}
	return [][]byte{b}, nil
}

// parseStripe reads "t=<unix>,v1=<hex>[,v1=<hex>...]".
func parseStripe(raw string) (string, [][]byte, error) {
	var ts string
	var sigs [][]byte
	for _, part := range strings.Split(raw, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return "", nil, ErrMalformedSignature
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			b, err := hex.DecodeString(val)
			if err != nil {
				return "", nil, ErrMalformedSignature
			}
			sigs = append(sigs, b)
		}
	}
	if ts == "" {
		return "", nil, ErrMissingTimestamp
	}
	if len(sigs) == 0 {
		return "", nil, ErrMalformedSignature
	}
	return ts, sigs, nil
}

func normalize(p Provider) Provider {
	if p.Scheme == "" {
		p.Scheme = SchemeHex
	}
	if p.Algorithm == "" {
		p.Algorithm = AlgSHA256
	}
	if p.Header == "" {
		p.Header = "X-" + titleCase(p.Name) + "-Signature"
	}
	return p
}

func titleCase(s string) string {
	if s == "" {
		return "Webhook"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
