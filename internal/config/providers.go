package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// WebhookProvider describes how a source signs its deliveries.
type WebhookProvider struct {
	Header          string `yaml:"header"`
	Scheme          string `yaml:"scheme"`    // hex | base64 | stripe
	Algorithm       string `yaml:"algorithm"` // sha256 | sha512
	TimestampHeader string `yaml:"timestamp_header"`
}

type providersFile struct {
	Providers map[string]WebhookProvider `yaml:"providers"`
}

// DefaultProviders covers the networks with a payload adapter.
func DefaultProviders() map[string]WebhookProvider {
	return map[string]WebhookProvider{
		"refersion": {Header: "X-Refersion-Signature", Scheme: "hex", Algorithm: "sha256"},
		"shopify":   {Header: "X-Shopify-Hmac-Sha256", Scheme: "base64", Algorithm: "sha256"},
		"impact":    {Header: "X-Impact-Signature", Scheme: "hex", Algorithm: "sha256"},
	}
}

// LoadProviders returns the defaults overlaid with the YAML file at path.
// An empty path yields the defaults.
func LoadProviders(path string) (map[string]WebhookProvider, error) {
	out := DefaultProviders()
	if path == "" {
		return out, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read WEBHOOK_PROVIDERS_FILE: %w", err)
	}

	var f providersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse WEBHOOK_PROVIDERS_FILE: %w", err)
	}

	for name, p := range f.Providers {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		switch p.Scheme {
		case "", "hex", "base64", "stripe":
		default:
			return nil, fmt.Errorf("provider %q: unknown scheme %q", name, p.Scheme)
		}
		switch p.Algorithm {
		case "", "sha256", "sha512":
		default:
			return nil, fmt.Errorf("provider %q: unknown algorithm %q", name, p.Algorithm)
		}
		out[name] = p
	}
	return out, nil
}
