package click

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/baechuer/affiliate-tracker/internal/domain"
)

func TestHashIP(t *testing.T) {
	a := HashIP("203.0.113.7", "salt-a")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashIP("203.0.113.7", "salt-a"))
	assert.NotEqual(t, a, HashIP("203.0.113.7", "salt-b"))
	assert.NotContains(t, a, "203.0.113.7")
}

func TestDeviceFingerprint(t *testing.T) {
	fp := DeviceFingerprint("Mozilla/5.0", "203.0.113.7")
	assert.Len(t, fp, 32)
	assert.Equal(t, fp, DeviceFingerprint("Mozilla/5.0", "203.0.113.7"))
	assert.NotEqual(t, fp, DeviceFingerprint("Mozilla/5.0", "203.0.113.8"))
}

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		name         string
		ua           string
		wantPlatform string
		wantBrowser  string
	}{
		{"desktop_chrome", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36", domain.PlatformDesktop, "chrome"},
		{"desktop_edge", "Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 Edg/120.0", domain.PlatformDesktop, "edge"},
		{"desktop_firefox", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", domain.PlatformDesktop, "firefox"},
		{"iphone_safari", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1", domain.PlatformMobile, "safari"},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1", domain.PlatformTablet, "safari"},
		{"android_phone", "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36", domain.PlatformMobile, "chrome"},
		{"android_tablet", "Mozilla/5.0 (Linux; Android 14; SM-X710) AppleWebKit/537.36 Chrome/120.0 Safari/537.36", domain.PlatformTablet, "chrome"},
		{"curl", "curl/8.4.0", domain.PlatformBot, "other"},
		{"googlebot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", domain.PlatformBot, "other"},
		{"empty", "", domain.PlatformDesktop, "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, b := ParseUserAgent(tt.ua)
			assert.Equal(t, tt.wantPlatform, p)
			assert.Equal(t, tt.wantBrowser, b)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Len(t, truncate(strings.Repeat("x", 600), maxUserAgentLen), maxUserAgentLen)

	// "é" is two bytes; cutting through it must not leave half a rune
	s := strings.Repeat("a", 4) + "é"
	assert.Equal(t, "aaaa", truncate(s, 5))
}
