package click

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/baechuer/affiliate-tracker/internal/domain"
)

const (
	maxUserAgentLen = 500
	maxRefererLen   = 1000
	fingerprintLen  = 32
)

// HashIP returns the salted hash stored in place of the client IP.
func HashIP(ip, salt string) string {
	sum := sha256.Sum256([]byte(ip + ":" + salt))
	return hex.EncodeToString(sum[:])
}

// DeviceFingerprint is stable for a (user agent, client ip) pair.
func DeviceFingerprint(userAgent, ip string) string {
	sum := sha256.Sum256([]byte(userAgent + "_" + ip))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// ParseUserAgent classifies a user agent into platform and browser family.
func ParseUserAgent(ua string) (platform, browser string) {
	l := strings.ToLower(ua)

	switch {
	case isBot(l):
		platform = domain.PlatformBot
	case strings.Contains(l, "ipad") || strings.Contains(l, "tablet") ||
		(strings.Contains(l, "android") && !strings.Contains(l, "mobile")):
		platform = domain.PlatformTablet
	case strings.Contains(l, "mobile") || strings.Contains(l, "iphone") || strings.Contains(l, "android"):
		platform = domain.PlatformMobile
	default:
		platform = domain.PlatformDesktop
	}

	switch {
	case strings.Contains(l, "edg/") || strings.Contains(l, "edge"):
		browser = "edge"
	case strings.Contains(l, "chrome") || strings.Contains(l, "crios"):
		browser = "chrome"
	case strings.Contains(l, "firefox") || strings.Contains(l, "fxios"):
		browser = "firefox"
	case strings.Contains(l, "safari"):
		browser = "safari"
	default:
		browser = "other"
	}
	return platform, browser
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to a rune boundary
	for n > 0 && n < len(s) && (s[n]&0xC0) == 0x80 {
		n--
	}
	return s[:n]
}
