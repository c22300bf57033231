package click

import (
	"context"
	"math"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/affiliate-tracker/internal/domain"
)

const (
	botSignalWeight      = 0.5
	velocitySignalWeight = 0.3
)

var botIndicators = []string{"bot", "crawler", "spider", "scraper", "curl", "wget"}

func isBot(lowerUA string) bool {
	for _, ind := range botIndicators {
		if strings.Contains(lowerUA, ind) {
			return true
		}
	}
	return false
}

// FraudScorer applies the click heuristics. Signals add up and the score
// is capped at 1; no signal causes a click to be dropped.
type FraudScorer struct {
	counter VelocityCounter
	limit   int64
	window  time.Duration
}

func NewFraudScorer(counter VelocityCounter, limit int, window time.Duration) *FraudScorer {
	if window <= 0 {
		window = time.Minute
	}
	return &FraudScorer{counter: counter, limit: int64(limit), window: window}
}

func (f *FraudScorer) Score(ctx context.Context, ipHash, userAgent string) (float64, domain.FraudFlags) {
	var flags domain.FraudFlags
	score := 0.0

	if isBot(strings.ToLower(userAgent)) {
		flags.IsBot = true
		score += botSignalWeight
	}

	if f.counter != nil && f.limit > 0 {
		key := velocityKey(ipHash)
		n, err := f.counter.IncrWithExpiry(ctx, key, f.window)
		if err != nil {
			zlog.Warn().Err(err).Str("key", key).Msg("velocity check skipped")
		} else {
			flags.VelocityCount = n
			if n > f.limit {
				flags.VelocityExceeded = true
				score += velocitySignalWeight
			}
		}
	}

	return math.Min(math.Round(score*100)/100, 1), flags
}

// velocityKey is clicks:ip:<salted ip hash>. The raw address never reaches
// the cache, so a replacement cache must key on the hash as well.
func velocityKey(ipHash string) string {
	return "clicks:ip:" + ipHash
}
