package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/baechuer/affiliate-tracker/internal/logger"
)

// LinkChangedChannel is notified by the tracking_links_notify trigger with
// the slug as payload.
const LinkChangedChannel = "tracking_link_changed"

type LinkInvalidator interface {
	Invalidate(ctx context.Context, slug string) error
}

// LinkListener evicts cached link descriptors when a link is deactivated
// or re-pointed, so the cache does not serve it for the rest of its TTL.
type LinkListener struct {
	dsn         string
	invalidator LinkInvalidator
	minBackoff  time.Duration
	maxBackoff  time.Duration
}

func NewLinkListener(dsn string, inv LinkInvalidator) *LinkListener {
	return &LinkListener{
		dsn:         dsn,
		invalidator: inv,
		minBackoff:  time.Second,
		maxBackoff:  time.Minute,
	}
}

// Run listens until ctx is cancelled. It only returns an error when the
// initial LISTEN fails; later connection drops are retried by pq.
func (l *LinkListener) Run(ctx context.Context) error {
	log := logger.Component("link_listener")

	pl := pq.NewListener(l.dsn, l.minBackoff, l.maxBackoff, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			log.Warn().Err(err).Msg("listener connection lost")
		case pq.ListenerEventReconnected:
			log.Info().Msg("listener reconnected")
		}
	})
	defer pl.Close()

	if err := pl.Listen(LinkChangedChannel); err != nil {
		return err
	}
	log.Info().Str("channel", LinkChangedChannel).Msg("listening")

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-pl.Notify:
			// nil after a reconnect; anything sent meanwhile is lost and
			// ages out with the cache TTL.
			if n == nil {
				continue
			}
			l.handle(ctx, n.Extra)
		case <-ping.C:
			go func() { _ = pl.Ping() }()
		}
	}
}

func (l *LinkListener) handle(ctx context.Context, payload string) {
	slug := strings.TrimSpace(payload)
	if slug == "" {
		return
	}
	if err := l.invalidator.Invalidate(ctx, slug); err != nil {
		log := logger.Component("link_listener")
		log.Warn().Err(err).Str("slug", slug).Msg("cache invalidation failed")
	}
}
