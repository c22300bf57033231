package redirect

import (
	"context"
	"errors"
	"fmt"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/affiliate-tracker/internal/domain"
	"github.com/baechuer/affiliate-tracker/internal/metrics"
)

const (
	CacheHit  = "HIT"
	CacheMiss = "MISS"
)

// ErrLinkNotFound is returned for unknown and inactive slugs alike.
var ErrLinkNotFound = domain.ErrNotFound("link not found")

type Options struct {
	CacheTTL                time.Duration
	StoreTimeout            time.Duration
	DefaultCookieWindowDays int
}

type Service struct {
	store   LinkStore
	cache   Cache
	metrics *metrics.Metrics

	ttl               time.Duration
	storeTimeout      time.Duration
	defaultCookieDays int
}

type Resolution struct {
	Link        domain.LinkDescriptor
	CacheStatus string
}

func New(store LinkStore, cache Cache, m *metrics.Metrics, opts Options) *Service {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 50 * time.Millisecond
	}
	if opts.DefaultCookieWindowDays <= 0 {
		opts.DefaultCookieWindowDays = 7
	}
	return &Service{
		store:             store,
		cache:             cache,
		metrics:           m,
		ttl:               opts.CacheTTL,
		storeTimeout:      opts.StoreTimeout,
		defaultCookieDays: opts.DefaultCookieWindowDays,
	}
}

// Resolve maps a slug to its destination. Cache errors degrade to a store
// lookup; the store lookup is bounded by the configured timeout.
func (s *Service) Resolve(ctx context.Context, slug string) (Resolution, error) {
	start := time.Now()
	if slug == "" {
		s.metrics.RecordRedirect("not_found", time.Since(start))
		return Resolution{}, ErrLinkNotFound
	}

	// 1. Try Cache
	key := cacheKeyLink(slug)
	if s.cache != nil {
		var cached domain.LinkDescriptor
		found, err := s.cache.Get(ctx, key, &cached)
		switch {
		case err != nil:
			s.metrics.RecordCacheError("get")
			zlog.Warn().Err(err).Str("key", key).Msg("cache get failed")
		case found && cached.DestinationURL != "":
			s.metrics.RecordRedirect("hit", time.Since(start))
			return Resolution{Link: s.withDefaults(cached), CacheStatus: CacheHit}, nil
		}
	}

	// 2. DB Query
	dbCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	link, err := s.store.GetActiveLinkBySlug(dbCtx, slug)
	if err != nil {
		if domain.HasCode(err, domain.CodeNotFound) {
			s.metrics.RecordRedirect("not_found", time.Since(start))
			return Resolution{}, ErrLinkNotFound
		}
		s.metrics.RecordRedirect("error", time.Since(start))
		return Resolution{}, fmt.Errorf("resolve %q: %w", slug, err)
	}
	resolved := s.withDefaults(*link)

	// 3. Set Cache (Best Effort)
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, resolved, s.ttl); err != nil {
			s.metrics.RecordCacheError("set")
			zlog.Warn().Err(err).Str("key", key).Msg("cache set failed")
		}
	}

	s.metrics.RecordRedirect("miss", time.Since(start))
	return Resolution{Link: resolved, CacheStatus: CacheMiss}, nil
}

// Prewarm loads up to limit active links into the cache.
func (s *Service) Prewarm(ctx context.Context, limit int) (int, error) {
	if s.cache == nil || limit <= 0 {
		return 0, nil
	}
	links, err := s.store.ListActiveLinks(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list active links: %w", err)
	}

	warmed := 0
	for _, l := range links {
		if err := s.cache.Set(ctx, cacheKeyLink(l.Slug), s.withDefaults(l), s.ttl); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return warmed, err
			}
			s.metrics.RecordCacheError("set")
			continue
		}
		warmed++
	}
	return warmed, nil
}

// Invalidate drops the cached descriptor for slug.
func (s *Service) Invalidate(ctx context.Context, slug string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Delete(ctx, cacheKeyLink(slug)); err != nil {
		s.metrics.RecordCacheError("delete")
		return err
	}
	return nil
}

func (s *Service) withDefaults(l domain.LinkDescriptor) domain.LinkDescriptor {
	if l.CookieWindowDays <= 0 {
		l.CookieWindowDays = s.defaultCookieDays
	}
	return l
}
