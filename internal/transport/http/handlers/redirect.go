package handlers

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/affiliate-tracker/internal/application/click"
	"github.com/baechuer/affiliate-tracker/internal/application/redirect"
	"github.com/baechuer/affiliate-tracker/internal/domain"
	"github.com/baechuer/affiliate-tracker/internal/transport/http/response"
)

const (
	redirectBy        = "affiliate-tracker"
	slowRedirect      = 5 * time.Millisecond
	noStoreHeader     = "no-cache, no-store, must-revalidate"
	defaultCookieName = "aff_ref"
)

type LinkResolver interface {
	Resolve(ctx context.Context, slug string) (redirect.Resolution, error)
}

type ClickRecorder interface {
	Record(in click.Input) (clickID string, queued bool)
}

type RedirectOptions struct {
	CookiePrefix string
	// NotFoundURL, when set, receives unknown slugs with a 302 instead
	// of a 404.
	NotFoundURL string
}

type RedirectHandler struct {
	links  LinkResolver
	clicks ClickRecorder
	opts   RedirectOptions
}

func NewRedirectHandler(links LinkResolver, clicks ClickRecorder, opts RedirectOptions) *RedirectHandler {
	if opts.CookiePrefix == "" {
		opts.CookiePrefix = defaultCookieName
	}
	return &RedirectHandler{links: links, clicks: clicks, opts: opts}
}

// Redirect handles GET /{prefix}/{slug}.
func (h *RedirectHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	slug := chi.URLParam(r, "slug")

	res, err := h.links.Resolve(r.Context(), slug)
	if err != nil {
		h.fallback(w, r, slug, err)
		return
	}
	link := res.Link

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName(h.opts.CookiePrefix, link.InfluencerID),
		Value:    link.Slug,
		Path:     "/",
		MaxAge:   link.CookieWindowDays * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})

	elapsed := time.Since(start)
	hdr := w.Header()
	hdr.Set("Location", link.DestinationURL)
	hdr.Set("Cache-Control", noStoreHeader)
	hdr.Set("X-Cache-Status", res.CacheStatus)
	hdr.Set("X-Processing-Time-Ms", strconv.FormatFloat(float64(elapsed.Microseconds())/1000, 'f', 3, 64))
	hdr.Set("X-Redirect-By", redirectBy)
	w.WriteHeader(http.StatusFound)

	if h.clicks != nil {
		h.clicks.Record(click.Input{
			LinkID:    link.ID,
			SubID:     link.SubID,
			ClientIP:  clientIP(r),
			UserAgent: r.UserAgent(),
			Referer:   r.Referer(),
			ClickedAt: start.UTC(),
		})
	}

	if elapsed > slowRedirect {
		zlog.Warn().
			Str("slug", slug).
			Str("cache", res.CacheStatus).
			Dur("elapsed", elapsed).
			Msg("slow_redirect")
	}
}

// fallback answers unknown slugs and store failures alike, so visitors
// never see an internal error.
func (h *RedirectHandler) fallback(w http.ResponseWriter, r *http.Request, slug string, err error) {
	if domain.HasCode(err, domain.CodeNotFound) {
		zlog.Warn().Str("slug", slug).Msg("redirect_not_found")
	} else {
		zlog.Error().Err(err).Str("slug", slug).Msg("redirect_resolve_failed")
	}

	w.Header().Set("Cache-Control", noStoreHeader)
	w.Header().Set("X-Redirect-By", redirectBy)
	if h.opts.NotFoundURL != "" {
		http.Redirect(w, r, h.opts.NotFoundURL, http.StatusFound)
		return
	}
	response.Err(w, r, redirect.ErrLinkNotFound)
}

// cookieName keeps only cookie-token characters of the influencer id.
func cookieName(prefix, influencerID string) string {
	var b strings.Builder
	b.Grow(len(prefix) + 1 + len(influencerID))
	b.WriteString(prefix)
	b.WriteByte('_')
	for _, c := range influencerID {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		}
	}
	return b.String()
}

// clientIP expects chi's RealIP to have rewritten RemoteAddr already.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
