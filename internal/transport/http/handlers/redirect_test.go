package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/affiliate-tracker/internal/application/click"
	"github.com/baechuer/affiliate-tracker/internal/application/redirect"
	"github.com/baechuer/affiliate-tracker/internal/domain"
)

type stubResolver struct {
	res redirect.Resolution
	err error
}

func (s stubResolver) Resolve(ctx context.Context, slug string) (redirect.Resolution, error) {
	if s.err != nil {
		return redirect.Resolution{}, s.err
	}
	return s.res, nil
}

type stubClicks struct {
	mu     sync.Mutex
	inputs []click.Input
}

func (s *stubClicks) Record(in click.Input) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	return "click-1", true
}

var summerLink = domain.LinkDescriptor{
	ID:               "link-1",
	Slug:             "summer",
	InfluencerID:     "inf-42",
	ProgramID:        "prog-1",
	DestinationURL:   "https://shop.example.com/p/1?utm_source=aff",
	SubID:            "inf-42_summer_1700000000",
	CookieWindowDays: 30,
}

func TestRedirectHandler_Redirect(t *testing.T) {
	t.Run("found_sets_location_cookie_and_headers", func(t *testing.T) {
		clicks := &stubClicks{}
		h := NewRedirectHandler(stubResolver{res: redirect.Resolution{Link: summerLink, CacheStatus: redirect.CacheHit}}, clicks, RedirectOptions{CookiePrefix: "aff_ref"})

		req := httptest.NewRequest(http.MethodGet, "/l/summer", nil)
		req.RemoteAddr = "203.0.113.7:51234"
		req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)")
		req.Header.Set("Referer", "https://social.example.com/post/9")
		req = withURLParams(req, "slug", "summer")
		rr := httptest.NewRecorder()

		h.Redirect(rr, req)

		require.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, summerLink.DestinationURL, rr.Header().Get("Location"))
		assert.Equal(t, "HIT", rr.Header().Get("X-Cache-Status"))
		assert.NotEmpty(t, rr.Header().Get("X-Processing-Time-Ms"))
		assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
		assert.Equal(t, redirectBy, rr.Header().Get("X-Redirect-By"))

		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1)
		c := cookies[0]
		assert.Equal(t, "aff_ref_inf-42", c.Name)
		assert.Equal(t, "summer", c.Value)
		assert.Equal(t, 30*86400, c.MaxAge)
		assert.True(t, c.HttpOnly)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		assert.Equal(t, "/", c.Path)

		require.Len(t, clicks.inputs, 1)
		in := clicks.inputs[0]
		assert.Equal(t, "link-1", in.LinkID)
		assert.Equal(t, summerLink.SubID, in.SubID)
		assert.Equal(t, "203.0.113.7", in.ClientIP)
		assert.Equal(t, "https://social.example.com/post/9", in.Referer)
		assert.False(t, in.ClickedAt.IsZero())
	})

	t.Run("not_found_returns_404_without_click", func(t *testing.T) {
		clicks := &stubClicks{}
		h := NewRedirectHandler(stubResolver{err: redirect.ErrLinkNotFound}, clicks, RedirectOptions{})

		rr := httptest.NewRecorder()
		h.Redirect(rr, withURLParams(httptest.NewRequest(http.MethodGet, "/l/nope", nil), "slug", "nope"))

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Contains(t, rr.Body.String(), "not_found")
		assert.Empty(t, rr.Result().Cookies())
		assert.Empty(t, clicks.inputs)
	})

	t.Run("not_found_redirects_to_configured_url", func(t *testing.T) {
		h := NewRedirectHandler(stubResolver{err: redirect.ErrLinkNotFound}, &stubClicks{}, RedirectOptions{NotFoundURL: "https://example.com/"})

		rr := httptest.NewRecorder()
		h.Redirect(rr, withURLParams(httptest.NewRequest(http.MethodGet, "/l/nope", nil), "slug", "nope"))

		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, "https://example.com/", rr.Header().Get("Location"))
	})

	t.Run("store_failure_never_surfaces_500", func(t *testing.T) {
		h := NewRedirectHandler(stubResolver{err: errors.New("resolve: context deadline exceeded")}, &stubClicks{}, RedirectOptions{})

		rr := httptest.NewRecorder()
		h.Redirect(rr, withURLParams(httptest.NewRequest(http.MethodGet, "/l/summer", nil), "slug", "summer"))

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.NotContains(t, rr.Body.String(), "deadline")
	})

	t.Run("secure_cookie_behind_tls_proxy", func(t *testing.T) {
		h := NewRedirectHandler(stubResolver{res: redirect.Resolution{Link: summerLink, CacheStatus: redirect.CacheMiss}}, nil, RedirectOptions{})

		req := httptest.NewRequest(http.MethodGet, "/l/summer", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		rr := httptest.NewRecorder()
		h.Redirect(rr, withURLParams(req, "slug", "summer"))

		require.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, "MISS", rr.Header().Get("X-Cache-Status"))
		require.Len(t, rr.Result().Cookies(), 1)
		assert.True(t, rr.Result().Cookies()[0].Secure)
	})
}

func TestCookieName(t *testing.T) {
	assert.Equal(t, "aff_ref_abc-123", cookieName("aff_ref", "abc-123"))
	assert.Equal(t, "aff_ref_abc", cookieName("aff_ref", "a b;c"))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.1"
	assert.Equal(t, "198.51.100.1", clientIP(r))

	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", clientIP(r))
}
