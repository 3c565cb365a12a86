package resolve

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	mode, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeDirectScrape, mode)

	for _, s := range []string{"direct-scrape", "api", "rendered"} {
		mode, err := ParseMode(s)
		require.NoError(t, err)
		require.Equal(t, Mode(s), mode)
	}

	_, err = ParseMode("headless")
	require.Error(t, err)
}

func TestDedupeByURL(t *testing.T) {
	t.Parallel()

	in := []Candidate{
		{URL: "https://a.example/1.jpg", Strategy: StrategyDirect},
		{URL: "https://a.example/2.jpg", Strategy: StrategyScrape},
		{URL: "https://a.example/1.jpg", Strategy: StrategyScrape},
	}
	out := dedupeByURL(in)
	require.Len(t, out, 2)
	require.Equal(t, StrategyDirect, out[0].Strategy)
	require.Equal(t, "https://a.example/2.jpg", out[1].URL)
}

func TestApplySizeFloor(t *testing.T) {
	t.Parallel()

	in := []Candidate{
		{URL: "a", Data: bytes.Repeat([]byte{1}, DefaultMinImageBytes)},
		{URL: "b", Data: bytes.Repeat([]byte{1}, DefaultMinImageBytes-1)},
	}
	out := applySizeFloor(in, DefaultMinImageBytes)
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].URL)
}

func newTestResolverWithBearer(t *testing.T, bearer string) (*Resolver, *APIStrategy) {
	t.Helper()
	logger := zap.NewNop()
	fetcher := NewImageFetcher(5*time.Second, logger)
	direct := NewDirectStrategy(fetcher, logger)
	scrape := NewScrapeStrategy(5*time.Second, fetcher, nil, logger)
	api := NewAPIStrategy(bearer, false, fetcher, NewResponseCache(), logger)
	rendered := NewRenderedStrategy(RenderedConfig{}, fetcher, logger)
	return NewResolver(direct, scrape, api, rendered, logger), api
}

func TestResolverRejectsBadTarget(t *testing.T) {
	t.Parallel()

	r, _ := newTestResolverWithBearer(t, "")
	_, err := r.Resolve(context.Background(), "not a url", ModeDirectScrape)
	require.Error(t, err)

	_, err = r.Resolve(context.Background(), "https://example.com/p/1", Mode("bogus"))
	require.Error(t, err)
}

func TestResolverDirectScrapeDedupes(t *testing.T) {
	t.Parallel()

	// The page declares itself as its own og:image and is served with an
	// image content type, so the direct fetch and the scraped hint resolve
	// to the identical URL. The merged set must carry it once.
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprintf(w, `<html><head><meta property="og:image" content="%s/post"></head></html>`, srv.URL)
	}))
	defer srv.Close()

	r, _ := newTestResolverWithBearer(t, "")
	candidates, err := r.Resolve(context.Background(), srv.URL+"/post", ModeDirectScrape)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, srv.URL+"/post", candidates[0].URL)
	require.Equal(t, StrategyDirect, candidates[0].Strategy)
}

func TestResolverDirectScrapeMergesBoth(t *testing.T) {
	t.Parallel()

	image := bytes.Repeat([]byte{0x9}, 2048)
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/post":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, `<html><body><img src="%s/art.jpg"></body></html>`, srv.URL)
		case "/art.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(image)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r, _ := newTestResolverWithBearer(t, "")
	candidates, err := r.Resolve(context.Background(), srv.URL+"/post", ModeDirectScrape)
	require.NoError(t, err)

	// Direct rejects the HTML document; only the scraped image survives.
	require.Len(t, candidates, 1)
	require.Equal(t, srv.URL+"/art.jpg", candidates[0].URL)
	require.Equal(t, StrategyScrape, candidates[0].Strategy)
	require.Equal(t, image, candidates[0].Data)
}

func TestResolverAPIModeWithoutCredential(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(bytes.Repeat([]byte{1}, DefaultMinImageBytes))
	}))
	defer srv.Close()

	r, _ := newTestResolverWithBearer(t, "")
	_, err := r.Resolve(context.Background(), srv.URL+"/a/status/1", ModeAPI)
	require.ErrorIs(t, err, ErrNoCredential)
	require.Zero(t, calls.Load(), "credential check must not touch the network")
}

func TestResolverAPIModeRateLimitSubstitutesScrape(t *testing.T) {
	t.Parallel()

	image := bytes.Repeat([]byte{0x7}, 2048)
	var origin *httptest.Server
	origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a/status/55":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, `<html><head><meta property="og:image" content="%s/photo.jpg"></head></html>`, origin.URL)
		case "/photo.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(image)
		default:
			http.NotFound(w, r)
		}
	}))
	defer origin.Close()

	var apiCalls atomic.Int64
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		http.Error(w, `{"title": "Too Many Requests"}`, http.StatusTooManyRequests)
	}))
	defer apiSrv.Close()

	r, api := newTestResolverWithBearer(t, "bearer-token")
	api.SetBaseURL(apiSrv.URL)

	candidates, err := r.Resolve(context.Background(), origin.URL+"/a/status/55", ModeAPI)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, StrategyScrape, candidates[0].Strategy)
	require.EqualValues(t, 1, apiCalls.Load())

	// A repeat request short-circuits on the cached 429 without touching
	// the API again.
	candidates, err = r.Resolve(context.Background(), origin.URL+"/a/status/55", ModeAPI)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.EqualValues(t, 1, apiCalls.Load())
}

func TestResolverRenderedModeDisabled(t *testing.T) {
	t.Parallel()

	r, _ := newTestResolverWithBearer(t, "")
	_, err := r.Resolve(context.Background(), "https://www.pixiv.net/artworks/1", ModeRendered)
	require.ErrorIs(t, err, ErrRenderingDisabled)
}
