package resolve

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTweetID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://twitter.com/artist/status/12345":          "12345",
		"https://twitter.com/artist/status/12345/":         "12345",
		"https://x.com/artist/status/12345?s=20":           "12345",
		"https://twitter.com/artist/status/12345#fragment": "12345",
	}
	for in, want := range cases {
		require.Equal(t, want, TweetID(in), in)
	}
}

func TestResponseCache(t *testing.T) {
	t.Parallel()

	c := NewResponseCache()
	require.Equal(t, 0, c.LastStatus("1"))

	c.Put("1", APIResponse{Status: 200, At: time.Now()})
	c.Put("1", APIResponse{Status: 429, At: time.Now()})
	require.Equal(t, 429, c.LastStatus("1"))

	resp, ok := c.Get("1")
	require.True(t, ok)
	require.Equal(t, 429, resp.Status)
}

func TestAPIStrategyNoCredentialYieldsNothing(t *testing.T) {
	t.Parallel()

	logger := zap.NewNop()
	s := NewAPIStrategy("", false, NewImageFetcher(time.Second, logger), NewResponseCache(), logger)
	candidates, err := s.Resolve(context.Background(), "https://twitter.com/a/status/1")
	require.NoError(t, err)
	require.Nil(t, candidates)
	require.False(t, s.HasCredential())
}

func TestAPIStrategyResolvesPhotos(t *testing.T) {
	t.Parallel()

	image := bytes.Repeat([]byte{0x5}, DefaultMinImageBytes+1)
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(image)
	}))
	defer media.Close()

	var gotAuth, gotPath string
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"includes": {"media": [
			{"type": "photo", "media_key": "3_1", "url": "%s/one.jpg"},
			{"type": "video", "media_key": "7_2", "preview_image_url": "%s/video-thumb.jpg"},
			{"type": "photo", "media_key": "3_3", "preview_image_url": "%s/two.jpg"}
		]}}`, media.URL, media.URL, media.URL)
	}))
	defer apiSrv.Close()

	logger := zap.NewNop()
	cache := NewResponseCache()
	s := NewAPIStrategy("bearer-token", false, NewImageFetcher(5*time.Second, logger), cache, logger)
	s.SetBaseURL(apiSrv.URL)

	candidates, err := s.Resolve(context.Background(), "https://twitter.com/a/status/777")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, StrategyAPI, candidates[0].Strategy)
	require.Equal(t, media.URL+"/one.jpg", candidates[0].URL)
	require.Equal(t, media.URL+"/two.jpg", candidates[1].URL)

	require.Equal(t, "Bearer bearer-token", gotAuth)
	require.Equal(t, "/2/tweets/777", gotPath)
	require.Equal(t, http.StatusOK, cache.LastStatus("777"))
}

func TestAPIStrategyRecordsRateLimit(t *testing.T) {
	t.Parallel()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"title": "Too Many Requests"}`, http.StatusTooManyRequests)
	}))
	defer apiSrv.Close()

	logger := zap.NewNop()
	cache := NewResponseCache()
	s := NewAPIStrategy("bearer-token", false, NewImageFetcher(time.Second, logger), cache, logger)
	s.SetBaseURL(apiSrv.URL)

	candidates, err := s.Resolve(context.Background(), "https://twitter.com/a/status/888")
	require.NoError(t, err)
	require.Empty(t, candidates)
	require.Equal(t, http.StatusTooManyRequests, cache.LastStatus("888"))
}

func TestAPIStrategyEnforcesSizeFloor(t *testing.T) {
	t.Parallel()

	tiny := bytes.Repeat([]byte{0x6}, 128)
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(tiny)
	}))
	defer media.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"includes": {"media": [{"type": "photo", "url": "%s/tiny.png"}]}}`, media.URL)
	}))
	defer apiSrv.Close()

	logger := zap.NewNop()
	s := NewAPIStrategy("bearer-token", false, NewImageFetcher(time.Second, logger), NewResponseCache(), logger)
	s.SetBaseURL(apiSrv.URL)

	candidates, err := s.Resolve(context.Background(), "https://twitter.com/a/status/999")
	require.NoError(t, err)
	require.Empty(t, candidates)
}
