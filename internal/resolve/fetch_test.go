package resolve

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func imageServer(t *testing.T, contentType string, body []byte, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAcceptsImage(t *testing.T) {
	t.Parallel()

	body := bytes.Repeat([]byte{0xAB}, 512)
	srv := imageServer(t, "image/jpeg; charset=binary", body, http.StatusOK)

	f := NewImageFetcher(5*time.Second, zap.NewNop())
	data, contentType, ok := f.Fetch(context.Background(), srv.URL, FetchOptions{})
	require.True(t, ok)
	require.Equal(t, body, data)
	require.Equal(t, "image/jpeg", contentType)
}

func TestFetchSizeFloorBoundary(t *testing.T) {
	t.Parallel()

	exact := bytes.Repeat([]byte{0x1}, 256)
	srv := imageServer(t, "image/png", exact, http.StatusOK)
	f := NewImageFetcher(5*time.Second, zap.NewNop())

	// Payload length == MinBytes is accepted.
	_, _, ok := f.Fetch(context.Background(), srv.URL, FetchOptions{MinBytes: 256})
	require.True(t, ok)

	// One byte stricter rejects it.
	_, _, ok = f.Fetch(context.Background(), srv.URL, FetchOptions{MinBytes: 257})
	require.False(t, ok)
}

func TestFetchRejections(t *testing.T) {
	t.Parallel()

	body := bytes.Repeat([]byte{0x2}, 512)
	cases := []struct {
		name        string
		contentType string
		status      int
	}{
		{"html response", "text/html", http.StatusOK},
		{"svg response", "image/svg+xml", http.StatusOK},
		{"missing content type", "", http.StatusOK},
		{"not found", "image/png", http.StatusNotFound},
		{"server error", "image/png", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := imageServer(t, tc.contentType, body, tc.status)
			f := NewImageFetcher(5*time.Second, zap.NewNop())
			_, _, ok := f.Fetch(context.Background(), srv.URL, FetchOptions{})
			require.False(t, ok)
		})
	}
}

func TestFetchSendsHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotReferer, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		gotCookie = r.Header.Get("Cookie")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(bytes.Repeat([]byte{0x3}, 64))
	}))
	t.Cleanup(srv.Close)

	f := NewImageFetcher(5*time.Second, zap.NewNop())
	_, _, ok := f.Fetch(context.Background(), srv.URL, FetchOptions{
		Referer: "https://www.pixiv.net/",
		Cookie:  "PHPSESSID=abc",
	})
	require.True(t, ok)
	require.Equal(t, DefaultUserAgent, gotUA)
	require.Equal(t, "https://www.pixiv.net/", gotReferer)
	require.Equal(t, "PHPSESSID=abc", gotCookie)
}

func TestFetchTransportError(t *testing.T) {
	t.Parallel()

	f := NewImageFetcher(time.Second, zap.NewNop())
	_, _, ok := f.Fetch(context.Background(), "http://127.0.0.1:1/nothing", FetchOptions{})
	require.False(t, ok)
}
