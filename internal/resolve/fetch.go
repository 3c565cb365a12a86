package resolve

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/metrics"
)

// DefaultMinImageBytes is the size floor applied by higher-confidence paths
// to reject icons, avatars and placeholder responses.
const DefaultMinImageBytes = 10 * 1024

// DefaultUserAgent identifies the service on outbound image requests.
const DefaultUserAgent = "fanart-viewer-bot/1.0"

// FetchOptions tunes a single image retrieval.
type FetchOptions struct {
	// MinBytes rejects payloads shorter than this; 0 disables the floor.
	MinBytes int
	// Referer is sent when non-empty. Some hosts guard originals with
	// referer checks.
	Referer string
	// Cookie is a raw Cookie header value for authenticated fetches.
	Cookie string
}

// ImageFetcher performs bounded single-URL image retrievals. It is the sole
// I/O boundary shared by every strategy: transport errors, non-image
// responses and undersized payloads all collapse to a failed result, never
// an error.
type ImageFetcher struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewImageFetcher builds a fetcher with the given timeout; zero means 12s.
func NewImageFetcher(timeout time.Duration, logger *zap.Logger) *ImageFetcher {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &ImageFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: DefaultUserAgent,
		logger:    logger,
	}
}

// Fetch retrieves the URL and validates the response is an acceptable image.
// It reports ok=false for any transport error, non-2xx status, non-image or
// SVG content type, or payload below opts.MinBytes.
func (f *ImageFetcher) Fetch(ctx context.Context, rawURL string, opts FetchOptions) (data []byte, contentType string, ok bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", false
	}
	req.Header.Set("User-Agent", f.userAgent)
	if opts.Referer != "" {
		req.Header.Set("Referer", opts.Referer)
	}
	if opts.Cookie != "" {
		req.Header.Set("Cookie", opts.Cookie)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("image fetch failed", zap.String("url", rawURL), zap.Error(err))
		return nil, "", false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", false
	}
	mediaType := mediaTypeOf(resp.Header.Get("Content-Type"))
	if !acceptableImageType(mediaType) {
		return nil, "", false
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", false
	}
	if opts.MinBytes > 0 && len(body) < opts.MinBytes {
		f.logger.Debug("image below size floor",
			zap.String("url", rawURL),
			zap.Int("size", len(body)),
			zap.Int("floor", opts.MinBytes))
		return nil, "", false
	}
	metrics.ObserveFetch(rawURL, len(body))
	return body, mediaType, true
}

// mediaTypeOf strips parameters from a Content-Type header value.
func mediaTypeOf(header string) string {
	if i := strings.IndexByte(header, ';'); i >= 0 {
		header = header[:i]
	}
	return strings.TrimSpace(strings.ToLower(header))
}

// acceptableImageType admits image/* except SVG, which is typically
// decorative chrome rather than artwork.
func acceptableImageType(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") && mediaType != "image/svg+xml"
}
