package resolve

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/metrics"
)

// DefaultAPIBase is the Twitter v2 data API endpoint.
const DefaultAPIBase = "https://api.twitter.com"

// APIResponse retains one raw API exchange for debugging.
type APIResponse struct {
	Status int
	Body   json.RawMessage
	At     time.Time
}

// ResponseCache keeps the most recent API response per post identifier for
// the lifetime of the process. Volume is low, so entries are never evicted.
type ResponseCache struct {
	mu sync.RWMutex
	m  map[string]APIResponse
}

// NewResponseCache creates an empty cache.
func NewResponseCache() *ResponseCache {
	return &ResponseCache{m: make(map[string]APIResponse)}
}

// Put stores the response for the post id, replacing any prior one.
func (c *ResponseCache) Put(id string, resp APIResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[id] = resp
}

// Get returns the stored response for the post id.
func (c *ResponseCache) Get(id string) (APIResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.m[id]
	return resp, ok
}

// LastStatus returns the HTTP status of the last exchange for the post id,
// or 0 when none is recorded.
func (c *ResponseCache) LastStatus(id string) int {
	resp, ok := c.Get(id)
	if !ok {
		return 0
	}
	return resp.Status
}

// APIStrategy resolves media through the provider's official versioned data
// API. It requires a bearer credential; without one it yields nothing.
type APIStrategy struct {
	bearer  string
	baseURL string
	client  *http.Client
	fetcher *ImageFetcher
	cache   *ResponseCache
	debug   bool
	logger  *zap.Logger
}

// NewAPIStrategy builds the structured-API strategy. The cache must be
// non-nil; it is owned by this strategy instance rather than ambient state.
func NewAPIStrategy(bearer string, debug bool, fetcher *ImageFetcher, cache *ResponseCache, logger *zap.Logger) *APIStrategy {
	return &APIStrategy{
		bearer:  bearer,
		baseURL: DefaultAPIBase,
		client:  &http.Client{Timeout: 8 * time.Second},
		fetcher: fetcher,
		cache:   cache,
		debug:   debug,
		logger:  logger,
	}
}

// SetBaseURL overrides the API endpoint (used by tests).
func (s *APIStrategy) SetBaseURL(base string) { s.baseURL = base }

// HasCredential reports whether a bearer token is configured.
func (s *APIStrategy) HasCredential() bool { return s.bearer != "" }

// Cache returns the strategy's response cache.
func (s *APIStrategy) Cache() *ResponseCache { return s.cache }

// Name returns the strategy tag.
func (s *APIStrategy) Name() string { return StrategyAPI }

type tweetMediaResponse struct {
	Includes struct {
		Media []struct {
			Type            string `json:"type"`
			URL             string `json:"url"`
			PreviewImageURL string `json:"preview_image_url"`
		} `json:"media"`
	} `json:"includes"`
}

// Resolve queries the data API for attached media and fetches each photo
// URL. A missing credential or any API failure yields an empty result; rate
// limiting is visible to callers through the response cache.
func (s *APIStrategy) Resolve(ctx context.Context, target string) ([]Candidate, error) {
	if s.bearer == "" {
		return nil, nil
	}
	id := TweetID(target)
	if id == "" {
		return nil, nil
	}

	endpoint := s.baseURL + "/2/tweets/" + id
	params := url.Values{
		"expansions":   {"attachments.media_keys"},
		"media.fields": {"media_key,type,url,preview_image_url,alt_text"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, nil
	}
	req.Header.Set("Authorization", "Bearer "+s.bearer)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("API request failed", zap.String("tweet_id", id), zap.Error(err))
		metrics.ObserveStrategy(StrategyAPI, 0)
		return nil, nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		body = nil
	}
	s.cache.Put(id, APIResponse{Status: resp.StatusCode, Body: body, At: time.Now()})
	if s.debug {
		s.logger.Info("API response",
			zap.String("tweet_id", id),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ObserveStrategy(StrategyAPI, 0)
		return nil, nil
	}

	var parsed tweetMediaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.ObserveStrategy(StrategyAPI, 0)
		return nil, nil
	}

	var urls []string
	seen := make(map[string]struct{})
	for _, m := range parsed.Includes.Media {
		if m.Type != "photo" {
			continue
		}
		for _, u := range []string{m.URL, m.PreviewImageURL} {
			if u == "" {
				continue
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
	}

	var candidates []Candidate
	for _, u := range urls {
		data, contentType, ok := s.fetcher.Fetch(ctx, u, FetchOptions{MinBytes: DefaultMinImageBytes})
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			URL:         u,
			Data:        data,
			ContentType: contentType,
			Strategy:    StrategyAPI,
		})
	}
	metrics.ObserveStrategy(StrategyAPI, len(candidates))
	return candidates, nil
}
