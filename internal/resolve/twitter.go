package resolve

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Discovery is a raw media URL found by one of the aggregator's
// non-authoritative methods, tagged with the method that produced it.
type Discovery struct {
	URL    string
	Method string
}

// TwitterAggregator bundles the non-authoritative discovery methods for
// tweet pages: static HTML scraping and an alternate Nitter front-end.
// Authoritative API discovery is reserved for the APIStrategy.
type TwitterAggregator struct {
	client     *http.Client
	nitterBase string
	logger     *zap.Logger
}

// NewTwitterAggregator builds the aggregator. nitterBase may be empty to
// disable the front-end method.
func NewTwitterAggregator(timeout time.Duration, nitterBase string, logger *zap.Logger) *TwitterAggregator {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &TwitterAggregator{
		client:     &http.Client{Timeout: timeout},
		nitterBase: strings.TrimRight(nitterBase, "/"),
		logger:     logger,
	}
}

// Discover runs every method and merges results preserving order and
// uniqueness. Individual method failures contribute nothing.
func (a *TwitterAggregator) Discover(ctx context.Context, tweetURL string) []Discovery {
	var out []Discovery
	seen := make(map[string]struct{})
	collect := func(urls []string, method string) {
		for _, u := range urls {
			if u == "" {
				continue
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, Discovery{URL: u, Method: method})
		}
	}
	collect(a.discoverScrape(ctx, tweetURL), StrategyScrape)
	collect(a.discoverNitter(ctx, tweetURL), StrategyNitter)
	return out
}

// discoverScrape fetches the tweet HTML and keeps hints pointing at the
// media CDN.
func (a *TwitterAggregator) discoverScrape(ctx context.Context, tweetURL string) []string {
	html := a.getHTML(ctx, tweetURL)
	if html == "" {
		return nil
	}
	var urls []string
	for _, hint := range ExtractImageHints(html, tweetURL) {
		if isTwitterMediaURL(hint) || strings.Contains(hint, "pic.twitter.com") {
			urls = append(urls, hint)
		}
	}
	return urls
}

// discoverNitter queries the configured alternate front-end, which serves
// media without authentication for many public tweets.
func (a *TwitterAggregator) discoverNitter(ctx context.Context, tweetURL string) []string {
	if a.nitterBase == "" {
		return nil
	}
	u, err := url.Parse(tweetURL)
	if err != nil {
		return nil
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 {
		return nil
	}
	user, id := parts[0], parts[len(parts)-1]
	statusURL := a.nitterBase + "/" + user + "/status/" + id

	html := a.getHTML(ctx, statusURL)
	if html == "" {
		return nil
	}
	base, _ := url.Parse(statusURL)
	var urls []string
	seen := make(map[string]struct{})
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		if ref, err := url.Parse(src); err == nil && base != nil {
			src = base.ResolveReference(ref).String()
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		urls = append(urls, src)
	})
	return urls
}

func (a *TwitterAggregator) getHTML(ctx context.Context, rawURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ""
	}
	// Browser-like agent; the bot agent gets served an empty shell.
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36")
	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Debug("tweet document fetch failed", zap.String("url", rawURL), zap.Error(err))
		return ""
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	return string(body)
}

// TweetID extracts the post identifier from a tweet URL path.
func TweetID(tweetURL string) string {
	trimmed := strings.TrimRight(tweetURL, "/")
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}
