package resolve

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/metrics"
)

var (
	pbsMediaRe   = regexp.MustCompile(`https?://pbs\.twimg\.com/media/[^"\s<>)]+`)
	twimgRe      = regexp.MustCompile(`https?://[^"\s<>]*twimg[^"\s<>]+`)
	scriptJSONRe = regexp.MustCompile(`"(?:media_url_https|media_url|preview_image_url)"\s*:\s*"(https?://pbs\.twimg\.com/[^"]+)"`)
	srcsetURLRe  = regexp.MustCompile(`^\S+`)
)

// ScrapeStrategy fetches the target HTML document and extracts embedded
// image hints from metadata tags and markup, resolving each through the
// normalizer and fetcher. All successfully fetched hints are kept as
// separate candidates since multi-image posts are common.
type ScrapeStrategy struct {
	base    *colly.Collector
	fetcher *ImageFetcher
	twitter *TwitterAggregator
	logger  *zap.Logger
}

// NewScrapeStrategy builds the document-scrape strategy. The twitter
// aggregator is optional; when present its non-API discovery methods are
// merged for twitter-family hosts.
func NewScrapeStrategy(timeout time.Duration, fetcher *ImageFetcher, twitter *TwitterAggregator, logger *zap.Logger) *ScrapeStrategy {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	c := colly.NewCollector(colly.UserAgent(DefaultUserAgent))
	c.SetRequestTimeout(timeout)
	return &ScrapeStrategy{
		base:    c,
		fetcher: fetcher,
		twitter: twitter,
		logger:  logger,
	}
}

// Name returns the strategy tag.
func (s *ScrapeStrategy) Name() string { return StrategyScrape }

// Resolve scrapes the target document for image hints and fetches each one.
func (s *ScrapeStrategy) Resolve(ctx context.Context, target string) ([]Candidate, error) {
	html := s.FetchDocument(ctx, target)
	hints := ExtractImageHints(html, target)

	seen := make(map[string]struct{})
	var candidates []Candidate
	for _, hint := range hints {
		resolved := NormalizeURL(hint)
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		data, contentType, ok := s.fetcher.Fetch(ctx, resolved, FetchOptions{})
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			URL:         resolved,
			Data:        data,
			ContentType: contentType,
			Strategy:    StrategyScrape,
		})
	}

	if s.twitter != nil {
		if u, err := url.Parse(target); err == nil && isTwitterHost(u.Host) {
			for _, disc := range s.twitter.Discover(ctx, target) {
				if disc.Method == StrategyAPI {
					continue
				}
				resolved := NormalizeURL(disc.URL)
				if _, dup := seen[resolved]; dup {
					continue
				}
				seen[resolved] = struct{}{}
				data, contentType, ok := s.fetcher.Fetch(ctx, resolved, FetchOptions{})
				if !ok {
					continue
				}
				candidates = append(candidates, Candidate{
					URL:         resolved,
					Data:        data,
					ContentType: contentType,
					Strategy:    disc.Method,
				})
			}
		}
	}

	metrics.ObserveStrategy(StrategyScrape, len(candidates))
	return candidates, nil
}

// FetchDocument retrieves the target HTML, best-effort: any failure yields
// an empty string.
func (s *ScrapeStrategy) FetchDocument(ctx context.Context, target string) string {
	var body []byte
	c := s.base.Clone()
	c.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	c.OnError(func(_ *colly.Response, err error) {
		s.logger.Debug("document fetch failed", zap.String("url", target), zap.Error(err))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Visit(target)
		c.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ""
	}
	return string(body)
}

// ExtractImageHints pulls candidate image URLs out of an HTML document in
// priority order: social-preview metadata, the app root content container,
// any image element, picture/figure pairs, media shortlink anchors, and
// finally regex sweeps over raw markup and script-embedded JSON. Hints are
// resolved against the document URL, data URIs dropped, and duplicates
// removed preserving first-seen order.
func ExtractImageHints(html, docURL string) []string {
	if html == "" {
		return nil
	}
	base, err := url.Parse(docURL)
	if err != nil {
		base = nil
	}

	var hints []string
	seen := make(map[string]struct{})
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "data:") {
			return
		}
		if base != nil {
			if ref, err := url.Parse(raw); err == nil {
				raw = base.ResolveReference(ref).String()
			}
		}
		if _, dup := seen[raw]; dup {
			return
		}
		seen[raw] = struct{}{}
		hints = append(hints, raw)
	}
	addImg := func(sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			add(src)
		}
		srcset, ok := sel.Attr("srcset")
		if !ok {
			srcset, _ = sel.Attr("data-srcset")
		}
		for _, part := range strings.Split(srcset, ",") {
			if m := srcsetURLRe.FindString(strings.TrimSpace(part)); m != "" {
				add(m)
			}
		}
		for _, attr := range []string{"data-src", "data-image-url", "data-original"} {
			if v, ok := sel.Attr(attr); ok {
				add(v)
			}
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		doc.Find(`meta[property="og:image"]`).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr("content"); ok {
				add(v)
			}
		})
		doc.Find(`meta[name="twitter:image"]`).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr("content"); ok {
				add(v)
			}
		})

		// Gallery photos render under the app root, often wrapped in anchors.
		doc.Find("#react-root a img").Each(func(_ int, s *goquery.Selection) { addImg(s) })
		doc.Find("#react-root img").Each(func(_ int, s *goquery.Selection) { addImg(s) })

		doc.Find("img").Each(func(_ int, s *goquery.Selection) { addImg(s) })
		doc.Find("picture img, figure img").Each(func(_ int, s *goquery.Selection) { addImg(s) })

		doc.Find("a").Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr("href"); ok && strings.Contains(href, "pic.twitter.com") {
				add(href)
			}
		})

		doc.Find("script").Each(func(_ int, s *goquery.Selection) {
			text := s.Text()
			for _, m := range scriptJSONRe.FindAllStringSubmatch(text, -1) {
				add(m[1])
			}
			for _, m := range pbsMediaRe.FindAllString(text, -1) {
				add(m)
			}
		})
	}

	for _, m := range pbsMediaRe.FindAllString(html, -1) {
		add(m)
	}
	for _, m := range twimgRe.FindAllString(html, -1) {
		add(m)
	}
	return hints
}
