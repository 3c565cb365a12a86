package resolve

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nokosaaan/fanart-viewer/internal/metrics"
)

const (
	pixivLoginURL     = "https://accounts.pixiv.net/login"
	pixivReferer      = "https://www.pixiv.net/"
	renderedBrowserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
)

// RenderedConfig controls the browser-automation strategy.
type RenderedConfig struct {
	// Enabled gates the strategy; it is off by default because driving a
	// real browser is costly and carries automation-detection risk.
	Enabled bool
	// NavTimeout bounds each navigation/evaluate step.
	NavTimeout time.Duration
	// HostQPS rate-limits rendered sessions per target host.
	HostQPS float64
	// PixivUsername and PixivPassword enable an authenticated session for
	// the art-hosting host.
	PixivUsername string
	PixivPassword string
}

// RenderedStrategy drives a headless browser session to execute client-side
// rendering and lazy-loading that static scraping cannot see. It passively
// records media-CDN responses, walks the rendered DOM, scrolls to trigger
// lazy loads, and opens lightbox viewers when too little was found.
type RenderedStrategy struct {
	cfg      RenderedConfig
	fetcher  *ImageFetcher
	logger   *zap.Logger
	limiters sync.Map
}

// NewRenderedStrategy builds the rendered-session strategy.
func NewRenderedStrategy(cfg RenderedConfig, fetcher *ImageFetcher, logger *zap.Logger) *RenderedStrategy {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 20 * time.Second
	}
	return &RenderedStrategy{cfg: cfg, fetcher: fetcher, logger: logger}
}

// Name returns the strategy tag.
func (s *RenderedStrategy) Name() string { return StrategyRendered }

// Enabled reports whether the capability flag is set.
func (s *RenderedStrategy) Enabled() bool { return s.cfg.Enabled }

// capturedResponses accumulates image bodies observed passively on the wire
// while the page loads, so originals requested by the logged-in browser do
// not have to be re-fetched.
type capturedResponses struct {
	mu      sync.Mutex
	pending map[network.RequestID]pendingResponse
	bodies  map[string][]byte
	types   map[string]string
}

type pendingResponse struct {
	url         string
	contentType string
}

func newCapturedResponses() *capturedResponses {
	return &capturedResponses{
		pending: make(map[network.RequestID]pendingResponse),
		bodies:  make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (c *capturedResponses) note(id network.RequestID, url, contentType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[id] = pendingResponse{url: url, contentType: contentType}
}

func (c *capturedResponses) take(id network.RequestID) (pendingResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return p, ok
}

func (c *capturedResponses) put(url string, body []byte, contentType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies[url] = body
	c.types[url] = contentType
}

func (c *capturedResponses) get(url string) ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.bodies[url]
	return body, c.types[url], ok
}

// isMediaCDNURL matches the media CDNs of the supported host families.
func isMediaCDNURL(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.Contains(lower, "pximg") || strings.Contains(lower, "pixiv") || isTwitterMediaURL(lower)
}

// Resolve renders the target and collects qualifying images. The browser
// context is torn down on every exit path; individual navigation and
// interaction failures are tolerated.
func (s *RenderedStrategy) Resolve(ctx context.Context, target string) ([]Candidate, error) {
	if !s.cfg.Enabled {
		return nil, ErrRenderingDisabled
	}
	if err := s.waitHostBudget(ctx, target); err != nil {
		return nil, fmt.Errorf("rendered rate limit: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(renderedBrowserUA),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	captured := newCapturedResponses()
	s.listenForMedia(browserCtx, captured)

	targetURL, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}
	pixivTarget := isPixivHost(targetURL.Host)

	if err := s.run(browserCtx, s.cfg.NavTimeout,
		network.Enable(),
		emulation.SetUserAgentOverride(renderedBrowserUA),
		maskWebdriver(),
	); err != nil {
		return nil, fmt.Errorf("browser warmup: %w", err)
	}

	if pixivTarget && s.cfg.PixivUsername != "" && s.cfg.PixivPassword != "" {
		s.loginPixiv(browserCtx)
	}
	cookieHeader := s.cookieHeader(browserCtx)

	// Navigate; a slow page is not fatal as long as the DOM appeared.
	if err := s.run(browserCtx, s.cfg.NavTimeout,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(800*time.Millisecond),
	); err != nil {
		s.logger.Debug("navigation incomplete", zap.String("url", target), zap.Error(err))
	}

	s.scroll(browserCtx)

	urls := s.collectDOMURLs(browserCtx)
	if len(urls) < 2 {
		urls = s.broaden(browserCtx, urls)
	}
	urls = s.openViewers(browserCtx, urls)

	candidates := s.fetchAll(browserCtx, urls, captured, pixivTarget, cookieHeader)

	// Last resort: run the static extraction logic over the rendered DOM.
	if len(candidates) == 0 {
		candidates = s.domFallback(browserCtx, target)
	}

	metrics.ObserveStrategy(StrategyRendered, len(candidates))
	return candidates, nil
}

// run executes chromedp actions under a step-local timeout.
func (s *RenderedStrategy) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return chromedp.Run(stepCtx, actions...)
}

// runQuiet is run with the error reduced to a debug log.
func (s *RenderedStrategy) runQuiet(ctx context.Context, timeout time.Duration, what string, actions ...chromedp.Action) {
	if err := s.run(ctx, timeout, actions...); err != nil {
		s.logger.Debug("rendered step failed", zap.String("step", what), zap.Error(err))
	}
}

func maskWebdriver() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(
			`Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`,
		).Do(ctx)
		return err
	})
}

// listenForMedia records network responses whose URL matches a media CDN and
// whose content type is an image, keyed by URL.
func (s *RenderedStrategy) listenForMedia(browserCtx context.Context, captured *capturedResponses) {
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			u := e.Response.URL
			mime := strings.ToLower(e.Response.MimeType)
			if isMediaCDNURL(u) && strings.HasPrefix(mime, "image") {
				captured.note(e.RequestID, u, mime)
			}
		case *network.EventLoadingFinished:
			p, ok := captured.take(e.RequestID)
			if !ok {
				return
			}
			requestID := e.RequestID
			go func() {
				c := chromedp.FromContext(browserCtx)
				if c == nil || c.Target == nil {
					return
				}
				body, err := network.GetResponseBody(requestID).
					Do(cdp.WithExecutor(browserCtx, c.Target))
				if err != nil || len(body) == 0 {
					return
				}
				captured.put(p.url, body, p.contentType)
			}()
		}
	})
}

// loginPixiv performs a best-effort credentialed login before navigating to
// the target, so subsequent media requests carry session cookies.
func (s *RenderedStrategy) loginPixiv(browserCtx context.Context) {
	s.runQuiet(browserCtx, s.cfg.NavTimeout, "pixiv login page",
		chromedp.Navigate(pixivLoginURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	s.runQuiet(browserCtx, 10*time.Second, "pixiv username",
		chromedp.SendKeys(
			`input[name="pixiv_id"], input#LoginForm-username, input[type="email"], input[autocomplete="username"]`,
			s.cfg.PixivUsername, chromedp.ByQuery),
	)
	s.runQuiet(browserCtx, 10*time.Second, "pixiv password",
		chromedp.SendKeys(
			`input[name="password"], input#LoginForm-password, input[type="password"]`,
			s.cfg.PixivPassword, chromedp.ByQuery),
	)
	s.runQuiet(browserCtx, 10*time.Second, "pixiv submit",
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
	)
}

// cookieHeader reconstructs a Cookie header from the browser session for
// out-of-page fallback requests.
func (s *RenderedStrategy) cookieHeader(browserCtx context.Context) string {
	var header string
	s.runQuiet(browserCtx, 8*time.Second, "collect cookies",
		chromedp.ActionFunc(func(ctx context.Context) error {
			cookies, err := storage.GetCookies().Do(ctx)
			if err != nil {
				return err
			}
			parts := make([]string, 0, len(cookies))
			for _, c := range cookies {
				if c.Name != "" && c.Value != "" {
					parts = append(parts, c.Name+"="+c.Value)
				}
			}
			header = strings.Join(parts, "; ")
			return nil
		}),
	)
	return header
}

// scroll performs incremental scroll steps to trigger lazy-loading.
func (s *RenderedStrategy) scroll(browserCtx context.Context) {
	for _, y := range []int{200, 600, 1000, 1400} {
		s.runQuiet(browserCtx, 8*time.Second, "scroll",
			chromedp.Evaluate(fmt.Sprintf("window.scrollTo(0, %d)", y), nil),
			chromedp.Sleep(600*time.Millisecond),
		)
	}
}

const collectDOMJS = `
(() => {
	const root = document.getElementById('react-root') || document.body;
	const urls = new Set();
	const addSrc = (s) => { if (s && !s.startsWith('data:')) urls.add(s); };
	root.querySelectorAll('img').forEach(im => {
		addSrc(im.src);
		const srcset = im.srcset || im.getAttribute('data-srcset');
		if (srcset) {
			srcset.split(',').forEach(part => addSrc(part.trim().split(/\s+/)[0]));
		}
		addSrc(im.getAttribute('data-src'));
		addSrc(im.getAttribute('data-image-url'));
	});
	root.querySelectorAll('*').forEach(el => {
		try {
			const bg = window.getComputedStyle(el).getPropertyValue('background-image');
			if (bg && bg !== 'none') {
				const m = bg.match(/url\((?:"|')?(.*?)(?:"|')?\)/);
				if (m && m[1]) addSrc(m[1]);
			}
		} catch (e) {}
	});
	root.querySelectorAll('a[href*="/photo/"] img').forEach(im => addSrc(im.src));
	return Array.from(urls);
})()`

const collectLoadedMediaJS = `
Array.from(document.querySelectorAll('img'))
	.map(i => i.src)
	.filter(s => s && !s.startsWith('data:') &&
		(s.includes('pbs.twimg.com') || s.includes('pximg') || s.includes('pixiv')))`

// collectDOMURLs walks the rendered DOM for image and background-image URLs.
func (s *RenderedStrategy) collectDOMURLs(browserCtx context.Context) []string {
	var urls []string
	s.runQuiet(browserCtx, 10*time.Second, "collect dom",
		chromedp.Evaluate(collectDOMJS, &urls),
	)
	return urls
}

// broaden retries with alternate selectors and clicks candidate thumbnails
// to coax lightbox viewers into loading high-resolution images.
func (s *RenderedStrategy) broaden(browserCtx context.Context, urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		seen[u] = struct{}{}
	}
	add := func(list []string) {
		for _, u := range list {
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

	selectors := []string{
		`div[data-testid="tweetPhoto"] img`,
		`figure img`,
		`article img`,
		`div[role="button"] img`,
	}
	for _, sel := range selectors {
		var found []string
		s.runQuiet(browserCtx, 8*time.Second, "broaden selector",
			chromedp.Evaluate(fmt.Sprintf(
				`Array.from(document.querySelectorAll(%q)).map(i => i.src || i.getAttribute('data-src') || '').filter(s => s && !s.startsWith('data:'))`,
				sel), &found),
		)
		add(found)

		s.runQuiet(browserCtx, 8*time.Second, "broaden click",
			chromedp.Evaluate(fmt.Sprintf(
				`(() => { const el = document.querySelector(%q); if (el) el.click(); return true; })()`,
				sel), nil),
			chromedp.Sleep(900*time.Millisecond),
		)
		var loaded []string
		s.runQuiet(browserCtx, 8*time.Second, "broaden rescan",
			chromedp.Evaluate(collectLoadedMediaJS, &loaded),
		)
		add(loaded)
		s.runQuiet(browserCtx, 4*time.Second, "close viewer",
			chromedp.KeyEvent(kb.Escape),
			chromedp.Sleep(200*time.Millisecond),
		)
	}
	return urls
}

// openViewers clicks gallery anchors to open the media viewer modal and
// collects the full-size images it loads.
func (s *RenderedStrategy) openViewers(browserCtx context.Context, urls []string) []string {
	var count int
	s.runQuiet(browserCtx, 6*time.Second, "count photo anchors",
		chromedp.Evaluate(`document.querySelectorAll('a[href*="/photo/"]').length`, &count),
	)
	if count == 0 {
		return urls
	}
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		seen[u] = struct{}{}
	}
	for i := 0; i < count; i++ {
		s.runQuiet(browserCtx, 8*time.Second, "open viewer",
			chromedp.Evaluate(fmt.Sprintf(
				`(() => { const a = document.querySelectorAll('a[href*="/photo/"]')[%d]; if (a) a.click(); return true; })()`,
				i), nil),
			chromedp.Sleep(500*time.Millisecond),
		)
		var loaded []string
		s.runQuiet(browserCtx, 8*time.Second, "scan viewer",
			chromedp.Evaluate(collectLoadedMediaJS, &loaded),
		)
		for _, u := range loaded {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
		s.runQuiet(browserCtx, 4*time.Second, "close viewer",
			chromedp.KeyEvent(kb.Escape),
			chromedp.Sleep(200*time.Millisecond),
		)
	}
	return urls
}

// fetchAll normalizes and page-expands each discovered URL, then retrieves
// bytes preferring any passively captured response over a re-fetch. Pixiv
// URLs go through an in-page fetch so session cookies apply, with a direct
// HTTP request carrying the reconstructed cookie header as fallback.
func (s *RenderedStrategy) fetchAll(
	browserCtx context.Context,
	urls []string,
	captured *capturedResponses,
	pixivTarget bool,
	cookieHeader string,
) []Candidate {
	var candidates []Candidate
	seen := make(map[string]struct{})
	for _, raw := range urls {
		for _, candidateURL := range ExpandPages(NormalizeURL(raw)) {
			if _, dup := seen[candidateURL]; dup {
				continue
			}
			seen[candidateURL] = struct{}{}

			if body, contentType, ok := captured.get(candidateURL); ok {
				if len(body) >= DefaultMinImageBytes && acceptableImageType(contentType) {
					candidates = append(candidates, Candidate{
						URL:         candidateURL,
						Data:        body,
						ContentType: contentType,
						Strategy:    StrategyRendered,
					})
				}
				continue
			}

			var (
				body        []byte
				contentType string
				ok          bool
			)
			if pixivTarget || isPixivURL(candidateURL) {
				body, contentType, ok = s.fetchViaPage(browserCtx, candidateURL)
				if !ok {
					body, contentType, ok = s.fetcher.Fetch(browserCtx, candidateURL, FetchOptions{
						MinBytes: DefaultMinImageBytes,
						Referer:  pixivReferer,
						Cookie:   cookieHeader,
					})
				} else if len(body) < DefaultMinImageBytes {
					ok = false
				}
			} else {
				body, contentType, ok = s.fetcher.Fetch(browserCtx, candidateURL, FetchOptions{
					MinBytes: DefaultMinImageBytes,
				})
			}
			if !ok || !acceptableImageType(contentType) {
				continue
			}
			candidates = append(candidates, Candidate{
				URL:         candidateURL,
				Data:        body,
				ContentType: contentType,
				Strategy:    StrategyRendered,
			})
		}
	}
	return candidates
}

func isPixivURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && isPixivHost(u.Host)
}

type inPageFetchResult struct {
	OK          bool   `json:"ok"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	B64         string `json:"b64"`
}

const inPageFetchJS = `
(async (url, ref) => {
	try {
		const r = await fetch(url, { credentials: 'include', headers: { 'Referer': ref } });
		const ct = r.headers.get('content-type') || '';
		if (!r.ok) return { ok: false, status: r.status, content_type: ct, b64: '' };
		const ab = await r.arrayBuffer();
		const bytes = new Uint8Array(ab);
		const chunk = 0x8000;
		let binary = '';
		for (let i = 0; i < bytes.length; i += chunk) {
			binary += String.fromCharCode.apply(null, Array.from(bytes.subarray(i, i + chunk)));
		}
		return { ok: true, status: r.status, content_type: ct, b64: btoa(binary) };
	} catch (e) {
		return { ok: false, status: 0, content_type: '', b64: '' };
	}
})`

// fetchViaPage retrieves an image from inside the page so the browser's
// cookies and headers are used; this succeeds where server-side requests
// get 403s.
func (s *RenderedStrategy) fetchViaPage(browserCtx context.Context, rawURL string) ([]byte, string, bool) {
	var res inPageFetchResult
	expr := fmt.Sprintf("%s(%q, %q)", inPageFetchJS, rawURL, pixivReferer)
	err := s.run(browserCtx, 15*time.Second,
		chromedp.Evaluate(expr, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil || !res.OK || res.B64 == "" {
		return nil, "", false
	}
	body, err := base64.StdEncoding.DecodeString(res.B64)
	if err != nil {
		return nil, "", false
	}
	contentType := mediaTypeOf(res.ContentType)
	if !acceptableImageType(contentType) {
		return nil, "", false
	}
	return body, contentType, true
}

// domFallback applies the static scrape extraction to the rendered page.
func (s *RenderedStrategy) domFallback(browserCtx context.Context, target string) []Candidate {
	var html string
	s.runQuiet(browserCtx, 10*time.Second, "outer html",
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	var candidates []Candidate
	seen := make(map[string]struct{})
	for _, hint := range ExtractImageHints(html, target) {
		resolved := NormalizeURL(hint)
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		data, contentType, ok := s.fetcher.Fetch(browserCtx, resolved, FetchOptions{MinBytes: DefaultMinImageBytes})
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			URL:         resolved,
			Data:        data,
			ContentType: contentType,
			Strategy:    StrategyRendered,
		})
	}
	return candidates
}

func (s *RenderedStrategy) waitHostBudget(ctx context.Context, rawURL string) error {
	if s.cfg.HostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := s.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(s.cfg.HostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}
