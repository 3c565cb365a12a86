package resolve

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// Mode selects which strategies the resolver runs for a target.
type Mode string

const (
	// ModeDirectScrape tries the direct fetch first, then the static
	// document scrape with its sub-methods. This is the default.
	ModeDirectScrape Mode = "direct-scrape"
	// ModeAPI restricts resolution to the credentialed platform API.
	ModeAPI Mode = "api"
	// ModeRendered runs the browser-automation strategy.
	ModeRendered Mode = "rendered"
)

// ParseMode validates a mode string, defaulting empty to direct-scrape.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeDirectScrape, nil
	case ModeDirectScrape, ModeAPI, ModeRendered:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown resolve mode %q", s)
	}
}

// Resolver composes the resolution strategies and owns mode selection,
// cross-strategy deduplication and the rendered-mode size floor. An empty
// candidate set is a normal outcome; errors signal credential, capability
// or context failures.
type Resolver struct {
	direct   *DirectStrategy
	scrape   *ScrapeStrategy
	api      *APIStrategy
	rendered *RenderedStrategy
	logger   *zap.Logger
}

// NewResolver wires the four strategies into an orchestrator.
func NewResolver(direct *DirectStrategy, scrape *ScrapeStrategy, api *APIStrategy, rendered *RenderedStrategy, logger *zap.Logger) *Resolver {
	return &Resolver{direct: direct, scrape: scrape, api: api, rendered: rendered, logger: logger}
}

// Resolve runs the strategies selected by mode against target and returns
// the deduplicated candidate set in discovery order.
func (r *Resolver) Resolve(ctx context.Context, target string, mode Mode) ([]Candidate, error) {
	if _, err := url.ParseRequestURI(target); err != nil {
		return nil, fmt.Errorf("invalid target url: %w", err)
	}
	switch mode {
	case "", ModeDirectScrape:
		return r.resolveDirectScrape(ctx, target)
	case ModeAPI:
		return r.resolveAPI(ctx, target)
	case ModeRendered:
		return r.resolveRendered(ctx, target)
	default:
		return nil, fmt.Errorf("unknown resolve mode %q", mode)
	}
}

func (r *Resolver) resolveDirectScrape(ctx context.Context, target string) ([]Candidate, error) {
	var merged []Candidate
	direct, err := r.direct.Resolve(ctx, target)
	if err != nil {
		r.logger.Debug("direct strategy failed", zap.String("url", target), zap.Error(err))
	}
	merged = append(merged, direct...)

	scraped, err := r.scrape.Resolve(ctx, target)
	if err != nil {
		r.logger.Debug("scrape strategy failed", zap.String("url", target), zap.Error(err))
	}
	merged = append(merged, scraped...)

	return dedupeByURL(merged), nil
}

// resolveAPI fails fast, without any network traffic, when no bearer
// credential is configured. A rate-limited API response substitutes the
// static scrape aggregation so the caller still gets a result set.
func (r *Resolver) resolveAPI(ctx context.Context, target string) ([]Candidate, error) {
	if !r.api.HasCredential() {
		return nil, ErrNoCredential
	}

	id := TweetID(target)
	if r.api.Cache().LastStatus(id) == http.StatusTooManyRequests {
		r.logger.Info("api rate limited, substituting scrape", zap.String("tweet_id", id))
		return r.substituteScrape(ctx, target)
	}

	candidates, err := r.api.Resolve(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("api strategy: %w", err)
	}
	if r.api.Cache().LastStatus(id) == http.StatusTooManyRequests {
		r.logger.Info("api rate limited, substituting scrape", zap.String("tweet_id", id))
		return r.substituteScrape(ctx, target)
	}
	return dedupeByURL(candidates), nil
}

func (r *Resolver) substituteScrape(ctx context.Context, target string) ([]Candidate, error) {
	scraped, err := r.scrape.Resolve(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("scrape substitute: %w", err)
	}
	return dedupeByURL(scraped), nil
}

// resolveRendered is gated behind the capability flag and enforces the
// strict minimum-size floor across the whole merged set so no icon or
// tracking pixel survives.
func (r *Resolver) resolveRendered(ctx context.Context, target string) ([]Candidate, error) {
	if !r.rendered.Enabled() {
		return nil, ErrRenderingDisabled
	}
	candidates, err := r.rendered.Resolve(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("rendered strategy: %w", err)
	}
	return applySizeFloor(dedupeByURL(candidates), DefaultMinImageBytes), nil
}

// dedupeByURL keeps the first candidate per resolved URL, preserving
// discovery order.
func dedupeByURL(candidates []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0:0]
	for _, c := range candidates {
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}
		out = append(out, c)
	}
	return out
}

func applySizeFloor(candidates []Candidate, minBytes int) []Candidate {
	out := candidates[:0:0]
	for _, c := range candidates {
		if len(c.Data) < minBytes {
			continue
		}
		out = append(out, c)
	}
	return out
}
