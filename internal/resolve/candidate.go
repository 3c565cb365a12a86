// Package resolve implements the multi-strategy preview resolution engine.
//
// Given a source URL it discovers candidate image URLs through independent
// strategies, rewrites host-specific variants to their highest-resolution
// form, filters out decoys, and returns the surviving image payloads in
// discovery order.
package resolve

import (
	"context"
	"errors"
)

// Strategy tags recorded on candidates.
const (
	StrategyDirect   = "direct"
	StrategyScrape   = "scrape"
	StrategyNitter   = "nitter"
	StrategyAPI      = "api"
	StrategyRendered = "rendered"
)

// ErrNoCredential indicates API-only mode was requested without a configured
// bearer token.
var ErrNoCredential = errors.New("resolve: no API credential configured")

// ErrRenderingDisabled indicates rendered mode was requested but browser
// automation is not enabled in the configuration.
var ErrRenderingDisabled = errors.New("resolve: browser rendering is not enabled")

// Candidate is a transient resolution result: a fetched image together with
// the URL it came from and the strategy that discovered it. Candidates are
// either discarded or promoted to stored previews; they are never persisted
// as-is.
type Candidate struct {
	URL         string
	Data        []byte
	ContentType string
	Strategy    string
}

// Strategy is one independent method of discovering media for a target page.
// Implementations return an empty slice when nothing was found; internal
// failures degrade to empty or partial results rather than errors.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, target string) ([]Candidate, error)
}
