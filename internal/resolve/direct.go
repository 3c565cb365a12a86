package resolve

import (
	"context"

	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/metrics"
)

// DirectStrategy treats the target URL itself as an image.
type DirectStrategy struct {
	fetcher *ImageFetcher
	logger  *zap.Logger
}

// NewDirectStrategy builds the direct strategy.
func NewDirectStrategy(fetcher *ImageFetcher, logger *zap.Logger) *DirectStrategy {
	return &DirectStrategy{fetcher: fetcher, logger: logger}
}

// Name returns the strategy tag.
func (s *DirectStrategy) Name() string { return StrategyDirect }

// Resolve fetches the target once; success yields a single candidate.
func (s *DirectStrategy) Resolve(ctx context.Context, target string) ([]Candidate, error) {
	data, contentType, ok := s.fetcher.Fetch(ctx, target, FetchOptions{})
	if !ok {
		metrics.ObserveStrategy(StrategyDirect, 0)
		return nil, nil
	}
	metrics.ObserveStrategy(StrategyDirect, 1)
	return []Candidate{{
		URL:         target,
		Data:        data,
		ContentType: contentType,
		Strategy:    StrategyDirect,
	}}, nil
}
