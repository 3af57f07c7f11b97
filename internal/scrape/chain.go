package scrape

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Chain tries scrapers in priority order, falling back to the next one
// when a fetch is blocked or errors.
type Chain struct {
	PathMatcher *PathMatcher
	scrapers    []Scraper
	log         *zap.Logger
}

// NewChain creates a Chain with the given path matcher and scrapers.
func NewChain(matcher *PathMatcher, log *zap.Logger, scrapers ...Scraper) *Chain {
	if log == nil {
		log = zap.L()
	}
	return &Chain{
		PathMatcher: matcher,
		scrapers:    scrapers,
		log:         log.With(zap.String("component", "scrape.chain")),
	}
}

func (c *Chain) Name() string { return "chain" }

// Supports reports whether any scraper in the chain accepts url.
func (c *Chain) Supports(url string) bool {
	for _, s := range c.scrapers {
		if s.Supports(url) {
			return true
		}
	}
	return false
}

// Scrape returns the first successful result. A robots.txt refusal stops
// the chain. When every scraper fails, the last definitive result wins
// over errors; if there is none the last error is returned so transient
// failures can be retried.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	if c.PathMatcher.IsExcluded(targetURL) {
		return failure(targetURL, c.Name(), ErrExcluded), nil
	}

	var (
		last    *Result
		lastErr error
	)
	for _, s := range c.scrapers {
		if !s.Supports(targetURL) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := s.Scrape(ctx, targetURL)
		if err != nil {
			c.log.Debug("scrape: scraper failed, trying next",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if result.Success {
			return result, nil
		}
		if !result.TOSCompliant {
			return result, nil
		}
		c.log.Debug("scrape: unusable result, trying next",
			zap.String("scraper", s.Name()),
			zap.String("url", targetURL),
			zap.String("reason", result.Error),
		)
		last = result
	}

	if last != nil {
		return last, nil
	}
	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "scrape: all scrapers failed")
	}
	return failure(targetURL, c.Name(), ErrUnsupported), nil
}
