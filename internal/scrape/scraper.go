// Package scrape fetches target pages for the extraction pipeline with
// compliance checks, block detection and a fallback chain of fetchers.
package scrape

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// Outcome errors recorded on unsuccessful results.
var (
	ErrBlocked        = eris.New("scrape: blocked by anti-bot protection")
	ErrCaptcha        = eris.New("scrape: captcha detected")
	ErrRobots         = eris.New("scrape: disallowed by robots.txt")
	ErrExcluded       = eris.New("scrape: url excluded")
	ErrUnsupported    = eris.New("scrape: no scraper supports url")
	ErrEmptyContent   = eris.New("scrape: empty page")
	ErrClientResponse = eris.New("scrape: client error response")
)

// Result describes one fetch attempt. A Result with Success=false is a
// definitive outcome (blocked, captcha, robots, 4xx) that must not be
// retried. Transient failures are returned as errors instead.
type Result struct {
	URL             string            `json:"url"`
	Success         bool              `json:"success"`
	Content         string            `json:"content,omitempty"`
	ContentType     model.ContentType `json:"content_type,omitempty"`
	Status          int               `json:"status"`
	Duration        time.Duration     `json:"duration"`
	UserAgent       string            `json:"user_agent,omitempty"`
	TOSCompliant    bool              `json:"tos_compliant"`
	RequiresReview  bool              `json:"requires_review"`
	CaptchaRequired bool              `json:"captcha_required"`
	Blocked         bool              `json:"blocked"`
	Error           string            `json:"error,omitempty"`
	Source          string            `json:"source"`
}

// RawData converts r into the audit row stored for a job.
func (r *Result) RawData(jobID string) *model.RawData {
	rd := &model.RawData{
		JobID:           jobID,
		SourceURL:       r.URL,
		ContentType:     r.ContentType,
		HTTPStatus:      r.Status,
		DurationMs:      r.Duration.Milliseconds(),
		UserAgent:       r.UserAgent,
		TOSCompliant:    r.TOSCompliant,
		RequiresReview:  r.RequiresReview,
		CaptchaRequired: r.CaptchaRequired,
		Error:           r.Error,
	}
	if r.Success {
		rd.Content = model.StringPtr(r.Content)
	}
	return rd
}

// Scraper fetches a single URL.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}

func failure(url, source string, err error) *Result {
	return &Result{
		URL:          url,
		Source:       source,
		TOSCompliant: true,
		Error:        err.Error(),
	}
}
