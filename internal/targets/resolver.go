// Package targets turns a job's source description into the ordered list
// of pages the worker fetches.
package targets

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/fetcher"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/validate"
	"github.com/sells-group/leadgen-cli/pkg/google"
	"github.com/sells-group/leadgen-cli/pkg/jina"
)

// DefaultMaxTargets caps a job's target list when no limit is configured.
const DefaultMaxTargets = 50

// ErrNoQuery is returned for search sources without a keyword.
var ErrNoQuery = eris.New("targets: keyword is required")

// RowReader reads an uploaded file as rows.
type RowReader interface {
	ReadRows(ctx context.Context, uri string) ([][]string, error)
}

// Resolver resolves targets for each job source. Search, Places and
// Files may be nil; jobs needing a missing collaborator fail to resolve.
type Resolver struct {
	Search     jina.Client
	Places     google.Client
	Files      RowReader
	MaxTargets int
	MaxPages   int
	// PageSize is the Places results per page; 0 means 20.
	PageSize int
	Log      *zap.Logger
}

// Resolve returns the job's targets, deduplicated in first-seen order and
// capped at MaxTargets.
func (r *Resolver) Resolve(ctx context.Context, job *model.Job) ([]model.Target, error) {
	var (
		urls []string
		hint string
		err  error
	)
	switch job.Source {
	case model.SourceURLs:
		urls = job.SourceURLs
	case model.SourceWebSearch:
		hint = "web_search"
		urls, err = r.webSearch(ctx, job)
	case model.SourceAPI:
		hint = "places"
		urls, err = r.places(ctx, job)
	case model.SourceFileUpload:
		hint = "file_upload"
		urls, err = r.file(ctx, job)
	default:
		return nil, eris.Errorf("targets: unknown source %q", job.Source)
	}
	if err != nil {
		return nil, err
	}

	limit := r.MaxTargets
	if limit <= 0 {
		limit = DefaultMaxTargets
	}

	seen := make(map[string]struct{}, len(urls))
	out := make([]model.Target, 0, min(len(urls), limit))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if !validate.URL(u) {
			r.logger().Debug("targets: skipping invalid url", zap.String("job_id", job.ID), zap.String("url", u))
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, model.Target{URL: u, Hint: hint})
		if len(out) == limit {
			break
		}
	}

	r.logger().Info("targets: resolved",
		zap.String("job_id", job.ID),
		zap.String("source", string(job.Source)),
		zap.Int("candidates", len(urls)),
		zap.Int("targets", len(out)),
	)
	return out, nil
}

func (r *Resolver) logger() *zap.Logger {
	if r.Log == nil {
		return zap.L()
	}
	return r.Log
}

// Query joins a job's keyword and location into a search phrase.
func Query(job *model.Job) string {
	q := strings.TrimSpace(job.Keyword)
	if loc := strings.TrimSpace(job.Location); loc != "" {
		q += " " + loc
	}
	return q
}

func (r *Resolver) webSearch(ctx context.Context, job *model.Job) ([]string, error) {
	if r.Search == nil {
		return nil, eris.New("targets: web search is not configured")
	}
	if strings.TrimSpace(job.Keyword) == "" {
		return nil, ErrNoQuery
	}
	resp, err := r.Search.Search(ctx, Query(job))
	if err != nil {
		return nil, eris.Wrap(err, "targets: web search")
	}
	urls := make([]string, 0, len(resp.Data))
	for _, res := range resp.Data {
		urls = append(urls, res.URL)
	}
	return urls, nil
}

func (r *Resolver) places(ctx context.Context, job *model.Job) ([]string, error) {
	if r.Places == nil {
		return nil, eris.New("targets: places api is not configured")
	}
	if strings.TrimSpace(job.Keyword) == "" {
		return nil, ErrNoQuery
	}
	pageSize := r.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	resp, err := r.Places.TextSearch(ctx, google.TextSearchRequest{
		Query:    Query(job),
		PageSize: pageSize,
		MaxPages: max(r.MaxPages, 1),
	})
	if err != nil {
		return nil, eris.Wrap(err, "targets: places search")
	}
	var urls []string
	for _, p := range resp.Places {
		if p.WebsiteURI != "" {
			urls = append(urls, p.WebsiteURI)
		}
	}
	return urls, nil
}

func (r *Resolver) file(ctx context.Context, job *model.Job) ([]string, error) {
	if r.Files == nil {
		return nil, eris.New("targets: file reader is not configured")
	}
	if strings.TrimSpace(job.FileURI) == "" {
		return nil, eris.New("targets: file_uri is required")
	}
	rows, err := r.Files.ReadRows(ctx, job.FileURI)
	if err != nil {
		return nil, eris.Wrap(err, "targets: read upload")
	}
	return fetcher.ExtractURLs(rows), nil
}
