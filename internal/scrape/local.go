package scrape

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/resilience"
)

// DefaultUserAgent identifies the fetcher to target sites.
const DefaultUserAgent = "Mozilla/5.0 (compatible; LeadgenBot/1.0; +https://github.com/sells-group/leadgen-cli)"

// LocalOptions configures a LocalScraper.
type LocalOptions struct {
	UserAgent     string
	Timeout       time.Duration
	MaxBodyBytes  int64
	RatePerSec    float64 // per host; 0 disables limiting
	Burst         int
	RespectRobots bool
	Robots        *RobotsChecker
	Proxies       *ProxyPool
	Breakers      *resilience.HostBreakers
	HTTPClient    *http.Client
}

// LocalScraper fetches pages directly over HTTP. It applies the
// compliance checks, per-host rate limits and block detection.
type LocalScraper struct {
	opts   LocalOptions
	client *http.Client
	log    *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocalScraper creates a LocalScraper, filling unset options with
// defaults.
func NewLocalScraper(opts LocalOptions, log *zap.Logger) *LocalScraper {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2 << 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if log == nil {
		log = zap.L()
	}

	client := opts.HTTPClient
	if client == nil {
		transport := &http.Transport{
			DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConnsPerHost: 4,
		}
		if opts.Proxies.Len() > 0 {
			transport.Proxy = opts.Proxies.ProxyFunc()
		}
		client = &http.Client{Timeout: opts.Timeout, Transport: transport}
	}
	if opts.RespectRobots && opts.Robots == nil {
		opts.Robots = NewRobotsChecker(client, opts.UserAgent, 0)
	}

	return &LocalScraper{
		opts:     opts,
		client:   client,
		log:      log.With(zap.String("component", "scrape.local")),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *LocalScraper) Name() string { return "local_http" }

// Supports accepts any http or https URL.
func (l *LocalScraper) Supports(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

type fetched struct {
	resp *http.Response
	body []byte
}

// Scrape fetches rawURL. Transient failures (network errors, 429, 5xx)
// are returned as errors; definitive outcomes come back as a Result.
func (l *LocalScraper) Scrape(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()
	res := &Result{
		URL:          rawURL,
		Source:       l.Name(),
		UserAgent:    l.opts.UserAgent,
		TOSCompliant: true,
	}
	finish := func() (*Result, error) {
		res.Duration = time.Since(start)
		return res, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		res.Error = eris.Errorf("scrape: invalid url %q", rawURL).Error()
		return finish()
	}

	res.RequiresReview = RequiresReview(rawURL)
	if CaptchaLikely(rawURL) {
		l.log.Warn("scrape: source is known to serve captchas", zap.String("url", rawURL))
	}

	if l.opts.RespectRobots {
		allowed, robotsErr := l.opts.Robots.Allowed(ctx, rawURL)
		if robotsErr != nil {
			res.Error = robotsErr.Error()
			return finish()
		}
		if !allowed {
			res.TOSCompliant = false
			res.RequiresReview = true
			res.Error = ErrRobots.Error()
			return finish()
		}
	}

	if err := l.wait(ctx, u.Host); err != nil {
		return nil, eris.Wrap(err, "scrape: rate limit wait")
	}

	var f fetched
	if l.opts.Breakers != nil {
		f, err = resilience.ExecuteVal(ctx, l.opts.Breakers.For(rawURL), func(ctx context.Context) (fetched, error) {
			return l.do(ctx, rawURL)
		})
	} else {
		f, err = l.do(ctx, rawURL)
	}
	if err != nil {
		return nil, err
	}

	res.Status = f.resp.StatusCode
	if blocked, kind := DetectBlock(f.resp, f.body); blocked {
		res.RequiresReview = true
		if kind == BlockCaptcha {
			res.CaptchaRequired = true
			res.Error = ErrCaptcha.Error()
		} else {
			res.Blocked = true
			res.Error = eris.Wrapf(ErrBlocked, "%s", kind).Error()
		}
		return finish()
	}

	if f.resp.StatusCode >= 400 {
		res.Error = eris.Wrapf(ErrClientResponse, "status %d", f.resp.StatusCode).Error()
		return finish()
	}

	if len(bytes.TrimSpace(f.body)) == 0 {
		res.Error = ErrEmptyContent.Error()
		return finish()
	}

	res.Success = true
	res.Content = string(f.body)
	res.ContentType = detectContentType(f.resp.Header.Get("Content-Type"), f.body)
	return finish()
}

// do performs the request. 429 and 5xx responses without a block
// signature are reported as transient errors so the caller retries.
func (l *LocalScraper) do(ctx context.Context, rawURL string) (fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return fetched{}, eris.Wrap(err, "scrape: create request")
	}
	req.Header.Set("User-Agent", l.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	resp, err := l.client.Do(req)
	if err != nil {
		return fetched{}, eris.Wrap(err, "scrape: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.opts.MaxBodyBytes))
	if err != nil {
		return fetched{}, resilience.NewTransientError(eris.Wrap(err, "scrape: read body"), resp.StatusCode)
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		if blocked, _ := DetectBlock(resp, body); !blocked {
			return fetched{}, resilience.NewTransientError(
				eris.Errorf("scrape: status %d from %s", resp.StatusCode, rawURL), resp.StatusCode)
		}
	}
	return fetched{resp: resp, body: body}, nil
}

// wait blocks until host's limiter admits a request.
func (l *LocalScraper) wait(ctx context.Context, host string) error {
	if l.opts.RatePerSec <= 0 {
		return nil
	}
	l.mu.Lock()
	lim, ok := l.limiters[host]
	if !ok {
		r := rate.Limit(l.opts.RatePerSec)
		if l.opts.Robots != nil {
			if d := l.opts.Robots.CrawlDelay(host); d > 0 && rate.Every(d) < r {
				r = rate.Every(d)
			}
		}
		lim = rate.NewLimiter(r, l.opts.Burst)
		l.limiters[host] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}

func detectContentType(header string, body []byte) model.ContentType {
	mt, _, _ := mime.ParseMediaType(header)
	switch {
	case strings.Contains(mt, "html"), strings.Contains(mt, "xml"):
		return model.ContentHTML
	case strings.Contains(mt, "json"):
		return model.ContentJSON
	case mt == "text/plain":
		return model.ContentText
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return model.ContentJSON
	}
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return model.ContentHTML
	}
	return model.ContentText
}
