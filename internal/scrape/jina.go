package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/resilience"
	"github.com/sells-group/leadgen-cli/pkg/jina"
)

// challengeSignatures mark reader output that is an interstitial rather
// than the page itself. Only checked on short content.
var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"attention required",
}

// JinaScraper fetches pages through the Jina Reader as HTML. It is the
// fallback for pages the local fetcher cannot get past.
type JinaScraper struct {
	client    jina.Client
	breaker   *resilience.CircuitBreaker
	proxies   *ProxyPool
	userAgent string
	log       *zap.Logger
}

// NewJinaScraper wraps client. Three consecutive transient failures open
// the breaker for a minute, during which Supports reports false.
func NewJinaScraper(client jina.Client, proxies *ProxyPool, log *zap.Logger) *JinaScraper {
	if log == nil {
		log = zap.L()
	}
	log = log.With(zap.String("component", "scrape.jina"))
	return &JinaScraper{
		client: client,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
			ShouldTrip:       resilience.IsTransient,
			OnStateChange: func(from, to resilience.CircuitState) {
				log.Warn("scrape: jina circuit state changed",
					zap.Stringer("from", from), zap.Stringer("to", to))
			},
		}),
		proxies:   proxies,
		userAgent: "jina-reader",
		log:       log,
	}
}

func (j *JinaScraper) Name() string { return "jina" }

// Supports returns true unless the circuit breaker is open.
func (j *JinaScraper) Supports(_ string) bool {
	return j.breaker.State() != resilience.CircuitOpen
}

// Scrape reads targetURL via Jina. Upstream errors are returned as-is so
// transient ones are retried by the caller.
func (j *JinaScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	start := time.Now()

	opts := []jina.ReadOption{jina.WithReturnFormat("html")}
	if j.proxies.Len() > 0 {
		if p := j.proxies.Next(); p != nil {
			opts = append(opts, jina.WithProxy(p.String()))
		}
	}

	resp, err := resilience.ExecuteVal(ctx, j.breaker, func(ctx context.Context) (*jina.ReadResponse, error) {
		return j.client.Read(ctx, targetURL, opts...)
	})
	if err != nil {
		return nil, eris.Wrap(err, "scrape: jina read")
	}

	res := &Result{
		URL:            targetURL,
		Source:         j.Name(),
		Status:         resp.Code,
		UserAgent:      j.userAgent,
		TOSCompliant:   true,
		RequiresReview: RequiresReview(targetURL),
		Duration:       time.Since(start),
	}

	body := resp.Data.Body()
	switch {
	case strings.TrimSpace(body) == "":
		res.Error = ErrEmptyContent.Error()
	case DetectCaptcha([]byte(body)):
		res.CaptchaRequired = true
		res.RequiresReview = true
		res.Error = ErrCaptcha.Error()
	case isChallenge(body):
		res.RequiresReview = true
		res.Blocked = true
		res.Error = ErrBlocked.Error()
	default:
		res.Success = true
		res.Content = body
		res.ContentType = model.ContentHTML
	}
	if !res.Success {
		j.log.Debug("scrape: jina returned unusable content",
			zap.String("url", targetURL), zap.String("reason", res.Error))
	}
	return res, nil
}

func isChallenge(content string) bool {
	if len(content) >= 1000 {
		return false
	}
	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
