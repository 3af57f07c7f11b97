package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/config"
)

const (
	defaultCheckInterval = 5 * time.Minute
	defaultAlertCooldown = time.Hour
)

// Checker periodically collects a snapshot, evaluates it and posts the
// triggered alerts. An alert type that was sent is suppressed until its
// cooldown elapses.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	lookback  int
	interval  time.Duration
	cooldown  time.Duration
	log       *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker creates a Checker from the monitoring config.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.L()
	}
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	cooldown := time.Duration(cfg.AlertCooldownMins) * time.Minute
	if cooldown <= 0 {
		cooldown = defaultAlertCooldown
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		lookback:  cfg.LookbackWindowHours,
		interval:  interval,
		cooldown:  cooldown,
		log:       log.With(zap.String("component", "monitoring.checker")),
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks once immediately and then on every interval until ctx is
// done.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("monitoring: alert checker started",
		zap.Duration("interval", c.interval),
		zap.Duration("cooldown", c.cooldown),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			c.Check(ctx)
		}
		select {
		case <-ctx.Done():
			c.log.Info("monitoring: alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects one snapshot and sends the alerts that are not cooling
// down. It returns the number of alerts delivered.
func (c *Checker) Check(ctx context.Context) int {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return 0
	}

	alerts := c.due(c.alerter.Evaluate(snap))
	if len(alerts) == 0 {
		c.log.Debug("monitoring: no alerts due")
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	if sent > 0 {
		c.markSent(alerts)
	}
	c.log.Info("monitoring: alert check complete",
		zap.Int("alerts_due", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}

// due drops alerts whose type was sent within the cooldown.
func (c *Checker) due(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := alerts[:0:0]
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.cooldown {
			continue
		}
		out = append(out, a)
	}
	return out
}

// markSent starts the cooldown for every alert type in the batch. A
// partially failed batch is retried as a whole after the cooldown.
func (c *Checker) markSent(alerts []Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, a := range alerts {
		c.lastSent[a.Type] = now
	}
}
