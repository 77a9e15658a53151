package notification

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Retention is how long a notification is kept before the purge job drops it.
const Retention = 30 * 24 * time.Hour

type purgeStore interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Purger deletes expired notifications on a cron schedule.
type Purger struct {
	store     purgeStore
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewPurger(store purgeStore, retention time.Duration, log *zap.Logger) *Purger {
	if retention <= 0 {
		retention = Retention
	}
	return &Purger{store: store, retention: retention, log: log.Named("notification-purger"), now: time.Now}
}

// RunOnce purges everything older than the retention window.
func (p *Purger) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		p.log.Error("purge failed", zap.Error(err))
		return 0, err
	}
	if n > 0 {
		p.log.Info("purged expired notifications", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Schedule registers the purge on c with the given spec ("@hourly", "0 3 * * *").
func (p *Purger) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		_, _ = p.RunOnce(runCtx)
	})
}
