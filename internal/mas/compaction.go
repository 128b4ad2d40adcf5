package mas

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Compactor is the narrow surface a retention policy sweeps over; the
// fsstore-backed Stores satisfy this when they additionally implement it
// (reference fsstore does not retain unbounded history by default, so
// this is an optional hook for store implementations that do).
type Compactor interface {
	CompactOlderThan(ctx context.Context, age time.Duration) (removed int, err error)
}

// StartCompactionSweep schedules a periodic trace-store retention sweep
// using a cron scheduling library. It returns a stop function;
// calling it is safe even if the store does not implement Compactor, in
// which case the sweep is a silent no-op tick.
func (m *MAS) StartCompactionSweep(ctx context.Context, schedule string, maxAge time.Duration) (func(), error) {
	compactor, ok := any(m.Stores.Node).(Compactor)

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if !ok {
			return
		}
		removed, err := compactor.CompactOlderThan(ctx, maxAge)
		if err != nil {
			m.logger.Warn("compaction sweep failed", "error", err)
			return
		}
		if removed > 0 {
			m.logger.Info("compaction sweep removed stale node records", "removed", removed)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()

	return func() {
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}, nil
}
