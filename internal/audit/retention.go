package audit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSpec runs the age sweep once a minute.
const DefaultSweepSpec = "@every 1m"

// Retention prunes entries older than MaxAge on a cron schedule. It sits on
// top of the count cap; either bound can evict an entry.
type Retention struct {
	log    *Log
	maxAge time.Duration
	cron   *cron.Cron
}

// StartRetention schedules sweeps of l. A zero maxAge disables retention and
// returns nil.
func StartRetention(l *Log, spec string, maxAge time.Duration) (*Retention, error) {
	if maxAge <= 0 {
		return nil, nil
	}
	if spec == "" {
		spec = DefaultSweepSpec
	}
	r := &Retention{log: l, maxAge: maxAge, cron: cron.New()}
	if _, err := r.cron.AddFunc(spec, func() { r.Sweep() }); err != nil {
		return nil, fmt.Errorf("audit retention schedule %q: %w", spec, err)
	}
	r.cron.Start()
	slog.Info("audit retention started", "schedule", spec, "max_age", maxAge.String())
	return r, nil
}

// Sweep removes entries older than MaxAge now.
func (r *Retention) Sweep() int {
	cutoff := r.log.now().Add(-r.maxAge).UnixMilli()
	n := r.log.PruneBefore(cutoff)
	if n > 0 {
		slog.Debug("audit retention swept", "removed", n, "cutoff", cutoff)
	}
	return n
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Retention) Stop() {
	if r == nil {
		return
	}
	<-r.cron.Stop().Done()
}
