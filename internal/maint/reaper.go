package maint

import (
	"context"
	"sync"
	"time"

	"github.com/amonhq/amon/internal/kv"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// MinReaperGap guards against hot loops on skewed clocks: the timer never
// fires sooner than this after being armed.
const MinReaperGap = 100 * time.Millisecond

var reapedWindows = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "amon_maintenance_windows_reaped_total",
	Help: "Maintenance windows removed by the expiry reaper.",
})

func init() {
	prometheus.MustRegister(reapedWindows)
}

// Reaper is the process-wide expiry timer: a single scheduled task aimed
// at the next window to expire. At most one reap action is in flight;
// re-arming cancels any prior timer.
type Reaper struct {
	mu         sync.Mutex
	timer      *time.Timer
	stopped    bool
	engine     *Engine
	minGap     time.Duration
	errBackoff time.Duration
	logger     *zap.Logger
}

func newReaper(engine *Engine, minGap, errBackoff time.Duration, logger *zap.Logger) *Reaper {
	if minGap < MinReaperGap {
		minGap = MinReaperGap
	}
	if errBackoff <= 0 {
		errBackoff = 5 * time.Minute
	}
	return &Reaper{
		engine:     engine,
		minGap:     minGap,
		errBackoff: errBackoff,
		logger:     logger,
	}
}

// Poke re-arms the timer at the next window to expire. Idempotent; called
// whenever a window is created, deleted, or found bogus.
func (r *Reaper) Poke() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	next, err := r.engine.store.ZRangeWithScores(ctx, byEndKey, 0, 0)
	if err != nil {
		r.logger.Error("reading time index failed, backing off", zap.Error(err))
		r.arm(r.errBackoff)
		return
	}
	if len(next) == 0 {
		r.disarm()
		return
	}

	end := time.UnixMilli(int64(next[0].Score))
	delay := time.Until(end)
	if delay < r.minGap {
		delay = r.minGap
	}
	r.logger.Debug("reaper armed",
		zap.String("key", next[0].Member),
		zap.Duration("delay", delay),
	)
	r.arm(delay)
}

// Stop disarms the timer permanently (process shutdown).
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// arm replaces any pending timer with one firing after delay.
func (r *Reaper) arm(delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(delay, r.fire)
}

func (r *Reaper) disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// fire reaps the earliest-expiring window if it is due, then re-arms.
func (r *Reaper) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	next, err := r.engine.store.ZRangeWithScores(ctx, byEndKey, 0, 0)
	if err != nil {
		r.logger.Error("reap failed, backing off", zap.Error(err))
		r.arm(r.errBackoff)
		return
	}
	if len(next) == 0 {
		return
	}

	key := next[0].Member
	if time.UnixMilli(int64(next[0].Score)).After(time.Now()) {
		// Armed early (clock skew or a fresh window displaced the head).
		r.Poke()
		return
	}

	user, id, err := parseWindowKey(key)
	if err != nil {
		r.logger.Error("malformed key in time index", zap.String("key", key), zap.Error(err))
		r.arm(r.errBackoff)
		return
	}

	existed, err := r.engine.Delete(ctx, user, id)
	if err != nil {
		r.logger.Error("reap delete failed, backing off",
			zap.String("key", key),
			zap.Error(err),
		)
		r.arm(r.errBackoff)
		return
	}
	if !existed {
		// The hash vanished but the index entry survived; Delete couldn't
		// see it, so clean the index directly and move on.
		r.logger.Warn("window missing at reap time", zap.String("key", key))
		if err := r.cleanIndex(ctx, user, id, key); err != nil {
			r.logger.Error("index cleanup failed", zap.String("key", key), zap.Error(err))
			r.arm(r.errBackoff)
			return
		}
		r.Poke()
		return
	}

	reapedWindows.Inc()
	r.logger.Info("reaped expired maintenance window",
		zap.String("user", user),
		zap.Int("id", id),
	)
	// Delete already poked us; nothing further to schedule here.
}

func (r *Reaper) cleanIndex(ctx context.Context, user string, id int, key string) error {
	return r.engine.store.Tx(ctx, func(p kv.Pipe) error {
		p.SRem(setKey(user), id)
		p.ZRem(byEndKey, key)
		p.Del(key)
		return nil
	})
}
