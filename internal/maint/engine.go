package maint

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amonhq/amon/internal/kv"
	"github.com/amonhq/amon/pkg/plugin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// KV layout (logical DB selected at startup):
//
//	maintenanceIds            hash: user -> last issued id
//	maintenances:<user>       set:  window ids owned by user
//	maintenance:<user>:<id>   hash: window fields
//	maintenancesByEnd         zset: member maintenance:<user>:<id>, score end-ms
const (
	idsKey   = "maintenanceIds"
	byEndKey = "maintenancesByEnd"
)

func setKey(user string) string { return "maintenances:" + user }

func windowKey(user string, id int) string {
	return fmt.Sprintf("maintenance:%s:%d", user, id)
}

// parseWindowKey splits "maintenance:<user>:<id>" back into its parts.
func parseWindowKey(key string) (user string, id int, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "maintenance" {
		return "", 0, fmt.Errorf("malformed window key %q", key)
	}
	id, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, fmt.Errorf("malformed window key %q", key)
	}
	return parts[1], id, nil
}

// Store is the slice of the KV adapter the engine needs. Defined here
// (consumer-side) so tests can fake it.
type Store interface {
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]kv.Member, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Tx(ctx context.Context, fn func(p kv.Pipe) error) error
}

// Engine implements maintenance-window CRUD over the KV store and owns the
// expiry reaper.
type Engine struct {
	store  Store
	bus    plugin.Publisher
	reaper *Reaper
	logger *zap.Logger
}

// NewEngine creates the engine and its reaper. bus may be nil in tests.
func NewEngine(store Store, bus plugin.Publisher, minGap, errBackoff time.Duration, logger *zap.Logger) *Engine {
	e := &Engine{
		store:  store,
		bus:    bus,
		logger: logger,
	}
	e.reaper = newReaper(e, minGap, errBackoff, logger.Named("reaper"))
	return e
}

// Reaper returns the engine's expiry reaper.
func (e *Engine) Reaper() *Reaper {
	return e.reaper
}

// Create allocates the next id for the user and writes the window
// atomically: per-user set membership, time-index entry, and the hash all
// land or none do. The reaper is poked afterwards.
func (e *Engine) Create(ctx context.Context, w *Window) error {
	id, err := e.store.HIncrBy(ctx, idsKey, w.User, 1)
	if err != nil {
		return err
	}
	w.ID = int(id)
	if err := w.validate(); err != nil {
		return fmt.Errorf("window failed validation: %w", err)
	}

	key := windowKey(w.User, w.ID)
	err = e.store.Tx(ctx, func(p kv.Pipe) error {
		p.SAdd(setKey(w.User), w.ID)
		p.ZAdd(byEndKey, float64(w.End), key)
		p.HSet(key, hashFields(w)...)
		return nil
	})
	if err != nil {
		return err
	}

	e.reaper.Poke()
	return nil
}

// Get fetches window (user, id). Returns nil when absent; a stored record
// that fails validation is treated as absent and self-healed.
func (e *Engine) Get(ctx context.Context, user string, id int) (*Window, error) {
	h, err := e.store.HGetAll(ctx, windowKey(user, id))
	if err != nil {
		return nil, err
	}
	w, err := windowFromHash(h)
	if err != nil {
		e.selfHeal(user, strconv.Itoa(id), err)
		return nil, nil
	}
	return w, nil
}

// Counter returns the last id issued to the user (0 if none ever were).
// Distinguishes Gone from ResourceNotFound on the GET path.
func (e *Engine) Counter(ctx context.Context, user string) (int, error) {
	val, ok, err := e.store.HGet(ctx, idsKey, user)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("corrupt id counter for %s: %q", user, val)
	}
	return n, nil
}

// List returns the user's windows, fetching the hashes in parallel.
// Records that fail validation are dropped and self-healed so the reaper
// cannot spin on them.
func (e *Engine) List(ctx context.Context, user string) ([]Window, error) {
	ids, err := e.store.SMembers(ctx, setKey(user))
	if err != nil {
		return nil, err
	}

	windows := make([]*Window, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, idStr := range ids {
		id, convErr := strconv.Atoi(idStr)
		if convErr != nil {
			e.selfHeal(user, idStr, fmt.Errorf("non-numeric id %q in %s", idStr, setKey(user)))
			continue
		}
		g.Go(func() error {
			h, err := e.store.HGetAll(gctx, windowKey(user, id))
			if err != nil {
				return err
			}
			w, err := windowFromHash(h)
			if err != nil {
				e.selfHeal(user, strconv.Itoa(id), err)
				return nil
			}
			windows[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Window, 0, len(windows))
	for _, w := range windows {
		if w != nil {
			out = append(out, *w)
		}
	}
	return out, nil
}

// ListAll returns every window across users, for the operator-only
// listing.
func (e *Engine) ListAll(ctx context.Context) ([]Window, error) {
	keys, err := e.store.Keys(ctx, "maintenance:*")
	if err != nil {
		return nil, err
	}

	windows := make([]*Window, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		user, id, parseErr := parseWindowKey(key)
		if parseErr != nil {
			e.logger.Warn("skipping malformed window key", zap.String("key", key))
			continue
		}
		g.Go(func() error {
			h, err := e.store.HGetAll(gctx, key)
			if err != nil {
				return err
			}
			w, err := windowFromHash(h)
			if err != nil {
				e.selfHeal(user, strconv.Itoa(id), err)
				return nil
			}
			windows[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Window, 0, len(windows))
	for _, w := range windows {
		if w != nil {
			out = append(out, *w)
		}
	}
	return out, nil
}

// Delete removes window (user, id) atomically from the per-user set, the
// time index, and the hash. Returns whether the window existed. On
// success the maintenance-end hook fires and the reaper is re-armed.
func (e *Engine) Delete(ctx context.Context, user string, id int) (bool, error) {
	w, err := e.Get(ctx, user, id)
	if err != nil {
		return false, err
	}
	if w == nil {
		return false, nil
	}

	key := windowKey(user, id)
	err = e.store.Tx(ctx, func(p kv.Pipe) error {
		p.SRem(setKey(user), id)
		p.ZRem(byEndKey, key)
		p.Del(key)
		return nil
	})
	if err != nil {
		return false, err
	}

	e.handleMaintenanceEnd(ctx, w)
	e.reaper.Poke()
	return true, nil
}

// IsEventInMaintenance returns the first window of the owner that covers
// an event at timeMs. Any single match suffices; the caller suppresses
// notifications when one is returned. Linear in the user's window count.
func (e *Engine) IsEventInMaintenance(ctx context.Context, user string, timeMs int64, probeUUID, groupUUID, machine string) (*Window, error) {
	windows, err := e.List(ctx, user)
	if err != nil {
		return nil, err
	}
	for i := range windows {
		if windows[i].Contains(timeMs, probeUUID, groupUUID, machine) {
			return &windows[i], nil
		}
	}
	return nil, nil
}

// handleMaintenanceEnd runs after a window is removed. It publishes the
// ended window so the event router can re-evaluate suppressed alarms.
// TODO: re-open alarms that were suppressed by this window.
func (e *Engine) handleMaintenanceEnd(ctx context.Context, w *Window) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, plugin.Event{
		Topic:     TopicWindowEnded,
		Source:    "maint",
		Timestamp: time.Now().UTC(),
		Payload:   w,
	}); err != nil {
		e.logger.Warn("publish failed", zap.String("topic", TopicWindowEnded), zap.Error(err))
	}
}

// selfHeal schedules a background delete of a bogus stored record so list
// stays clean and the reaper cannot spin on it, then re-arms the reaper.
// rawID is the set member as stored, which may not even be numeric.
func (e *Engine) selfHeal(user, rawID string, cause error) {
	e.logger.Warn("dropping bogus maintenance record",
		zap.String("user", user),
		zap.String("id", rawID),
		zap.Error(cause),
	)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		key := fmt.Sprintf("maintenance:%s:%s", user, rawID)
		err := e.store.Tx(ctx, func(p kv.Pipe) error {
			p.SRem(setKey(user), rawID)
			p.ZRem(byEndKey, key)
			p.Del(key)
			return nil
		})
		if err != nil {
			e.logger.Error("self-heal delete failed", zap.String("key", key), zap.Error(err))
			return
		}
		e.reaper.Poke()
	}()
}
