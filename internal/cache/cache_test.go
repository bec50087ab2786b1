package cache

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestCache_SetGet(t *testing.T) {
	c := New("test", 10, time.Minute, false)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set("k", "v")
	val, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if val.(string) != "v" {
		t.Errorf("Get = %v, want v", val)
	}
}

func TestCache_NegativeResult(t *testing.T) {
	c := New("test", 10, time.Minute, false)

	// A cached nil is a hit, distinct from a miss.
	c.Set("absent", (*struct{})(nil))
	val, ok := c.Get("absent")
	if !ok {
		t.Fatal("expected hit for cached negative result")
	}
	if val.(*struct{}) != nil {
		t.Errorf("expected nil value, got %v", val)
	}
}

func TestCache_Del(t *testing.T) {
	c := New("test", 10, time.Minute, false)
	c.Set("k", 1)
	c.Del("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss after Del")
	}
}

func TestCache_Reset(t *testing.T) {
	c := New("test", 10, time.Minute, false)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Reset()
	if c.Len() != 0 {
		t.Errorf("Len = %d after Reset, want 0", c.Len())
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New("test", 10, 20*time.Millisecond, false)
	c.Set("k", 1)
	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c := New("test", 2, time.Minute, false)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected oldest entry to be evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected newest entry to survive")
	}
}

func TestCache_Disabled(t *testing.T) {
	c := New("test", 10, time.Minute, true)
	c.Set("k", 1)
	if _, ok := c.Get("k"); ok {
		t.Fatal("disabled cache must always miss")
	}
}

func TestRegistry_InvalidateWrite(t *testing.T) {
	r := NewRegistry(false, zap.NewNop())
	list := r.Create("ProbeList", 10, time.Minute)
	get := r.Create("ProbeGet", 10, time.Minute)

	list.Set("user-1", []string{"p1"})
	list.Set("user-2", []string{"p2"})
	get.Set("dn-1", "probe-1")
	get.Set("dn-2", "probe-2")

	r.InvalidateWrite("Probe", "dn-1")

	if list.Len() != 0 {
		t.Error("list cache must be cleared entirely on write")
	}
	if _, ok := get.Get("dn-1"); ok {
		t.Error("written entity must be dropped from the get cache")
	}
	if _, ok := get.Get("dn-2"); !ok {
		t.Error("unrelated get entries must survive")
	}
}

func TestRegistry_CreateIsIdempotent(t *testing.T) {
	r := NewRegistry(false, zap.NewNop())
	a := r.Create("X", 10, time.Minute)
	a.Set("k", 1)
	b := r.Create("X", 10, time.Minute)
	if _, ok := b.Get("k"); !ok {
		t.Fatal("Create with an existing name must return the original cache")
	}
}
