package probes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amonhq/amon/internal/account"
	"github.com/amonhq/amon/internal/cache"
	"github.com/amonhq/amon/pkg/plugin"
	"go.uber.org/zap"
)

// newTestModule builds a probes module over a fake directory, with a
// resolver that answers from the same fake.
func newTestModule(t *testing.T, dir *fakeDir) (*Module, *cache.Registry) {
	t.Helper()
	caches := testCaches()
	resolver := account.NewResolver(dir, caches.Get("UserGet"), "cn=operators, ou=groups, o=smartdc", zap.NewNop())

	m := New(dir, &fakeInventory{}, &fakeVMs{}, caches, resolver, "")
	if err := m.Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop()}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return m, caches
}

func headAgentProbes(m *Module, agent string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodHead, "/agentprobes?agent="+agent, nil)
	m.handleAgentProbes(rec, req)
	return rec
}

func TestAgentProbes_DigestStableWithoutWrites(t *testing.T) {
	dir := newFakeDir()
	m, _ := newTestModule(t, dir)

	p := validProbe()
	if err := m.store.PutProbe(context.Background(), &p); err != nil {
		t.Fatalf("PutProbe: %v", err)
	}

	first := headAgentProbes(m, agentUUID)
	second := headAgentProbes(m, agentUUID)

	d1 := first.Header().Get("X-Content-Digest")
	d2 := second.Header().Get("X-Content-Digest")
	if d1 == "" || d1 != d2 {
		t.Errorf("digests = %q / %q, want identical non-empty", d1, d2)
	}
}

func TestAgentProbes_DigestChangesOnWrite(t *testing.T) {
	dir := newFakeDir()
	m, _ := newTestModule(t, dir)
	ctx := context.Background()

	p := validProbe()
	if err := m.store.PutProbe(ctx, &p); err != nil {
		t.Fatalf("PutProbe: %v", err)
	}
	before := headAgentProbes(m, agentUUID).Header().Get("X-Content-Digest")

	p2 := validProbe()
	p2.UUID = "0b123111-2222-4333-8444-555555555555"
	p2.Name = "another"
	if err := m.store.PutProbe(ctx, &p2); err != nil {
		t.Fatalf("PutProbe: %v", err)
	}
	after := headAgentProbes(m, agentUUID).Header().Get("X-Content-Digest")

	if before == after {
		t.Error("digest must change after a probe write touching the agent")
	}
}

func TestAgentProbes_GetServesInternalShape(t *testing.T) {
	dir := newFakeDir()
	m, _ := newTestModule(t, dir)

	p := validProbe()
	if err := m.store.PutProbe(context.Background(), &p); err != nil {
		t.Fatalf("PutProbe: %v", err)
	}

	rec := httptest.NewRecorder()
	m.handleAgentProbes(rec, httptest.NewRequest(http.MethodGet, "/agentprobes?agent="+agentUUID, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "runInVmHost") {
		t.Error("agent manifest must use the internal serialization")
	}
	var manifest []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &manifest); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(manifest) != 1 {
		t.Errorf("manifest len = %d", len(manifest))
	}
}

func TestAgentProbes_HeadHasNoBody(t *testing.T) {
	dir := newFakeDir()
	m, _ := newTestModule(t, dir)

	rec := headAgentProbes(m, agentUUID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD body = %q, want empty", rec.Body.String())
	}
}

func TestAgentProbes_ParameterValidation(t *testing.T) {
	dir := newFakeDir()
	m, _ := newTestModule(t, dir)

	rec := httptest.NewRecorder()
	m.handleAgentProbes(rec, httptest.NewRequest(http.MethodGet, "/agentprobes", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("missing agent: status = %d, want 409", rec.Code)
	}

	rec = httptest.NewRecorder()
	m.handleAgentProbes(rec, httptest.NewRequest(http.MethodGet, "/agentprobes?agent=nope", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("bad agent: status = %d, want 409", rec.Code)
	}
}
