package probes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/amonhq/amon/internal/server"
	"go.uber.org/zap"
)

// agentManifest is a cached agent-probes response: the serialized probe
// list (internal shape) plus its content digest.
type agentManifest struct {
	Body   []byte
	Digest string
}

// handleAgentProbes serves GET and HEAD /agentprobes?agent=UUID. Relays
// poll HEAD for the digest and GET the body when it changes. Responses are
// cached per agent; probe writes for that agent invalidate the entry.
func (m *Module) handleAgentProbes(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		server.WriteError(w, server.NewMissingParameter("agent"))
		return
	}
	if !isUUID(agent) {
		server.WriteError(w, server.NewInvalidArgument("agent %q is not a UUID", agent))
		return
	}

	manifest, err := m.agentManifest(r, agent)
	if err != nil {
		m.logger.Error("agent probes lookup failed", zap.String("agent", agent), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Digest", manifest.Digest)
	w.Header().Set("Etag", `"`+manifest.Digest+`"`)
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(manifest.Body)
}

// agentManifest returns the cached manifest for agent, building it on miss.
func (m *Module) agentManifest(r *http.Request, agent string) (*agentManifest, error) {
	c := m.caches.Get("AgentProbes")
	if c != nil {
		if val, ok := c.Get(agent); ok {
			return val.(*agentManifest), nil
		}
	}

	probes, err := m.store.ListAgentProbes(r.Context(), agent)
	if err != nil {
		return nil, err
	}

	// Canonical order so the digest is stable across directory result order.
	sort.Slice(probes, func(i, j int) bool { return probes[i].UUID < probes[j].UUID })

	out := make([]any, len(probes))
	for i := range probes {
		out[i] = probes[i].Internal()
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(body)
	manifest := &agentManifest{Body: body, Digest: hex.EncodeToString(sum[:])}
	if c != nil {
		c.Set(agent, manifest)
	}
	return manifest, nil
}
