package probes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/amonhq/amon/internal/account"
	"github.com/amonhq/amon/internal/server"
	"github.com/amonhq/amon/pkg/plugin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Routes implements plugin.HTTPProvider. Every /pub route resolves {user}
// before the handler runs.
func (m *Module) Routes() []plugin.Route {
	withUser := func(h http.HandlerFunc) http.HandlerFunc {
		return account.RequireUser(m.resolver, h)
	}
	return []plugin.Route{
		{Method: "GET", Path: "/pub/{user}/probes", Handler: withUser(m.handleListProbes)},
		{Method: "POST", Path: "/pub/{user}/probes", Handler: withUser(m.handleCreateProbe)},
		{Method: "GET", Path: "/pub/{user}/probes/{uuid}", Handler: withUser(m.handleGetProbe)},
		{Method: "PUT", Path: "/pub/{user}/probes/{uuid}", Handler: withUser(m.handlePutProbe)},
		{Method: "DELETE", Path: "/pub/{user}/probes/{uuid}", Handler: withUser(m.handleDeleteProbe)},

		{Method: "GET", Path: "/pub/{user}/probegroups", Handler: withUser(m.handleListGroups)},
		{Method: "POST", Path: "/pub/{user}/probegroups", Handler: withUser(m.handleCreateGroup)},
		{Method: "GET", Path: "/pub/{user}/probegroups/{uuid}", Handler: withUser(m.handleGetGroup)},
		{Method: "PUT", Path: "/pub/{user}/probegroups/{uuid}", Handler: withUser(m.handlePutGroup)},
		{Method: "DELETE", Path: "/pub/{user}/probegroups/{uuid}", Handler: withUser(m.handleDeleteGroup)},

		{Method: "GET", Path: "/agentprobes", Handler: m.handleAgentProbes},
	}
}

// actor returns the account the request acts as: the X-Acting-User header
// when present (how operators manage foreign entities), the path user
// otherwise.
func (m *Module) actor(r *http.Request) (*account.Account, error) {
	acting := r.Header.Get("X-Acting-User")
	if acting == "" {
		return account.FromContext(r.Context()), nil
	}
	acct, err := m.resolver.Resolve(r.Context(), acting)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, server.NewInvalidArgument("acting user %q does not exist", acting)
	}
	return acct, nil
}

// -- probes --

func (m *Module) handleListProbes(w http.ResponseWriter, r *http.Request) {
	owner := account.FromContext(r.Context())
	probes, err := m.store.ListProbes(r.Context(), owner.UUID)
	if err != nil {
		m.logger.Error("list probes failed", zap.String("user", owner.UUID), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	out := make([]any, len(probes))
	for i := range probes {
		out[i] = probes[i].Public()
	}
	server.WriteJSON(w, http.StatusOK, out)
}

func (m *Module) handleCreateProbe(w http.ResponseWriter, r *http.Request) {
	m.upsertProbe(w, r, uuid.New().String(), http.StatusCreated)
}

func (m *Module) handlePutProbe(w http.ResponseWriter, r *http.Request) {
	probeUUID := r.PathValue("uuid")
	if !isUUID(probeUUID) {
		server.WriteError(w, server.NewInvalidArgument("probe uuid %q is not a UUID", probeUUID))
		return
	}
	m.upsertProbe(w, r, probeUUID, http.StatusOK)
}

// upsertProbe is the shared create/update path: validate, authorize,
// persist, invalidate caches, respond.
func (m *Module) upsertProbe(w http.ResponseWriter, r *http.Request, probeUUID string, okStatus int) {
	owner := account.FromContext(r.Context())

	var p Probe
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		server.WriteError(w, server.NewInvalidArgument("invalid probe body: %v", err))
		return
	}
	if p.User != "" && p.User != owner.UUID {
		server.WriteError(w, server.NewInvalidArgument(
			"probe user %q does not match the request owner", p.User))
		return
	}
	p.User = owner.UUID
	p.UUID = probeUUID

	if err := p.validate(m.kinds); err != nil {
		server.WriteError(w, err)
		return
	}
	kind, _ := m.kinds.Get(p.Type)

	// A referenced group must exist and belong to the same user.
	if p.Group != "" {
		g, err := m.store.GetGroup(r.Context(), owner.UUID, p.Group)
		if err != nil {
			m.logger.Error("group lookup failed", zap.String("group", p.Group), zap.Error(err))
			server.WriteError(w, server.NewInternalError())
			return
		}
		if g == nil {
			server.WriteError(w, server.NewInvalidArgument("probe group %q does not exist", p.Group))
			return
		}
	}

	actor, err := m.actor(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	skipAuthz := r.URL.Query().Get("skipauthz") == "true"
	if err := m.authz.AuthorizePut(r.Context(), actor, &p, kind, skipAuthz); err != nil {
		var re *server.RestError
		if errors.As(err, &re) {
			server.WriteError(w, re)
			return
		}
		m.logger.Error("authorization lookup failed",
			zap.String("user", owner.UUID),
			zap.String("probe", p.UUID),
			zap.Error(err),
		)
		server.WriteError(w, server.NewInternalError())
		return
	}

	if err := m.store.PutProbe(r.Context(), &p); err != nil {
		m.logger.Error("put probe failed",
			zap.String("user", owner.UUID),
			zap.String("probe", p.UUID),
			zap.Error(err),
		)
		server.WriteError(w, server.NewInternalError())
		return
	}
	server.WriteJSON(w, okStatus, p.Public())
}

func (m *Module) handleGetProbe(w http.ResponseWriter, r *http.Request) {
	owner := account.FromContext(r.Context())
	probeUUID := r.PathValue("uuid")
	p, err := m.store.GetProbe(r.Context(), owner.UUID, probeUUID)
	if err != nil {
		m.logger.Error("get probe failed", zap.String("probe", probeUUID), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	if p == nil {
		server.WriteError(w, server.NewResourceNotFound("no such probe: %q", probeUUID))
		return
	}
	server.WriteJSON(w, http.StatusOK, p.Public())
}

func (m *Module) handleDeleteProbe(w http.ResponseWriter, r *http.Request) {
	owner := account.FromContext(r.Context())
	probeUUID := r.PathValue("uuid")
	p, err := m.store.GetProbe(r.Context(), owner.UUID, probeUUID)
	if err != nil {
		m.logger.Error("get probe failed", zap.String("probe", probeUUID), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	if p == nil {
		server.WriteError(w, server.NewResourceNotFound("no such probe: %q", probeUUID))
		return
	}

	actor, err := m.actor(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	if err := m.authz.AuthorizeDelete(actor, owner.UUID); err != nil {
		server.WriteError(w, err)
		return
	}

	if err := m.store.DeleteProbe(r.Context(), p); err != nil {
		m.logger.Error("delete probe failed", zap.String("probe", probeUUID), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -- probe groups --

func (m *Module) handleListGroups(w http.ResponseWriter, r *http.Request) {
	owner := account.FromContext(r.Context())
	groups, err := m.store.ListGroups(r.Context(), owner.UUID)
	if err != nil {
		m.logger.Error("list groups failed", zap.String("user", owner.UUID), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	server.WriteJSON(w, http.StatusOK, groups)
}

func (m *Module) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	m.upsertGroup(w, r, uuid.New().String(), http.StatusCreated)
}

func (m *Module) handlePutGroup(w http.ResponseWriter, r *http.Request) {
	groupUUID := r.PathValue("uuid")
	if !isUUID(groupUUID) {
		server.WriteError(w, server.NewInvalidArgument("group uuid %q is not a UUID", groupUUID))
		return
	}
	m.upsertGroup(w, r, groupUUID, http.StatusOK)
}

func (m *Module) upsertGroup(w http.ResponseWriter, r *http.Request, groupUUID string, okStatus int) {
	owner := account.FromContext(r.Context())

	var g ProbeGroup
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		server.WriteError(w, server.NewInvalidArgument("invalid probe group body: %v", err))
		return
	}
	if g.User != "" && g.User != owner.UUID {
		server.WriteError(w, server.NewInvalidArgument(
			"probe group user %q does not match the request owner", g.User))
		return
	}
	g.User = owner.UUID
	g.UUID = groupUUID

	if err := g.validate(); err != nil {
		server.WriteError(w, err)
		return
	}

	actor, err := m.actor(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	if err := m.authz.AuthorizeDelete(actor, owner.UUID); err != nil {
		server.WriteError(w, err)
		return
	}

	if err := m.store.PutGroup(r.Context(), &g); err != nil {
		m.logger.Error("put group failed",
			zap.String("user", owner.UUID),
			zap.String("group", g.UUID),
			zap.Error(err),
		)
		server.WriteError(w, server.NewInternalError())
		return
	}
	server.WriteJSON(w, okStatus, g)
}

func (m *Module) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	owner := account.FromContext(r.Context())
	groupUUID := r.PathValue("uuid")
	g, err := m.store.GetGroup(r.Context(), owner.UUID, groupUUID)
	if err != nil {
		m.logger.Error("get group failed", zap.String("group", groupUUID), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	if g == nil {
		server.WriteError(w, server.NewResourceNotFound("no such probe group: %q", groupUUID))
		return
	}
	server.WriteJSON(w, http.StatusOK, g)
}

func (m *Module) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	owner := account.FromContext(r.Context())
	groupUUID := r.PathValue("uuid")
	g, err := m.store.GetGroup(r.Context(), owner.UUID, groupUUID)
	if err != nil {
		m.logger.Error("get group failed", zap.String("group", groupUUID), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	if g == nil {
		server.WriteError(w, server.NewResourceNotFound("no such probe group: %q", groupUUID))
		return
	}

	actor, err := m.actor(r)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	if err := m.authz.AuthorizeDelete(actor, owner.UUID); err != nil {
		server.WriteError(w, err)
		return
	}

	// A group still referenced by probes must not disappear under them.
	probes, err := m.store.ListProbes(r.Context(), owner.UUID)
	if err != nil {
		m.logger.Error("list probes failed", zap.String("user", owner.UUID), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	for i := range probes {
		if probes[i].Group == groupUUID {
			server.WriteError(w, server.NewInvalidArgument(
				"probe group %q is still referenced by probe %q", groupUUID, probes[i].UUID))
			return
		}
	}

	if err := m.store.DeleteGroup(r.Context(), owner.UUID, groupUUID); err != nil {
		m.logger.Error("delete group failed", zap.String("group", groupUUID), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
