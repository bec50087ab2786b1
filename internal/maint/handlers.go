package maint

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/amonhq/amon/internal/account"
	"github.com/amonhq/amon/internal/server"
	"github.com/amonhq/amon/pkg/plugin"
	"go.uber.org/zap"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	withUser := func(h http.HandlerFunc) http.HandlerFunc {
		return account.RequireUser(m.resolver, h)
	}
	return []plugin.Route{
		{Method: "GET", Path: "/pub/{user}/maintenances", Handler: withUser(m.handleList)},
		{Method: "POST", Path: "/pub/{user}/maintenances", Handler: withUser(m.handleCreate)},
		{Method: "GET", Path: "/pub/{user}/maintenances/{id}", Handler: withUser(m.handleGet)},
		{Method: "DELETE", Path: "/pub/{user}/maintenances/{id}", Handler: withUser(m.handleDelete)},
		{Method: "GET", Path: "/maintenances", Handler: m.handleListAll},
	}
}

func (m *Module) handleList(w http.ResponseWriter, r *http.Request) {
	owner := account.FromContext(r.Context())
	windows, err := m.engine.List(r.Context(), owner.UUID)
	if err != nil {
		m.logger.Error("list windows failed", zap.String("user", owner.UUID), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	if windows == nil {
		windows = []Window{}
	}
	server.WriteJSON(w, http.StatusOK, windows)
}

func (m *Module) handleCreate(w http.ResponseWriter, r *http.Request) {
	owner := account.FromContext(r.Context())

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, server.NewInvalidArgument("invalid maintenance body: %v", err))
		return
	}

	now := time.Now()
	start, err := parseStart(req.Start, now)
	if err != nil {
		server.WriteError(w, err)
		return
	}
	end, err := parseEnd(req.End, now)
	if err != nil {
		server.WriteError(w, err)
		return
	}

	win := &Window{
		User:        owner.UUID,
		Start:       start,
		End:         end,
		Notes:       req.Notes,
		All:         req.All,
		Probes:      req.Probes,
		ProbeGroups: req.ProbeGroups,
		Machines:    req.Machines,
	}
	// Pre-validate the parts the counter doesn't cover, before burning an id.
	probe := *win
	probe.ID = 1
	if err := probe.validate(); err != nil {
		server.WriteError(w, server.NewInvalidArgument("%v", err))
		return
	}

	if err := m.engine.Create(r.Context(), win); err != nil {
		m.logger.Error("create window failed", zap.String("user", owner.UUID), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	server.WriteJSON(w, http.StatusCreated, win)
}

func (m *Module) handleGet(w http.ResponseWriter, r *http.Request) {
	owner := account.FromContext(r.Context())
	id, ok := m.windowID(w, r)
	if !ok {
		return
	}

	win, err := m.engine.Get(r.Context(), owner.UUID, id)
	if err != nil {
		m.logger.Error("get window failed", zap.String("user", owner.UUID), zap.Int("id", id), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	if win == nil {
		m.writeAbsent(w, r, owner.UUID, id)
		return
	}
	server.WriteJSON(w, http.StatusOK, win)
}

func (m *Module) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner := account.FromContext(r.Context())
	id, ok := m.windowID(w, r)
	if !ok {
		return
	}

	existed, err := m.engine.Delete(r.Context(), owner.UUID, id)
	if err != nil {
		m.logger.Error("delete window failed", zap.String("user", owner.UUID), zap.Int("id", id), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	if !existed {
		m.writeAbsent(w, r, owner.UUID, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListAll serves the operator-only cross-user listing. The acting
// user comes from the X-Acting-User header and must be an operator.
func (m *Module) handleListAll(w http.ResponseWriter, r *http.Request) {
	acting := r.Header.Get("X-Acting-User")
	if acting == "" {
		server.WriteError(w, server.NewMissingParameter("X-Acting-User"))
		return
	}
	acct, err := m.resolver.Resolve(r.Context(), acting)
	if err != nil {
		server.WriteError(w, server.NewInternalError())
		return
	}
	if acct == nil || !acct.Operator {
		server.WriteError(w, server.NewInvalidArgument("listing all maintenances requires an operator"))
		return
	}

	windows, err := m.engine.ListAll(r.Context())
	if err != nil {
		m.logger.Error("list all windows failed", zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	if windows == nil {
		windows = []Window{}
	}
	server.WriteJSON(w, http.StatusOK, windows)
}

// windowID parses the {id} path value: a positive integer.
func (m *Module) windowID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.PathValue("id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		server.WriteError(w, server.NewInvalidArgument("maintenance id %q is not a positive integer", raw))
		return 0, false
	}
	return id, true
}

// writeAbsent distinguishes Gone (the id was issued once) from
// ResourceNotFound (the id was never issued).
func (m *Module) writeAbsent(w http.ResponseWriter, r *http.Request, user string, id int) {
	counter, err := m.engine.Counter(r.Context(), user)
	if err != nil {
		m.logger.Error("id counter lookup failed", zap.String("user", user), zap.Error(err))
		server.WriteError(w, server.NewInternalError())
		return
	}
	if id <= counter {
		server.WriteError(w, server.NewGone("maintenance %d is gone", id))
		return
	}
	server.WriteError(w, server.NewResourceNotFound("no such maintenance: %d", id))
}
