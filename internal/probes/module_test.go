package probes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amonhq/amon/internal/machines"
	"github.com/amonhq/amon/pkg/plugin"
	"github.com/amonhq/amon/pkg/plugin/plugintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin {
		return New(newFakeDir(), &fakeInventory{}, &fakeVMs{}, testCaches(), nil, "")
	})
}

// serveModule mounts all of the module's routes on a mux and serves the
// request through it, so path values resolve.
func serveModule(t *testing.T, m *Module, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	for _, route := range m.Routes() {
		mux.HandleFunc(route.Method+" "+route.Path, route.Handler)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateProbe_MissingType(t *testing.T) {
	dir := newFakeDir()
	dir.addPerson(ownerUUID, "bob")
	m, _ := newTestModule(t, dir)
	putsBefore := dir.puts

	body := `{"user":"` + ownerUUID + `","agent":"` + agentUUID + `"}`
	req := httptest.NewRequest("POST", "/pub/"+ownerUUID+"/probes", strings.NewReader(body))
	rec := serveModule(t, m, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "MissingParameter", resp["code"])
	assert.Equal(t, putsBefore, dir.puts, "no directory write on validation failure")
}

func TestListProbes_UnknownUser(t *testing.T) {
	dir := newFakeDir()
	m, _ := newTestModule(t, dir)

	req := httptest.NewRequest("GET", "/pub/f0e1d2c3-0000-4000-8000-000000000000/probes", nil)
	rec := serveModule(t, m, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ResourceNotFound", resp["code"])
}

func TestCreateThenGetProbe_RoundTrips(t *testing.T) {
	dir := newFakeDir()
	dir.addPerson(ownerUUID, "bob")
	m, _ := newTestModule(t, dir)

	// The fake VM store owns machineUUID for ownerUUID, so the write
	// authorizes via rule 3.
	m.authz = NewAuthorizer(&fakeInventory{}, &fakeVMs{vms: map[string]*machines.VM{
		machineUUID: {UUID: machineUUID, OwnerUUID: ownerUUID},
	}}, "")

	body := `{"type":"machine-up","agent":"` + agentUUID + `","machine":"` + machineUUID + `","contacts":["email"]}`
	req := httptest.NewRequest("POST", "/pub/"+ownerUUID+"/probes", strings.NewReader(body))
	rec := serveModule(t, m, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	probeUUID := created["uuid"].(string)

	getReq := httptest.NewRequest("GET", "/pub/"+ownerUUID+"/probes/"+probeUUID, nil)
	getRec := serveModule(t, m, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var fetched map[string]any
	require.NoError(t, json.NewDecoder(getRec.Body).Decode(&fetched))
	assert.Equal(t, created, fetched, "create and fetch must agree on the public serialization")
}

func TestDeleteProbe_TwiceYields404(t *testing.T) {
	dir := newFakeDir()
	dir.addPerson(ownerUUID, "bob")
	m, _ := newTestModule(t, dir)

	p := validProbe()
	require.NoError(t, m.store.PutProbe(context.Background(), &p))

	del := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("DELETE", "/pub/"+ownerUUID+"/probes/"+p.UUID, nil)
		return serveModule(t, m, req)
	}

	require.Equal(t, http.StatusNoContent, del().Code)
	assert.Equal(t, http.StatusNotFound, del().Code)
}

func TestPutProbe_ReferencedGroupMustExist(t *testing.T) {
	dir := newFakeDir()
	dir.addPerson(ownerUUID, "bob")
	m, _ := newTestModule(t, dir)

	body := `{"type":"machine-up","agent":"` + agentUUID + `","machine":"` + machineUUID + `","group":"ab123111-2222-4333-8444-555555555555"}`
	req := httptest.NewRequest("POST", "/pub/"+ownerUUID+"/probes", strings.NewReader(body))
	rec := serveModule(t, m, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "InvalidArgument", resp["code"])
}

func TestCreateGroup_RoundTrips(t *testing.T) {
	dir := newFakeDir()
	dir.addPerson(ownerUUID, "bob")
	m, _ := newTestModule(t, dir)

	body := `{"name":"web-tier","contacts":["email"]}`
	req := httptest.NewRequest("POST", "/pub/"+ownerUUID+"/probegroups", strings.NewReader(body))
	rec := serveModule(t, m, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created ProbeGroup
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "web-tier", created.Name)

	getReq := httptest.NewRequest("GET", "/pub/"+ownerUUID+"/probegroups/"+created.UUID, nil)
	getRec := serveModule(t, m, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}
