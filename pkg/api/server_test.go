package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/engine/enginetest"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/notify"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/orchestrator"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/registry"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/state"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/storage"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *enginetest.Fake) {
	t.Helper()
	eng := enginetest.New()
	orch := orchestrator.New(state.New(), registry.New(eng), eng, notify.Nop{}, storage.Nop{}, "test-host")
	return New("127.0.0.1:0", orch, eng), eng
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func imagePath(image, suffix string) string {
	return "/images/" + url.PathEscape(image) + suffix
}

func TestStartEndpointCreatesContainer(t *testing.T) {
	s, eng := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, imagePath("redis:7", "/start"),
		`{"ports":{"6379/tcp":0},"resources":{"cpu":"0.5","memory":"256m","status":"running"}}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var res struct {
		Action    string `json:"action"`
		Container struct {
			ID     string `json:"container_id"`
			Image  string `json:"image"`
			Status string `json:"status"`
		} `json:"container"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "created", res.Action)
	assert.Equal(t, "redis:7", res.Container.Image)
	assert.Equal(t, "running", res.Container.Status)
	assert.Equal(t, 1, eng.Len())

	// Second start keeps the existing container.
	rec = doRequest(t, s, http.MethodPost, imagePath("redis:7", "/start"), `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, eng.Len())
}

func TestScaleEndpointValidation(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, imagePath("redis:7", "/scale"),
		`{"min_replicas":3,"max_replicas":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, imagePath("redis:7", "/scale"),
		`{"min_replicas":2,"max_replicas":4}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Actions []struct {
			Action string `json:"action"`
			OK     bool   `json:"ok"`
		} `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Actions, 2)
}

func TestReconcileEndpoint(t *testing.T) {
	s, eng := newTestServer(t)
	eng.Seed("redis:7", "running")

	rec := doRequest(t, s, http.MethodPost, imagePath("redis:7", "/reconcile"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	// Default singleton bounds: nothing to do.
	var res struct {
		Actions []any `json:"actions"`
		Current []any `json:"current"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Empty(t, res.Actions)
	assert.Len(t, res.Current, 1)
}

func TestContainersEndpoints(t *testing.T) {
	s, eng := newTestServer(t)
	eng.Seed("redis:7", "running")
	eng.Seed("nginx:1", "running")

	rec := doRequest(t, s, http.MethodGet, "/containers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all struct {
		Containers []any `json:"containers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all.Containers, 2)

	rec = doRequest(t, s, http.MethodGet, imagePath("redis:7", "/containers"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var one struct {
		Containers []any `json:"containers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Len(t, one.Containers, 1)
}

func TestImageHealthEndpoint(t *testing.T) {
	eng := enginetest.New()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.RecordHealthSnapshot(types.HealthSnapshot{
		Image: "redis:7", ContainerID: "c-old", Status: types.HealthHealthy,
	}))

	orch := orchestrator.New(state.New(), registry.New(eng), eng, notify.Nop{}, store, "test-host")
	s := New("127.0.0.1:0", orch, eng)
	eng.Seed("redis:7", "exited")

	rec := doRequest(t, s, http.MethodGet, imagePath("redis:7", "/health?history=5"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Image  string `json:"image"`
		Health []struct {
			Alive  bool   `json:"alive"`
			Health string `json:"health"`
		} `json:"health"`
		History []struct {
			ContainerID string `json:"container_id"`
		} `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "redis:7", res.Image)
	require.Len(t, res.Health, 1)
	assert.False(t, res.Health[0].Alive)
	assert.Equal(t, "stopped", res.Health[0].Health)
	require.Len(t, res.History, 1)
	assert.Equal(t, "c-old", res.History[0].ContainerID)

	rec = doRequest(t, s, http.MethodGet, imagePath("redis:7", "/health?history=abc"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContainerStatsEndpoint(t *testing.T) {
	s, eng := newTestServer(t)
	id := eng.Seed("redis:7", "exited")

	rec := doRequest(t, s, http.MethodGet, "/containers/"+id+"/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Alive  bool   `json:"alive"`
		Health string `json:"health"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Alive)
	assert.Equal(t, "stopped", res.Health)

	rec = doRequest(t, s, http.MethodGet, "/containers/no-such/stats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContainerStatusEndpoint(t *testing.T) {
	s, eng := newTestServer(t)
	id := eng.Seed("redis:7", "running")

	rec := doRequest(t, s, http.MethodPost, "/containers/"+id+"/status", `{"status":"stopped"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var c struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, "exited", c.Status)

	rec = doRequest(t, s, http.MethodPost, "/containers/"+id+"/status", `{"status":"paused"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/containers/no-such/status", `{"status":"running"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContainerDeleteEndpoint(t *testing.T) {
	s, eng := newTestServer(t)
	id := eng.Seed("redis:7", "running")

	rec := doRequest(t, s, http.MethodDelete, "/containers/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Deleted bool `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Deleted)
	assert.Zero(t, eng.Len())

	rec = doRequest(t, s, http.MethodDelete, "/containers/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateResourcesEndpoint(t *testing.T) {
	s, eng := newTestServer(t)
	id := eng.Seed("redis:7", "running")

	rec := doRequest(t, s, http.MethodPut, imagePath("redis:7", "/resources"),
		`{"cpu":"1","memory":"512m"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Updated []string `json:"updated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, []string{id}, res.Updated)
}

func TestDesiredStateEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	doRequest(t, s, http.MethodPost, imagePath("redis:7", "/scale"),
		`{"min_replicas":1,"max_replicas":2}`)

	rec := doRequest(t, s, http.MethodGet, "/desired-state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Desired []struct {
			Image string `json:"image"`
		} `json:"desired"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Desired, 1)
	assert.Equal(t, "redis:7", res.Desired[0].Image)
}

func TestSystemUsageAndHealthEndpoints(t *testing.T) {
	s, eng := newTestServer(t)
	eng.Seed("redis:7", "running")

	rec := doRequest(t, s, http.MethodGet, "/system/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var usage struct {
		Managed int `json:"managed_containers"`
		Running int `json:"running_containers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.Equal(t, 1, usage.Managed)
	assert.Equal(t, 1, usage.Running)

	rec = doRequest(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	eng.PingErr = assert.AnError
	rec = doRequest(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEventsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/events?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Events []any `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Empty(t, res.Events)

	rec = doRequest(t, s, http.MethodGet, "/events?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMalformedBodyRejected(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, imagePath("redis:7", "/scale"), `{"min_replicas":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
