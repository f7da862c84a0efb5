package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/engine"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/log"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/metrics"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/orchestrator"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/types"
)

// Server is the control-plane HTTP server.
type Server struct {
	orch   *orchestrator.Orchestrator
	engine engine.Engine
	server *http.Server
}

// New builds a server listening on addr.
func New(addr string, orch *orchestrator.Orchestrator, eng engine.Engine) *Server {
	s := &Server{orch: orch, engine: eng}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /images/{image}/start", s.handleStart)
	mux.HandleFunc("POST /images/{image}/scale", s.handleScale)
	mux.HandleFunc("POST /images/{image}/reconcile", s.handleReconcile)
	mux.HandleFunc("GET /images/{image}/containers", s.handleImageContainers)
	mux.HandleFunc("GET /images/{image}/health", s.handleImageHealth)
	mux.HandleFunc("PUT /images/{image}/resources", s.handleUpdateResources)
	mux.HandleFunc("GET /containers", s.handleContainers)
	mux.HandleFunc("GET /containers/{id}/stats", s.handleContainerStats)
	mux.HandleFunc("POST /containers/{id}/status", s.handleContainerStatus)
	mux.HandleFunc("DELETE /containers/{id}", s.handleContainerDelete)
	mux.HandleFunc("GET /desired-state", s.handleDesiredState)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /system/usage", s.handleSystemUsage)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	s.server = &http.Server{
		Addr:         addr,
		Handler:      instrument(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until Shutdown. It returns http.ErrServerClosed on a clean
// shutdown, like the underlying server.
func (s *Server) Start() error {
	log.WithComponent("api").Info().Str("addr", s.server.Addr).Msg("http server listening")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// startRequest is the body of POST /images/{image}/start. Bounds default
// to a singleton when omitted.
type startRequest struct {
	MinReplicas *int                   `json:"min_replicas"`
	MaxReplicas *int                   `json:"max_replicas"`
	Env         map[string]string      `json:"env"`
	Ports       map[string]int         `json:"ports"`
	Resources   types.ResourceTemplate `json:"resources"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	image, ok := imageParam(w, r)
	if !ok {
		return
	}

	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := types.DesiredImageConfig{
		Image:       image,
		MinReplicas: 1,
		MaxReplicas: 1,
		Env:         req.Env,
		Ports:       req.Ports,
		Resources:   req.Resources,
	}
	if req.MinReplicas != nil {
		cfg.MinReplicas = *req.MinReplicas
	}
	if req.MaxReplicas != nil {
		cfg.MaxReplicas = *req.MaxReplicas
	}

	if err := s.orch.RegisterDesiredState(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.orch.EnsureOne(r.Context(), cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if res.Action == types.EnsureCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

type scaleRequest struct {
	MinReplicas int `json:"min_replicas"`
	MaxReplicas int `json:"max_replicas"`
}

func (s *Server) handleScale(w http.ResponseWriter, r *http.Request) {
	image, ok := imageParam(w, r)
	if !ok {
		return
	}

	var req scaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.orch.Scale(r.Context(), image, req.MinReplicas, req.MaxReplicas)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	image, ok := imageParam(w, r)
	if !ok {
		return
	}

	res, err := s.orch.Reconcile(r.Context(), image)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleImageContainers(w http.ResponseWriter, r *http.Request) {
	image, ok := imageParam(w, r)
	if !ok {
		return
	}

	containers, err := s.orch.ListManaged(r.Context(), image)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"image": image, "containers": containers})
}

// handleImageHealth reports live per-container health for an image.
// ?history=N appends the N most recent persisted snapshots.
func (s *Server) handleImageHealth(w http.ResponseWriter, r *http.Request) {
	image, ok := imageParam(w, r)
	if !ok {
		return
	}

	report, err := s.orch.ImageHealth(r.Context(), image)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	body := map[string]any{"image": image, "health": report}
	if v := r.URL.Query().Get("history"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid history")
			return
		}
		snaps, err := s.orch.HealthHistory(image, n)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if snaps == nil {
			snaps = []types.HealthSnapshot{}
		}
		body["history"] = snaps
	}
	writeJSON(w, http.StatusOK, body)
}

type resourcesRequest struct {
	CPU    string `json:"cpu"`
	Memory string `json:"memory"`
}

func (s *Server) handleUpdateResources(w http.ResponseWriter, r *http.Request) {
	image, ok := imageParam(w, r)
	if !ok {
		return
	}

	var req resourcesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.orch.UpdateResources(r.Context(), image, req.CPU, req.Memory)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if updated == nil {
		updated = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"image": image, "updated": updated})
}

func (s *Server) handleContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := s.orch.ListManaged(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"containers": containers})
}

func (s *Server) handleContainerStats(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.ContainerStats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeContainerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type statusRequest struct {
	Status types.RunStatus `json:"status"`
}

func (s *Server) handleContainerStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.orch.SetStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		if engine.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "container not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleContainerDelete(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	res, err := s.orch.Delete(r.Context(), r.PathValue("id"), force)
	if err != nil {
		writeContainerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDesiredState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"desired": s.orch.DesiredState()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events, err := s.orch.Events(r.URL.Query().Get("image"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleSystemUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.orch.SystemUsage(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := "healthy"
	engineStatus := "ok"
	status := http.StatusOK
	if err := s.engine.Ping(r.Context()); err != nil {
		overall = "degraded"
		engineStatus = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":    overall,
		"engine":    engineStatus,
		"timestamp": time.Now().UTC(),
	})
}

// imageParam decodes the path-escaped image segment.
func imageParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	image, err := url.PathUnescape(r.PathValue("image"))
	if err != nil || image == "" {
		writeError(w, http.StatusBadRequest, "invalid image reference")
		return "", false
	}
	return image, true
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

func writeContainerError(w http.ResponseWriter, err error) {
	if engine.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "container not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
