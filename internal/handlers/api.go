package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"splynx-collector/internal/common"
	"splynx-collector/internal/interfaces"
)

// APIHandlers contains all API endpoint handlers
type APIHandlers struct {
	config    *common.Config
	storage   interfaces.Storage
	session   interfaces.Session
	logger    arbor.ILogger
	startTime time.Time
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Build     string    `json:"build"`
	Uptime    float64   `json:"uptime_seconds"`
	Services  struct {
		Database bool `json:"database"`
		Session  bool `json:"session"`
	} `json:"services"`
}

// VersionResponse represents version information
type VersionResponse struct {
	Version string `json:"version"`
	Build   string `json:"build"`
	Commit  string `json:"commit"`
}

// StatusResponse represents the collector status response
type StatusResponse struct {
	SessionReady bool                  `json:"session_ready"`
	Uptime       float64               `json:"uptime_seconds"`
	LastRun      *interfaces.RunRecord `json:"last_run,omitempty"`
}

// CommandResponse is the outcome of a submitted command.
type CommandResponse struct {
	Accepted bool   `json:"accepted"`
	Command  string `json:"command,omitempty"`
	Message  string `json:"message,omitempty"`
}

type openRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type extractRequest struct {
	Table string `json:"table"`
	Mode  string `json:"mode"`
}

type workbookRequest struct {
	WorkbookPath string `json:"workbook_path"`
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(config *common.Config, storage interfaces.Storage, session interfaces.Session, logger arbor.ILogger) *APIHandlers {
	return &APIHandlers{
		config:    config,
		storage:   storage,
		session:   session,
		logger:    logger,
		startTime: time.Now(),
	}
}

func (h *APIHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// HealthHandler returns system health status
func (h *APIHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   common.GetVersion(),
		Build:     common.GetBuild(),
		Uptime:    time.Since(h.startTime).Seconds(),
	}

	health.Services.Database = h.testDatabaseConnection()
	health.Services.Session = h.session.Ready()

	if !health.Services.Database {
		health.Status = "degraded"
	}

	h.writeJSON(w, http.StatusOK, health)
}

func (h *APIHandlers) testDatabaseConnection() bool {
	if h.storage == nil {
		return false
	}
	_, err := h.storage.LastRun()
	return err == nil
}

// VersionHandler returns build version information
func (h *APIHandlers) VersionHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, VersionResponse{
		Version: common.GetVersion(),
		Build:   common.GetBuild(),
		Commit:  common.GetGitCommit(),
	})
}

// StatusHandler returns session readiness and the last recorded run
func (h *APIHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	status := StatusResponse{
		SessionReady: h.session.Ready(),
		Uptime:       time.Since(h.startTime).Seconds(),
	}

	if last, err := h.storage.LastRun(); err == nil {
		status.LastRun = last
	} else {
		h.logger.Warn().Err(err).Msg("Failed to load last run")
	}

	h.writeJSON(w, http.StatusOK, status)
}

// RunsHandler returns the recorded run history
func (h *APIHandlers) RunsHandler(w http.ResponseWriter, r *http.Request) {
	runs, err := h.storage.LoadRuns()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load runs")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*interfaces.RunRecord{}
	}
	h.writeJSON(w, http.StatusOK, runs)
}

// OpenHandler launches the browser session and fills the login form.
func (h *APIHandlers) OpenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if err := h.session.Open(req.Username, req.Password); err != nil {
		h.writeJSON(w, http.StatusConflict, CommandResponse{
			Accepted: false,
			Command:  "open",
			Message:  err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, CommandResponse{
		Accepted: true,
		Command:  "open",
		Message:  "session opened, complete 2FA in the browser",
	})
}

// ExtractHandler submits a table extraction job.
func (h *APIHandlers) ExtractHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	req := extractRequest{Table: "tickets", Mode: "auto"}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
	}
	if req.Table == "" {
		req.Table = "tickets"
	}
	if req.Mode == "" {
		req.Mode = "auto"
	}

	h.submit(w, interfaces.ExtractCommand{Table: req.Table, Mode: req.Mode})
}

// EnrichHandler submits a customer enrichment job.
func (h *APIHandlers) EnrichHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	req := h.decodeWorkbookRequest(r)
	h.submit(w, interfaces.EnrichCommand{WorkbookPath: req.WorkbookPath})
}

// CollectDatesHandler submits a date collection job.
func (h *APIHandlers) CollectDatesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	req := h.decodeWorkbookRequest(r)
	h.submit(w, interfaces.CollectDatesCommand{WorkbookPath: req.WorkbookPath})
}

// ShutdownHandler asks the session loop to stop after the current job.
func (h *APIHandlers) ShutdownHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	go func() {
		if err := h.session.Close(); err != nil {
			h.logger.Warn().Err(err).Msg("Session close failed")
		}
	}()

	h.writeJSON(w, http.StatusOK, CommandResponse{
		Accepted: true,
		Command:  "shutdown",
		Message:  "session closing",
	})
}

func (h *APIHandlers) decodeWorkbookRequest(r *http.Request) workbookRequest {
	var req workbookRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return req
}

// submit forwards the command and maps a rejection to 409.
func (h *APIHandlers) submit(w http.ResponseWriter, cmd interfaces.Command) {
	if err := h.session.Submit(cmd); err != nil {
		h.writeJSON(w, http.StatusConflict, CommandResponse{
			Accepted: false,
			Command:  cmd.Name(),
			Message:  err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusAccepted, CommandResponse{
		Accepted: true,
		Command:  cmd.Name(),
		Message:  "job started",
	})
}
