// Package httphandler is the HTTP driving adapter serving the dashboard's
// JSON API.
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/z871327332/kiropanel/internal/application"
	"github.com/z871327332/kiropanel/internal/domain/model"
	"github.com/z871327332/kiropanel/internal/domain/port/driven"
)

// ClientFactory builds an upstream client from settings. Injected by the
// composition root so this adapter stays decoupled from the client adapter.
type ClientFactory func(baseURL, adminToken string) (driven.KiroClient, error)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	poolSvc       *application.PoolService
	importSvc     *application.ImportService
	authSvc       *application.AuthService
	auditStore    driven.AuditStore
	settingsStore driven.SettingsStore
	provider      *application.KiroClientProvider
	newClient     ClientFactory
	logger        *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	poolSvc *application.PoolService,
	importSvc *application.ImportService,
	authSvc *application.AuthService,
	auditStore driven.AuditStore,
	settingsStore driven.SettingsStore,
	provider *application.KiroClientProvider,
	newClient ClientFactory,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		poolSvc:       poolSvc,
		importSvc:     importSvc,
		authSvc:       authSvc,
		auditStore:    auditStore,
		settingsStore: settingsStore,
		provider:      provider,
		newClient:     newClient,
		logger:        logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with auth, metrics, logging, and recovery middleware. static serves the
// embedded GUI and may be nil.
func NewServeMux(h *Handler, metrics *Metrics, static http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)

	mux.HandleFunc("GET /api/v1/credentials", h.ListCredentials)
	mux.HandleFunc("POST /api/v1/credentials", h.AddCredential)
	mux.HandleFunc("DELETE /api/v1/credentials/{id}", h.DeleteCredential)
	mux.HandleFunc("PUT /api/v1/credentials/{id}/disabled", h.SetDisabled)
	mux.HandleFunc("POST /api/v1/credentials/{id}/verify", h.VerifyCredential)
	mux.HandleFunc("POST /api/v1/credentials/refresh", h.RefreshPool)
	mux.HandleFunc("POST /api/v1/credentials/batch/delete", h.BatchDelete)
	mux.HandleFunc("POST /api/v1/credentials/batch/disable", h.BatchDisable)
	mux.HandleFunc("POST /api/v1/credentials/batch/verify", h.BatchVerify)
	mux.HandleFunc("GET /api/v1/pool", h.PoolHealth)

	mux.HandleFunc("POST /api/v1/imports", h.StartImport)
	mux.HandleFunc("GET /api/v1/imports/{id}", h.ImportProgress)
	mux.HandleFunc("POST /api/v1/imports/{id}/cancel", h.CancelImport)

	mux.HandleFunc("GET /api/v1/load-balancing", h.GetMode)
	mux.HandleFunc("PUT /api/v1/load-balancing", h.SetMode)

	mux.HandleFunc("GET /api/v1/audit", h.ListAudit)
	mux.HandleFunc("GET /api/v1/settings", h.GetSettings)
	mux.HandleFunc("PUT /api/v1/settings", h.UpdateSettings)

	mux.Handle("GET /metrics", promhttp.Handler())

	if static != nil {
		mux.Handle("/", static)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := authMiddleware(h.authSvc, mux)
	wrapped = recoveryMiddleware(logger, wrapped)
	if metrics != nil {
		wrapped = metricsMiddleware(metrics, wrapped)
	}
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// Login exchanges the admin password for a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.authSvc.Login(req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// ListCredentials returns the snapshot of the credential pool.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.poolSvc.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list credentials", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]CredentialResponse, 0, len(creds))
	for _, cred := range creds {
		resp = append(resp, toCredentialResponse(cred))
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddCredential creates a single credential upstream.
func (h *Handler) AddCredential(w http.ResponseWriter, r *http.Request) {
	var req AddCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	cred, err := h.poolSvc.Add(r.Context(), model.NewCredential{
		Token:  req.Token,
		Email:  req.Email,
		Region: req.Region,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCredentialResponse(*cred))
}

// DeleteCredential removes a credential upstream.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.poolSvc.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetDisabled sets or clears the disabled flag on a credential.
func (h *Handler) SetDisabled(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req SetDisabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.poolSvc.SetDisabled(r.Context(), id, req.Disabled); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// VerifyCredential probes a credential's balance upstream.
func (h *Handler) VerifyCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	balance, err := h.poolSvc.Verify(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceResponse(*balance))
}

// RefreshPool triggers a manual snapshot refresh and waits for it.
func (h *Handler) RefreshPool(w http.ResponseWriter, r *http.Request) {
	if err := h.poolSvc.Refresh(r.Context()); err != nil {
		h.logger.Error("manual refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, "refresh failed: "+err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// BatchDelete deletes the given credentials, skipping any that are not
// disabled.
func (h *Handler) BatchDelete(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	result, err := h.poolSvc.BatchDelete(r.Context(), req.IDs)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBatchResultResponse(*result))
}

// BatchDisable flips the disabled flag on the given credentials.
func (h *Handler) BatchDisable(w http.ResponseWriter, r *http.Request) {
	var req BatchDisableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	result, err := h.poolSvc.BatchSetDisabled(r.Context(), req.IDs, req.Disabled)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBatchResultResponse(*result))
}

// BatchVerify probes balances for the given credentials.
func (h *Handler) BatchVerify(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	result, err := h.poolSvc.BatchVerify(r.Context(), req.IDs)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBatchResultResponse(*result))
}

// PoolHealth returns aggregate pool counters.
func (h *Handler) PoolHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.poolSvc.Health(r.Context())
	if err != nil {
		h.logger.Error("failed to compute pool health", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toPoolHealthResponse(*health))
}

// StartImport accepts a batch of entries and starts an import job.
func (h *Handler) StartImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entries := make([]model.ImportEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		if strings.TrimSpace(e.Token) == "" {
			writeError(w, http.StatusBadRequest, "every entry needs a refresh_token")
			return
		}
		entries = append(entries, model.ImportEntry{
			Token:  e.Token,
			Email:  e.Email,
			Region: e.Region,
		})
	}

	jobID, err := h.importSvc.Start(r.Context(), entries)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, ImportStartedResponse{ID: jobID})
}

// ImportProgress returns the state of an import job.
func (h *Handler) ImportProgress(w http.ResponseWriter, r *http.Request) {
	job, err := h.importSvc.Progress(r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toImportJobResponse(job))
}

// CancelImport requests cancellation of a running import job.
func (h *Handler) CancelImport(w http.ResponseWriter, r *http.Request) {
	if err := h.importSvc.Cancel(r.PathValue("id")); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetMode returns the pool's load-balancing mode.
func (h *Handler) GetMode(w http.ResponseWriter, r *http.Request) {
	mode, err := h.poolSvc.Mode(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ModeResponse{Mode: string(mode)})
}

// SetMode switches the pool's load-balancing mode.
func (h *Handler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req SetModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode := model.LoadBalancingMode(req.Mode)
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "invalid load-balancing mode")
		return
	}

	if err := h.poolSvc.SetMode(r.Context(), mode); err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ModeResponse{Mode: req.Mode})
}

// ListAudit returns recent operator actions, newest first.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events, err := h.auditStore.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list audit events", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]AuditEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toAuditEventResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetSettings reports the stored upstream configuration. The admin token is
// never echoed back.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	url, err := h.settingsStore.Get(r.Context(), driven.SettingUpstreamURL)
	if err != nil {
		h.writeSettingsError(w, err)
		return
	}
	token, err := h.settingsStore.Get(r.Context(), driven.SettingAdminToken)
	if err != nil {
		h.writeSettingsError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SettingsResponse{
		UpstreamURL: url,
		TokenSet:    token != "",
		Configured:  h.provider.HasClient(),
	})
}

// UpdateSettings stores new upstream settings, swaps in a fresh client, and
// kicks off a refresh so the snapshot reflects the new upstream.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UpstreamURL) == "" || strings.TrimSpace(req.AdminToken) == "" {
		writeError(w, http.StatusBadRequest, "upstream_url and admin_token are required")
		return
	}

	client, err := h.newClient(req.UpstreamURL, req.AdminToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid upstream settings: "+err.Error())
		return
	}

	if err := h.settingsStore.Set(r.Context(), driven.SettingUpstreamURL, req.UpstreamURL); err != nil {
		h.writeSettingsError(w, err)
		return
	}
	if err := h.settingsStore.Set(r.Context(), driven.SettingAdminToken, req.AdminToken); err != nil {
		h.writeSettingsError(w, err)
		return
	}

	h.provider.Replace(client)

	if err := h.auditStore.Append(r.Context(), model.AuditEvent{
		Action:  model.AuditSettingsChanged,
		Subject: req.UpstreamURL,
		Success: true,
	}); err != nil {
		h.logger.Error("append audit event failed", "error", err)
	}

	// Fire-and-forget refresh with a detached context since the HTTP request
	// context will be cancelled after the response is sent.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.poolSvc.Refresh(ctx); err != nil {
			h.logger.Error("refresh after settings change failed", "error", err)
		}
	}()

	writeJSON(w, http.StatusOK, SettingsResponse{
		UpstreamURL: req.UpstreamURL,
		TokenSet:    true,
		Configured:  true,
	})
}

// pathID parses the {id} path segment, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid credential id")
		return 0, false
	}
	return id, true
}

// writeServiceError maps service and upstream errors to HTTP responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrNoClient):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, application.ErrEmptyImport):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "import job not found")
	case errors.Is(err, driven.ErrCredentialNotFound):
		writeError(w, http.StatusNotFound, "credential not found")
	case errors.Is(err, driven.ErrDuplicateCredential):
		writeError(w, http.StatusConflict, "credential already exists")
	case errors.Is(err, driven.ErrUnauthorized):
		writeError(w, http.StatusBadGateway, "upstream rejected the admin token")
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeSettingsError maps settings store errors, surfacing the missing
// encryption key distinctly.
func (h *Handler) writeSettingsError(w http.ResponseWriter, err error) {
	if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
		writeError(w, http.StatusPreconditionFailed, err.Error())
		return
	}
	h.logger.Error("settings store failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
