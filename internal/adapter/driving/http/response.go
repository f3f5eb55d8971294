package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/z871327332/kiropanel/internal/application"
	"github.com/z871327332/kiropanel/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// BalanceResponse is the JSON representation of a credential balance.
type BalanceResponse struct {
	Usage       float64 `json:"usage"`
	Limit       float64 `json:"limit"`
	Remaining   float64 `json:"remaining"`
	PercentUsed float64 `json:"percent_used"`
	Exhausted   bool    `json:"exhausted"`
}

// CredentialResponse is the JSON representation of one pool credential.
type CredentialResponse struct {
	ID               int64            `json:"id"`
	TokenHash        string           `json:"token_hash"`
	Email            string           `json:"email"`
	Region           string           `json:"region"`
	Disabled         bool             `json:"disabled"`
	FailureCount     int              `json:"failure_count"`
	CreatedAt        string           `json:"created_at"`
	Balance          *BalanceResponse `json:"balance"`
	BalanceCheckedAt string           `json:"balance_checked_at,omitempty"`
}

// PoolHealthResponse is the aggregate pool view.
type PoolHealthResponse struct {
	Total         int    `json:"total"`
	Active        int    `json:"active"`
	Disabled      int    `json:"disabled"`
	Exhausted     int    `json:"exhausted"`
	Failing       int    `json:"failing"`
	Mode          string `json:"mode,omitempty"`
	LastRefreshAt string `json:"last_refresh_at,omitempty"`
}

// BatchResultResponse summarizes a batch operation.
type BatchResultResponse struct {
	Requested int      `json:"requested"`
	Succeeded int      `json:"succeeded"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

// ImportItemResponse is the outcome of one import entry.
type ImportItemResponse struct {
	Index     int    `json:"index"`
	TokenHash string `json:"token_hash"`
	Email     string `json:"email,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// ImportJobResponse is the progress/summary view of an import job.
type ImportJobResponse struct {
	ID             string               `json:"id"`
	State          string               `json:"state"`
	Total          int                  `json:"total"`
	Processed      int                  `json:"processed"`
	Created        int                  `json:"created"`
	Duplicates     int                  `json:"duplicates"`
	Failed         int                  `json:"failed"`
	RolledBack     int                  `json:"rolled_back"`
	RollbackFailed int                  `json:"rollback_failed"`
	Items          []ImportItemResponse `json:"items"`
	StartedAt      string               `json:"started_at"`
	FinishedAt     string               `json:"finished_at,omitempty"`
}

// AuditEventResponse is one entry of the operator action trail.
type AuditEventResponse struct {
	ID        int64  `json:"id"`
	Action    string `json:"action"`
	Subject   string `json:"subject"`
	Success   bool   `json:"success"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ModeResponse carries the load-balancing mode.
type ModeResponse struct {
	Mode string `json:"mode"`
}

// SettingsResponse reports the upstream configuration without exposing the
// admin token.
type SettingsResponse struct {
	UpstreamURL string `json:"upstream_url"`
	TokenSet    bool   `json:"token_set"`
	Configured  bool   `json:"configured"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// LoginResponse carries a freshly issued session token.
type LoginResponse struct {
	Token string `json:"token"`
}

// LoginRequest is the JSON body for the login endpoint.
type LoginRequest struct {
	Password string `json:"password"`
}

// AddCredentialRequest is the JSON body for the add credential endpoint.
type AddCredentialRequest struct {
	Token  string `json:"refresh_token"`
	Email  string `json:"email"`
	Region string `json:"region"`
}

// SetDisabledRequest is the JSON body for the disabled toggle endpoints.
type SetDisabledRequest struct {
	Disabled bool `json:"disabled"`
}

// BatchRequest is the JSON body for batch delete and verify endpoints.
type BatchRequest struct {
	IDs []int64 `json:"ids"`
}

// BatchDisableRequest is the JSON body for the batch disable endpoint.
type BatchDisableRequest struct {
	IDs      []int64 `json:"ids"`
	Disabled bool    `json:"disabled"`
}

// ImportEntryRequest is one entry of an import request.
type ImportEntryRequest struct {
	Token  string `json:"refresh_token"`
	Email  string `json:"email"`
	Region string `json:"region"`
}

// ImportRequest is the JSON body for the start import endpoint.
type ImportRequest struct {
	Entries []ImportEntryRequest `json:"entries"`
}

// ImportStartedResponse acknowledges an accepted import job.
type ImportStartedResponse struct {
	ID string `json:"id"`
}

// SetModeRequest is the JSON body for the load-balancing mode endpoint.
type SetModeRequest struct {
	Mode string `json:"mode"`
}

// SettingsRequest is the JSON body for the settings endpoint.
type SettingsRequest struct {
	UpstreamURL string `json:"upstream_url"`
	AdminToken  string `json:"admin_token"`
}

// toBalanceResponse converts a domain Balance to its JSON representation.
func toBalanceResponse(b model.Balance) *BalanceResponse {
	return &BalanceResponse{
		Usage:       b.Usage,
		Limit:       b.Limit,
		Remaining:   b.Remaining(),
		PercentUsed: b.PercentUsed(),
		Exhausted:   b.Exhausted(),
	}
}

// toCredentialResponse converts a domain Credential to its JSON representation.
func toCredentialResponse(c model.Credential) CredentialResponse {
	resp := CredentialResponse{
		ID:           c.ID,
		TokenHash:    c.TokenHash,
		Email:        c.Email,
		Region:       c.Region,
		Disabled:     c.Disabled,
		FailureCount: c.FailureCount,
		CreatedAt:    c.CreatedAt.UTC().Format(time.RFC3339),
	}
	if c.Balance != nil {
		resp.Balance = toBalanceResponse(*c.Balance)
	}
	if !c.BalanceCheckedAt.IsZero() {
		resp.BalanceCheckedAt = c.BalanceCheckedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// toPoolHealthResponse converts a domain PoolHealth to its JSON representation.
func toPoolHealthResponse(h model.PoolHealth) PoolHealthResponse {
	resp := PoolHealthResponse{
		Total:     h.Total,
		Active:    h.Active,
		Disabled:  h.Disabled,
		Exhausted: h.Exhausted,
		Failing:   h.Failing,
		Mode:      string(h.Mode),
	}
	if !h.LastRefreshAt.IsZero() {
		resp.LastRefreshAt = h.LastRefreshAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// toBatchResultResponse converts an application BatchResult to its JSON
// representation.
func toBatchResultResponse(r application.BatchResult) BatchResultResponse {
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	return BatchResultResponse{
		Requested: r.Requested,
		Succeeded: r.Succeeded,
		Skipped:   r.Skipped,
		Failed:    r.Failed,
		Errors:    errs,
	}
}

// toImportJobResponse converts a domain ImportJob to its JSON representation.
func toImportJobResponse(job model.ImportJob) ImportJobResponse {
	items := make([]ImportItemResponse, 0, len(job.Items))
	for _, item := range job.Items {
		items = append(items, ImportItemResponse{
			Index:     item.Index,
			TokenHash: item.TokenHash,
			Email:     item.Email,
			Status:    string(item.Status),
			Error:     item.Error,
		})
	}

	resp := ImportJobResponse{
		ID:             job.ID,
		State:          string(job.State),
		Total:          job.Total,
		Processed:      job.Processed,
		Created:        job.Created,
		Duplicates:     job.Duplicates,
		Failed:         job.Failed,
		RolledBack:     job.RolledBack,
		RollbackFailed: job.RollbackFailed,
		Items:          items,
		StartedAt:      job.StartedAt.UTC().Format(time.RFC3339),
	}
	if !job.FinishedAt.IsZero() {
		resp.FinishedAt = job.FinishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// toAuditEventResponse converts a domain AuditEvent to its JSON representation.
func toAuditEventResponse(e model.AuditEvent) AuditEventResponse {
	return AuditEventResponse{
		ID:        e.ID,
		Action:    string(e.Action),
		Subject:   e.Subject,
		Success:   e.Success,
		Detail:    e.Detail,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
	}
}
