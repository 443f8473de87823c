package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/canvasflow/authvault/internal/application"
	"github.com/canvasflow/authvault/internal/domain/model"
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

// CredentialResponse is the JSON representation of a stored credential. It
// never carries the payload, in plaintext or ciphertext.
type CredentialResponse struct {
	ID                 string `json:"id"`
	OwnerID            string `json:"owner_id"`
	Service            string `json:"service"`
	Type               string `json:"type"`
	Name               string `json:"name"`
	Valid              bool   `json:"valid"`
	LastValidatedAt    string `json:"last_validated_at,omitempty"`
	LastError          string `json:"last_error,omitempty"`
	EngineCredentialID string `json:"engine_credential_id,omitempty"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
	LastUsedAt         string `json:"last_used_at,omitempty"`
}

// AuthorizeRequest is the JSON body for the begin-authorization endpoint.
type AuthorizeRequest struct {
	OwnerID     string `json:"owner_id"`
	RedirectURL string `json:"redirect_url"`
}

// AuthorizeResponse is the JSON representation of a started OAuth flow.
type AuthorizeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// SubmitCredentialRequest is the JSON body for direct credential submission.
type SubmitCredentialRequest struct {
	OwnerID string         `json:"owner_id"`
	Service string         `json:"service"`
	Name    string         `json:"name"`
	Fields  map[string]any `json:"fields"`
}

// ValidationResponse is the JSON representation of a live credential check.
type ValidationResponse struct {
	Valid       bool              `json:"valid"`
	Message     string            `json:"message,omitempty"`
	Unreachable bool              `json:"unreachable"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SchedulerStatusResponse is the JSON representation of the refresh loop
// status.
type SchedulerStatusResponse struct {
	Running        bool    `json:"running"`
	IntervalMins   int     `json:"interval_minutes"`
	LookaheadHours float64 `json:"lookahead_hours"`
	LastRun        string  `json:"last_run,omitempty"`
	LastScanned    int     `json:"last_scanned"`
	LastRefreshed  int     `json:"last_refreshed"`
	LastFailed     int     `json:"last_failed"`
}

// ServiceResponse is the JSON representation of a catalog entry. OAuth
// client secrets live in process configuration and are never part of the
// descriptor, so there is nothing to redact beyond rendering the docs.
type ServiceResponse struct {
	Name        string                `json:"name"`
	DisplayName string                `json:"display_name"`
	Kind        string                `json:"kind"`
	Probe       string                `json:"probe,omitempty"`
	OAuth       *ServiceOAuthResponse `json:"oauth,omitempty"`
	Fields      []ServiceFieldResp    `json:"fields,omitempty"`
	DocsHTML    string                `json:"docs_html,omitempty"`
}

// ServiceOAuthResponse is the caller-visible slice of a service's OAuth
// configuration.
type ServiceOAuthResponse struct {
	AuthURL        string   `json:"auth_url"`
	Scopes         []string `json:"scopes,omitempty"`
	ScopeSeparator string   `json:"scope_separator,omitempty"`
}

// ServiceFieldResp describes one user-supplied field of a non-OAuth service.
type ServiceFieldResp struct {
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Required bool   `json:"required"`
	Secret   bool   `json:"secret"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toCredentialResponse converts a domain Credential to its JSON response
// representation. Name and LastError can carry provider-controlled text and
// are sanitized on the way out.
func toCredentialResponse(cred model.Credential) CredentialResponse {
	resp := CredentialResponse{
		ID:                 cred.ID,
		OwnerID:            cred.OwnerID,
		Service:            cred.Service,
		Type:               string(cred.Type),
		Name:               sanitizeText(cred.Name),
		Valid:              cred.Valid,
		LastError:          sanitizeText(cred.LastError),
		EngineCredentialID: cred.EngineCredentialID,
		CreatedAt:          cred.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          cred.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if cred.LastValidatedAt != nil {
		resp.LastValidatedAt = cred.LastValidatedAt.UTC().Format(time.RFC3339)
	}
	if cred.LastUsedAt != nil {
		resp.LastUsedAt = cred.LastUsedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// toValidationResponse converts a validation result, sanitizing the
// provider-sourced message and metadata values.
func toValidationResponse(result model.ValidationResult) ValidationResponse {
	resp := ValidationResponse{
		Valid:       result.Valid,
		Message:     sanitizeText(result.Message),
		Unreachable: result.Unreachable,
	}
	if len(result.Metadata) > 0 {
		resp.Metadata = make(map[string]string, len(result.Metadata))
		for k, v := range result.Metadata {
			resp.Metadata[k] = sanitizeText(v)
		}
	}
	return resp
}

// toSchedulerStatusResponse converts the scheduler snapshot.
func toSchedulerStatusResponse(status application.SchedulerStatus) SchedulerStatusResponse {
	resp := SchedulerStatusResponse{
		Running:        status.Running,
		IntervalMins:   int(status.Interval.Minutes()),
		LookaheadHours: status.Lookahead.Hours(),
		LastScanned:    status.LastScanned,
		LastRefreshed:  status.LastRefreshed,
		LastFailed:     status.LastFailed,
	}
	if status.LastRun != nil {
		resp.LastRun = status.LastRun.UTC().Format(time.RFC3339)
	}
	return resp
}

// toServiceResponse converts a catalog descriptor, rendering its setup docs
// to sanitized HTML.
func toServiceResponse(desc model.ServiceDescriptor) ServiceResponse {
	resp := ServiceResponse{
		Name:        desc.Name,
		DisplayName: desc.DisplayName,
		Kind:        string(desc.Kind),
		Probe:       string(desc.Probe),
		DocsHTML:    renderMarkdown(desc.DocsMD),
	}

	if desc.OAuth != nil {
		resp.OAuth = &ServiceOAuthResponse{
			AuthURL:        desc.OAuth.AuthURL,
			Scopes:         desc.OAuth.Scopes,
			ScopeSeparator: desc.OAuth.ScopeSeparator,
		}
	}

	for _, f := range desc.Fields {
		resp.Fields = append(resp.Fields, ServiceFieldResp{
			Name:     f.Name,
			Label:    f.Label,
			Required: f.Required,
			Secret:   f.Secret,
		})
	}

	return resp
}
