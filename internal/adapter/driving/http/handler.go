// Package httphandler is the HTTP driving adapter serving the credential
// lifecycle REST API. It is the only inbound surface of the service; the
// chat UI and workflow editor live in a separate frontend that consumes
// this API.
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/canvasflow/authvault/internal/application"
	"github.com/canvasflow/authvault/internal/domain/model"
	"github.com/canvasflow/authvault/internal/domain/port/driven"
)

// pinger is the slice of the database the health endpoint needs.
type pinger interface {
	Ping(ctx context.Context) error
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	credentials *application.CredentialService
	oauth       *application.OAuthService
	validator   *application.ValidatorService
	scheduler   *application.RefreshScheduler
	catalog     driven.ServiceCatalog
	db          pinger
	logger      *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	credentials *application.CredentialService,
	oauth *application.OAuthService,
	validator *application.ValidatorService,
	scheduler *application.RefreshScheduler,
	catalog driven.ServiceCatalog,
	db pinger,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		credentials: credentials,
		oauth:       oauth,
		validator:   validator,
		scheduler:   scheduler,
		catalog:     catalog,
		db:          db,
		logger:      logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/oauth/{service}/authorize", h.BeginAuthorization)
	mux.HandleFunc("GET /api/v1/oauth/{service}/callback", h.OAuthCallback)
	mux.HandleFunc("POST /api/v1/credentials", h.SubmitCredential)
	mux.HandleFunc("GET /api/v1/credentials", h.ListCredentials)
	mux.HandleFunc("GET /api/v1/credentials/{id}", h.GetCredential)
	mux.HandleFunc("POST /api/v1/credentials/{id}/validate", h.ValidateCredential)
	mux.HandleFunc("DELETE /api/v1/credentials/{id}", h.DeleteCredential)
	mux.HandleFunc("GET /api/v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("GET /api/v1/services", h.ListServices)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// BeginAuthorization starts an OAuth flow and returns the provider consent
// URL together with the one-time state.
func (h *Handler) BeginAuthorization(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")

	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	auth, err := h.oauth.BeginAuthorization(r.Context(), service, req.OwnerID, req.RedirectURL)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AuthorizeResponse{
		AuthorizationURL: auth.AuthorizationURL,
		State:            auth.State,
	})
}

// OAuthCallback completes an OAuth flow from the provider redirect. When the
// original authorization request named a post-auth redirect target, the
// browser is sent there; otherwise the stored credential is returned as
// JSON.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	q := r.URL.Query()

	// Providers report user denial and misconfiguration on the redirect
	// itself, without a code.
	if provErr := q.Get("error"); provErr != "" {
		msg := "provider error: " + provErr
		if desc := q.Get("error_description"); desc != "" {
			msg += ": " + desc
		}
		writeError(w, http.StatusBadRequest, sanitizeText(msg))
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "code and state are required")
		return
	}

	completion, err := h.credentials.CompleteOAuth(r.Context(), service, code, state)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if completion.RedirectURL != "" {
		http.Redirect(w, r, completion.RedirectURL, http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, toCredentialResponse(*completion.Credential))
}

// SubmitCredential stores a directly supplied credential (API key, database
// settings), bypassing OAuth.
func (h *Handler) SubmitCredential(w http.ResponseWriter, r *http.Request) {
	var req SubmitCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" || req.Service == "" {
		writeError(w, http.StatusBadRequest, "owner_id and service are required")
		return
	}

	cred, err := h.credentials.SubmitCredential(r.Context(), req.OwnerID, req.Service, req.Name, req.Fields)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCredentialResponse(*cred))
}

// ListCredentials returns an owner's credentials.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	validOnly, _ := strconv.ParseBool(r.URL.Query().Get("valid_only"))

	creds, err := h.credentials.List(r.Context(), ownerID, validOnly)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]CredentialResponse, 0, len(creds))
	for _, cred := range creds {
		resp = append(resp, toCredentialResponse(cred))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetCredential returns a single credential record.
func (h *Handler) GetCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := h.credentials.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toCredentialResponse(*cred))
}

// ValidateCredential probes the credential against its live provider and
// returns the outcome.
func (h *Handler) ValidateCredential(w http.ResponseWriter, r *http.Request) {
	result, err := h.validator.ValidateCredential(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toValidationResponse(result))
}

// DeleteCredential removes a credential.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.credentials.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SchedulerStatus reports the refresh loop state.
func (h *Handler) SchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toSchedulerStatusResponse(h.scheduler.Status()))
}

// ListServices returns the catalog of integratable services.
func (h *Handler) ListServices(w http.ResponseWriter, _ *http.Request) {
	descs := h.catalog.List()

	resp := make([]ServiceResponse, 0, len(descs))
	for _, desc := range descs {
		resp = append(resp, toServiceResponse(desc))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health reports service liveness, including a database round-trip.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Error("health check db ping failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// writeServiceError maps domain errors to HTTP statuses. State failures and
// provider payloads get safe, sanitized text; everything unexpected is a
// logged 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *model.ValidationError
		configErr     *model.ConfigError
		providerErr   *model.ProviderError
	)

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Msg)
	case errors.Is(err, model.ErrUnknownService):
		writeError(w, http.StatusNotFound, "unknown service")
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "credential not found")
	case errors.Is(err, model.ErrInvalidState):
		writeError(w, http.StatusBadRequest, "invalid or expired oauth state")
	case errors.Is(err, model.ErrStateMismatch):
		writeError(w, http.StatusBadRequest, "oauth state does not match service")
	case errors.As(err, &configErr):
		writeError(w, http.StatusServiceUnavailable, configErr.Msg)
	case errors.As(err, &providerErr):
		writeError(w, http.StatusBadGateway, sanitizeText(providerErr.Error()))
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
