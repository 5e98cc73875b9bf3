package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/fisioflow/calsync/internal/credentials"
	httpmiddleware "github.com/fisioflow/calsync/internal/http/middleware"
	"github.com/fisioflow/calsync/pkg/logging"
)

// credentialManager is the credentials.Manager surface the handler needs.
type credentialManager interface {
	ConsentURL(ownerID string) string
	Exchange(ctx context.Context, ownerID, code string, opts ...oauth2.AuthCodeOption) (*credentials.Credential, error)
	Disconnect(ctx context.Context, ownerID string) error
	Status(ctx context.Context, ownerID string) (bool, time.Time, error)
}

// ConnectHandler drives the calendar connection lifecycle: consent URL,
// code exchange, status and disconnect.
type ConnectHandler struct {
	manager credentialManager
	logger  *logging.Logger
}

func NewConnectHandler(manager credentialManager, logger *logging.Logger) *ConnectHandler {
	if manager == nil {
		panic("handlers: credential manager required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ConnectHandler{manager: manager, logger: logger}
}

// AuthURL handles GET /api/calendar/auth-url.
func (h *ConnectHandler) AuthURL(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := httpmiddleware.OwnerIDFromContext(r.Context())
	if !ok {
		writeBadRequest(w, "missing user context")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": h.manager.ConsentURL(ownerID)})
}

type connectRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri,omitempty"`
}

// Connect handles POST /api/calendar/connect: the front end completed the
// consent flow and posts the authorization code.
func (h *ConnectHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := httpmiddleware.OwnerIDFromContext(r.Context())
	if !ok {
		writeBadRequest(w, "missing user context")
		return
	}
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Code == "" {
		writeBadRequest(w, "code is required")
		return
	}

	var opts []oauth2.AuthCodeOption
	if req.RedirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", req.RedirectURI))
	}
	cred, err := h.manager.Exchange(r.Context(), ownerID, req.Code, opts...)
	if err != nil {
		h.logger.Error("calendar connect failed", "owner_id", ownerID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": true,
		"expiresAt": cred.Expiry,
	})
}

// Callback handles GET /oauth/google/callback: the provider redirects here
// with the code and the owner id in state.
func (h *ConnectHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("consent denied", "owner_id", state, "error", errParam)
		writeBadRequest(w, "authorization was denied")
		return
	}
	if code == "" || state == "" {
		writeBadRequest(w, "code and state are required")
		return
	}
	cred, err := h.manager.Exchange(r.Context(), state, code)
	if err != nil {
		h.logger.Error("oauth callback failed", "owner_id", state, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": true,
		"expiresAt": cred.Expiry,
	})
}

// Disconnect handles DELETE /api/calendar/connection.
func (h *ConnectHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := httpmiddleware.OwnerIDFromContext(r.Context())
	if !ok {
		writeBadRequest(w, "missing user context")
		return
	}
	if err := h.manager.Disconnect(r.Context(), ownerID); err != nil {
		h.logger.Error("calendar disconnect failed", "owner_id", ownerID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": false})
}

// Status handles GET /api/calendar/status.
func (h *ConnectHandler) Status(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := httpmiddleware.OwnerIDFromContext(r.Context())
	if !ok {
		writeBadRequest(w, "missing user context")
		return
	}
	connected, expiry, err := h.manager.Status(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"connected": connected}
	if connected {
		resp["expiresAt"] = expiry
	}
	writeJSON(w, http.StatusOK, resp)
}
