package handler

import (
	"errors"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/trustgate/trustgate/internal/service"
)

// --- Registration ceremony ---

type webauthnBeginRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// WebAuthnRegisterBegin issues credential creation options and parks
// the challenge for the finish call
func (h *Handler) WebAuthnRegisterBegin(w http.ResponseWriter, r *http.Request) {
	var req webauthnBeginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id is required")
		return
	}

	creation, err := h.webauthnSvc.BeginRegistration(r.Context(), req.UserID, req.Username)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Backing store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "setup_failed", "Failed to begin registration")
		}
		return
	}

	writeJSON(w, http.StatusOK, creation)
}

// WebAuthnRegisterFinish validates the authenticator's attestation
// response. The body is the browser's PublicKeyCredential JSON.
func (h *Handler) WebAuthnRegisterFinish(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id is required")
		return
	}
	deviceName := r.URL.Query().Get("device_name")

	response, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid credential payload")
		return
	}

	registered := h.webauthnSvc.FinishRegistration(r.Context(), userID, deviceName, response)
	writeJSON(w, http.StatusOK, map[string]bool{"registered": registered})
}

// --- Authentication ceremony ---

// WebAuthnLoginBegin issues assertion options listing the user's
// registered credentials
func (h *Handler) WebAuthnLoginBegin(w http.ResponseWriter, r *http.Request) {
	var req webauthnBeginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id is required")
		return
	}

	assertion, err := h.webauthnSvc.BeginLogin(r.Context(), req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCredentialMismatch):
			writeError(w, http.StatusNotFound, "no_credentials", "No registered devices for this user")
		case errors.Is(err, service.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Backing store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to begin authentication")
		}
		return
	}

	writeJSON(w, http.StatusOK, assertion)
}

// WebAuthnLoginFinish validates the authenticator's assertion response
func (h *Handler) WebAuthnLoginFinish(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id is required")
		return
	}

	response, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid assertion payload")
		return
	}

	verified := h.webauthnSvc.FinishLogin(r.Context(), userID, response)
	writeJSON(w, http.StatusOK, map[string]bool{"verified": verified})
}

// --- Device management ---

// WebAuthnListDevices returns the user's registered devices
func (h *Handler) WebAuthnListDevices(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id is required")
		return
	}

	devices, err := h.webauthnSvc.ListDevices(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Backing store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list devices")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

// WebAuthnRemoveDevice unregisters a credential
func (h *Handler) WebAuthnRemoveDevice(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	credentialID := r.PathValue("credential_id")
	if userID == "" || credentialID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id and credential_id are required")
		return
	}

	if err := h.webauthnSvc.RemoveDevice(r.Context(), userID, credentialID); err != nil {
		switch {
		case errors.Is(err, service.ErrCredentialMismatch):
			writeError(w, http.StatusNotFound, "unknown_credential", "No such device")
		case errors.Is(err, service.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Backing store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to remove device")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Device removed."})
}
