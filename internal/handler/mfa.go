package handler

import (
	"errors"
	"net/http"

	"github.com/trustgate/trustgate/internal/service"
)

// --- TOTP Setup ---

type totpSetupRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// TOTPSetup starts TOTP enrollment: generates a secret, a QR code, and
// a fresh set of backup codes. Repeating setup replaces any prior
// enrollment.
func (h *Handler) TOTPSetup(w http.ResponseWriter, r *http.Request) {
	var req totpSetupRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id is required")
		return
	}

	result, err := h.mfaSvc.SetupTOTP(r.Context(), req.UserID, req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "setup_failed", "Failed to set up TOTP")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// --- TOTP Activation ---

type totpCodeRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

// TOTPActivate confirms enrollment with a first valid code. The
// response carries the decision; a wrong code is not an error.
func (h *Handler) TOTPActivate(w http.ResponseWriter, r *http.Request) {
	var req totpCodeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.UserID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id and code are required")
		return
	}

	activated := h.mfaSvc.VerifyAndEnableTOTP(r.Context(), req.UserID, req.Code)
	writeJSON(w, http.StatusOK, map[string]bool{"activated": activated})
}

// --- TOTP Verification ---

// TOTPVerify checks a TOTP or backup code for an enabled enrollment
func (h *Handler) TOTPVerify(w http.ResponseWriter, r *http.Request) {
	var req totpCodeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.UserID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id and code are required")
		return
	}

	valid := h.mfaSvc.VerifyTOTP(r.Context(), req.UserID, req.Code)
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

// --- Backup codes ---

type backupCodesRequest struct {
	UserID string `json:"user_id"`
}

// BackupCodesRegenerate replaces the user's backup codes with ten new
// single-use codes
func (h *Handler) BackupCodesRegenerate(w http.ResponseWriter, r *http.Request) {
	var req backupCodesRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id is required")
		return
	}

	codes, err := h.mfaSvc.RegenerateBackupCodes(r.Context(), req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Backing store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "setup_failed", "Failed to regenerate backup codes")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"backupCodes": codes})
}

// --- Status ---

// MFAStatus reports whether TOTP is enabled and how many backup codes remain
func (h *Handler) MFAStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id is required")
		return
	}

	status, err := h.mfaSvc.Status(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Backing store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to read MFA status")
		}
		return
	}

	writeJSON(w, http.StatusOK, status)
}
