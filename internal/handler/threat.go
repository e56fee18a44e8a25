package handler

import (
	"net/http"

	"github.com/trustgate/trustgate/internal/model"
)

// --- Login risk ---

type loginAnalyzeRequest struct {
	Email     string `json:"email"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// AnalyzeLogin scores a login attempt. Signal trouble surfaces as a
// maximum-caution assessment, never as an error.
func (h *Handler) AnalyzeLogin(w http.ResponseWriter, r *http.Request) {
	var req loginAnalyzeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "email is required")
		return
	}
	if req.IP == "" {
		req.IP = getClientIP(r)
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	assessment := h.threatSvc.AnalyzeLoginAttempt(r.Context(), req.Email, req.IP, req.UserAgent)
	writeJSON(w, http.StatusOK, assessment)
}

type loginRecordRequest struct {
	Email     string `json:"email"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Success   bool   `json:"success"`
}

// RecordLogin feeds a login outcome into the risk counters
func (h *Handler) RecordLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRecordRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "email is required")
		return
	}
	if req.IP == "" {
		req.IP = getClientIP(r)
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	err := h.threatSvc.RecordLoginAttempt(r.Context(), &model.LoginAttempt{
		Email:     req.Email,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Success:   req.Success,
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Failed to record login attempt")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Login attempt recorded."})
}

// --- Behavior anomalies ---

type actionAnalyzeRequest struct {
	UserID  string            `json:"user_id"`
	Action  string            `json:"action"`
	Context map[string]string `json:"context,omitempty"`
}

// AnalyzeAction scores an authenticated action against the user's
// recent behavior
func (h *Handler) AnalyzeAction(w http.ResponseWriter, r *http.Request) {
	var req actionAnalyzeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.UserID == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id and action are required")
		return
	}

	assessment := h.threatSvc.DetectAnomalies(r.Context(), req.UserID, req.Action, req.Context)
	writeJSON(w, http.StatusOK, assessment)
}

type actionRecordRequest struct {
	UserID   string `json:"user_id"`
	Action   string `json:"action"`
	Resource string `json:"resource,omitempty"`
}

// RecordAction feeds an action into the behavior counters
func (h *Handler) RecordAction(w http.ResponseWriter, r *http.Request) {
	var req actionRecordRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.UserID == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id and action are required")
		return
	}

	if err := h.threatSvc.RecordAction(r.Context(), req.UserID, req.Action, req.Resource); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Failed to record action")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Action recorded."})
}

// --- IP flagging ---

// FlagIP marks an IP as suspicious for the login risk scorer
func (h *Handler) FlagIP(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if ip == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "ip is required")
		return
	}

	if err := h.threatSvc.FlagIP(r.Context(), ip); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Failed to flag IP")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "IP flagged."})
}

// UnflagIP clears the suspicious mark from an IP
func (h *Handler) UnflagIP(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if ip == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "ip is required")
		return
	}

	if err := h.threatSvc.UnflagIP(r.Context(), ip); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Failed to unflag IP")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "IP unflagged."})
}
