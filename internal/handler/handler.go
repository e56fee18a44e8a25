package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/trustgate/trustgate/internal/config"
	"github.com/trustgate/trustgate/internal/database"
	"github.com/trustgate/trustgate/internal/logger"
	"github.com/trustgate/trustgate/internal/service"
	"github.com/trustgate/trustgate/internal/store"
)

// Handler holds all HTTP handlers
type Handler struct {
	db          *database.Postgres
	st          store.Store
	log         *logger.Logger
	cfg         *config.Config
	mfaSvc      *service.MFAService
	webauthnSvc *service.WebAuthnService
	rbacSvc     *service.RBACService
	threatSvc   *service.ThreatService
}

// New creates a new Handler instance
func New(db *database.Postgres, st store.Store, log *logger.Logger, cfg *config.Config, mfaSvc *service.MFAService, webauthnSvc *service.WebAuthnService, rbacSvc *service.RBACService, threatSvc *service.ThreatService) *Handler {
	return &Handler{
		db:          db,
		st:          st,
		log:         log,
		cfg:         cfg,
		mfaSvc:      mfaSvc,
		webauthnSvc: webauthnSvc,
		rbacSvc:     rbacSvc,
		threatSvc:   threatSvc,
	}
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
