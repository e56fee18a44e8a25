package router

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trustgate/trustgate/internal/handler"
	"github.com/trustgate/trustgate/internal/logger"
	"github.com/trustgate/trustgate/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, log *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	// API v1 routes
	mux.HandleFunc("GET /api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"TrustGate API v1","version":"0.1.0"}`))
	})

	// All /api/v1 routes require a known API key
	apiKey := mw.APIKey()

	// Guess-sensitive verification routes get tight limits; each route
	// keeps its own counter so activate traffic cannot starve verify.
	verifyLimit := func(route string) func(http.Handler) http.Handler {
		return mw.RateLimit(middleware.RateLimitConfig{
			Limit:  20,
			Window: 1 * time.Minute,
			KeyFn:  middleware.RouteKey(route),
		})
	}
	// Enrollment routes mint secrets and codes, so they are rarer still
	setupLimit := func(route string) func(http.Handler) http.Handler {
		return mw.RateLimit(middleware.RateLimitConfig{
			Limit:  10,
			Window: 1 * time.Minute,
			KeyFn:  middleware.RouteKey(route),
		})
	}
	// Decision routes sit on request hot paths and get generous limits
	decisionLimit := func(route string) func(http.Handler) http.Handler {
		return mw.RateLimit(middleware.RateLimitConfig{
			Limit:  300,
			Window: 1 * time.Minute,
			KeyFn:  middleware.RouteKey(route),
		})
	}

	// MFA routes
	mux.Handle("POST /api/v1/mfa/totp/setup", apiKey(setupLimit("totp_setup")(http.HandlerFunc(h.TOTPSetup))))
	mux.Handle("POST /api/v1/mfa/totp/activate", apiKey(verifyLimit("totp_activate")(http.HandlerFunc(h.TOTPActivate))))
	mux.Handle("POST /api/v1/mfa/totp/verify", apiKey(verifyLimit("totp_verify")(http.HandlerFunc(h.TOTPVerify))))
	mux.Handle("POST /api/v1/mfa/backup-codes/regenerate", apiKey(setupLimit("backup_codes")(http.HandlerFunc(h.BackupCodesRegenerate))))
	mux.Handle("GET /api/v1/mfa/status", apiKey(http.HandlerFunc(h.MFAStatus)))

	// WebAuthn routes
	mux.Handle("POST /api/v1/webauthn/register/begin", apiKey(setupLimit("webauthn_register")(http.HandlerFunc(h.WebAuthnRegisterBegin))))
	mux.Handle("POST /api/v1/webauthn/register/finish", apiKey(http.HandlerFunc(h.WebAuthnRegisterFinish)))
	mux.Handle("POST /api/v1/webauthn/login/begin", apiKey(http.HandlerFunc(h.WebAuthnLoginBegin)))
	mux.Handle("POST /api/v1/webauthn/login/finish", apiKey(verifyLimit("webauthn_login")(http.HandlerFunc(h.WebAuthnLoginFinish))))
	mux.Handle("GET /api/v1/webauthn/devices", apiKey(http.HandlerFunc(h.WebAuthnListDevices)))
	mux.Handle("DELETE /api/v1/webauthn/devices/{credential_id}", apiKey(http.HandlerFunc(h.WebAuthnRemoveDevice)))

	// RBAC routes
	mux.Handle("POST /api/v1/rbac/roles", apiKey(http.HandlerFunc(h.CreateRole)))
	mux.Handle("GET /api/v1/rbac/roles", apiKey(http.HandlerFunc(h.ListRoles)))
	mux.Handle("GET /api/v1/rbac/roles/{id}", apiKey(http.HandlerFunc(h.GetRole)))
	mux.Handle("POST /api/v1/rbac/permissions", apiKey(http.HandlerFunc(h.CreatePermission)))
	mux.Handle("POST /api/v1/rbac/assignments", apiKey(http.HandlerFunc(h.AssignRole)))
	mux.Handle("DELETE /api/v1/rbac/assignments", apiKey(http.HandlerFunc(h.UnassignRole)))
	mux.Handle("GET /api/v1/rbac/users/{id}/roles", apiKey(http.HandlerFunc(h.ListUserRoles)))
	mux.Handle("POST /api/v1/rbac/check", apiKey(decisionLimit("rbac_check")(http.HandlerFunc(h.CheckPermission))))

	// Threat detection routes
	mux.Handle("POST /api/v1/threat/logins/analyze", apiKey(decisionLimit("login_analyze")(http.HandlerFunc(h.AnalyzeLogin))))
	mux.Handle("POST /api/v1/threat/logins/record", apiKey(decisionLimit("login_record")(http.HandlerFunc(h.RecordLogin))))
	mux.Handle("POST /api/v1/threat/actions/analyze", apiKey(decisionLimit("action_analyze")(http.HandlerFunc(h.AnalyzeAction))))
	mux.Handle("POST /api/v1/threat/actions/record", apiKey(decisionLimit("action_record")(http.HandlerFunc(h.RecordAction))))
	mux.Handle("PUT /api/v1/threat/ips/{ip}/flag", apiKey(http.HandlerFunc(h.FlagIP)))
	mux.Handle("DELETE /api/v1/threat/ips/{ip}/flag", apiKey(http.HandlerFunc(h.UnflagIP)))

	// Apply middleware stack
	var handler http.Handler = mux

	// CORS (configure allowed origins based on environment)
	handler = mw.CORS([]string{"http://localhost:3000", "http://localhost:5173"})(handler)

	// Security headers
	handler = mw.SecurityHeaders(handler)

	// Request logging
	handler = mw.Logger(handler)

	// Timing
	handler = mw.Timing(handler)

	// Request ID
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
