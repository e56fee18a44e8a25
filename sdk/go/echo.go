package trustgate

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// UserIDContextKey is the key under which the middleware looks up the
// authenticated user's id in echo.Context. Set it from your own auth
// middleware with SetUserID.
const UserIDContextKey = "trustgate_user_id"

// PermissionConfig configures the Echo permission middleware.
type PermissionConfig struct {
	// Skipper defines a function to skip this middleware for certain
	// requests. Return true to skip the check for the request.
	Skipper func(c echo.Context) bool

	// SkipPaths is a list of path prefixes that are not checked.
	// Example: []string{"/health", "/public/"}
	SkipPaths []string

	// UserIDExtractor is an optional custom function to resolve the user
	// id for a request. If nil, the default reads the context value set
	// by SetUserID, then falls back to the X-User-ID header.
	UserIDExtractor func(c echo.Context) string

	// ContextBuilder optionally supplies the check context, for
	// permissions with conditions. Example: pull a project id from the
	// route params. If nil, the check runs with no context.
	ContextBuilder func(c echo.Context) map[string]string

	// ErrorHandler is an optional custom handler for denied or failed
	// checks. If nil, the default returns JSON 401/403/503 errors.
	ErrorHandler func(c echo.Context, err error) error
}

// RequirePermission returns Echo middleware that allows a request only if
// TrustGate grants the user the action on the resource.
//
// The middleware resolves the user id (see PermissionConfig), calls
// CheckPermission, and rejects the request unless the decision is a grant.
// A check that cannot be completed is a rejection, not a pass.
func (client *Client) RequirePermission(resource, action string, cfgs ...PermissionConfig) echo.MiddlewareFunc {
	cfg := PermissionConfig{}
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Check skipper
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			// Check skip paths
			path := c.Request().URL.Path
			for _, p := range cfg.SkipPaths {
				if strings.HasPrefix(path, p) {
					return next(c)
				}
			}

			// Resolve the user
			userID := ""
			if cfg.UserIDExtractor != nil {
				userID = cfg.UserIDExtractor(c)
			} else {
				userID = defaultUserIDExtractor(c)
			}
			if userID == "" {
				return handlePermissionError(c, cfg, ErrNoUser)
			}

			// Build the check context
			var checkCtx map[string]string
			if cfg.ContextBuilder != nil {
				checkCtx = cfg.ContextBuilder(c)
			}

			allowed, err := client.CheckPermission(c.Request().Context(), CheckPermissionRequest{
				UserID:   userID,
				Resource: resource,
				Action:   action,
				Context:  checkCtx,
			})
			if err != nil {
				return handlePermissionError(c, cfg, err)
			}
			if !allowed {
				return handlePermissionError(c, cfg, ErrPermissionDenied)
			}

			return next(c)
		}
	}
}

// SetUserID stores the authenticated user's id in the Echo context for
// the permission middleware. Call it from your auth middleware.
func SetUserID(c echo.Context, userID string) {
	c.Set(UserIDContextKey, userID)
}

// GetUserID retrieves the user id the permission middleware used.
// Returns an empty string if none was set.
func GetUserID(c echo.Context) string {
	if userID, ok := c.Get(UserIDContextKey).(string); ok {
		return userID
	}
	return ""
}

// ---------- Internal helpers ----------

func defaultUserIDExtractor(c echo.Context) string {
	if userID := GetUserID(c); userID != "" {
		return userID
	}
	return c.Request().Header.Get("X-User-ID")
}

func handlePermissionError(c echo.Context, cfg PermissionConfig, err error) error {
	// Custom error handler
	if cfg.ErrorHandler != nil {
		return cfg.ErrorHandler(c, err)
	}

	code := http.StatusServiceUnavailable
	errCode := "permission_unavailable"
	message := "Permission check could not be completed"

	switch {
	case errors.Is(err, ErrNoUser):
		code = http.StatusUnauthorized
		errCode = "unauthorized"
		message = "User identity required"
	case errors.Is(err, ErrPermissionDenied):
		code = http.StatusForbidden
		errCode = "permission_denied"
		message = "You do not have permission to perform this action"
	}

	return c.JSON(code, map[string]interface{}{
		"error": map[string]string{
			"code":    errCode,
			"message": message,
		},
	})
}
