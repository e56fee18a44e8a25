package trustgate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Config holds the configuration for the TrustGate client.
type Config struct {
	// BaseURL is the root URL of the TrustGate server.
	// Examples: "https://trust.example.com" or "https://trust.example.com/api/v1"
	// The "/api/v1" suffix is appended automatically if missing.
	BaseURL string

	// APIKey is sent as X-API-Key on every request.
	APIKey string

	// CacheTTL controls how long permission decisions are cached in memory
	// to reduce calls to the TrustGate server. A cached grant can outlive a
	// revocation by at most this long. Set to a negative value to disable
	// caching. Default: 30 seconds
	CacheTTL time.Duration

	// HTTPClient is an optional custom HTTP client.
	// If nil, a default client with 10s timeout is used.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.CacheTTL == 0 {
		c.CacheTTL = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if !strings.HasSuffix(c.BaseURL, "/api/v1") {
		c.BaseURL = c.BaseURL + "/api/v1"
	}
}

// Client is the TrustGate SDK client. It provides methods for calling
// TrustGate APIs and Echo middleware for protecting routes.
type Client struct {
	cfg   Config
	cache *decisionCache
}

// NewClient creates a new TrustGate client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg:   cfg,
		cache: newDecisionCache(),
	}
}

// --- MFA ---

// SetupTOTP provisions TOTP for a user. The returned secret, QR code, and
// backup codes are shown once and are not retrievable afterwards.
func (c *Client) SetupTOTP(ctx context.Context, userID, email string) (*TOTPSetup, error) {
	body, err := c.post(ctx, "/mfa/totp/setup", map[string]string{
		"user_id": userID,
		"email":   email,
	})
	if err != nil {
		return nil, err
	}

	var setup TOTPSetup
	if err := json.Unmarshal(body, &setup); err != nil {
		return nil, fmt.Errorf("trustgate: failed to parse setup response: %w", err)
	}
	return &setup, nil
}

// ActivateTOTP verifies the first code after setup and enables MFA.
// A wrong code returns false, nil.
func (c *Client) ActivateTOTP(ctx context.Context, userID, code string) (bool, error) {
	body, err := c.post(ctx, "/mfa/totp/activate", map[string]string{
		"user_id": userID,
		"code":    code,
	})
	if err != nil {
		return false, err
	}
	return parseDecision(body, "activated")
}

// VerifyTOTP checks a TOTP or backup code for an enrolled user.
// A backup code is consumed on success and will not verify again.
func (c *Client) VerifyTOTP(ctx context.Context, userID, code string) (bool, error) {
	body, err := c.post(ctx, "/mfa/totp/verify", map[string]string{
		"user_id": userID,
		"code":    code,
	})
	if err != nil {
		return false, err
	}
	return parseDecision(body, "valid")
}

// RegenerateBackupCodes replaces the user's backup codes with a fresh set.
func (c *Client) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	body, err := c.post(ctx, "/mfa/backup-codes/regenerate", map[string]string{
		"user_id": userID,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		BackupCodes []string `json:"backupCodes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("trustgate: failed to parse backup codes response: %w", err)
	}
	return resp.BackupCodes, nil
}

// MFAStatus reports whether MFA is enabled and how many backup codes remain.
func (c *Client) MFAStatus(ctx context.Context, userID string) (*MFAStatus, error) {
	body, err := c.get(ctx, "/mfa/status?user_id="+url.QueryEscape(userID))
	if err != nil {
		return nil, err
	}

	var status MFAStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("trustgate: failed to parse status response: %w", err)
	}
	return &status, nil
}

// --- WebAuthn ---
//
// Ceremony payloads are opaque to the SDK: begin calls return the JSON to
// hand to the browser's WebAuthn API, and finish calls forward the
// browser's response untouched.

// BeginWebAuthnRegistration starts a registration ceremony and returns the
// credential creation options for the browser.
func (c *Client) BeginWebAuthnRegistration(ctx context.Context, userID, username string) (json.RawMessage, error) {
	return c.post(ctx, "/webauthn/register/begin", map[string]string{
		"user_id":  userID,
		"username": username,
	})
}

// FinishWebAuthnRegistration completes a registration ceremony with the
// browser's credential response. Returns whether the device was registered.
func (c *Client) FinishWebAuthnRegistration(ctx context.Context, userID, deviceName string, credential []byte) (bool, error) {
	path := "/webauthn/register/finish?user_id=" + url.QueryEscape(userID) +
		"&device_name=" + url.QueryEscape(deviceName)
	body, err := c.postRaw(ctx, path, credential)
	if err != nil {
		return false, err
	}
	return parseDecision(body, "registered")
}

// BeginWebAuthnLogin starts a login ceremony and returns the credential
// request options for the browser.
func (c *Client) BeginWebAuthnLogin(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.post(ctx, "/webauthn/login/begin", map[string]string{
		"user_id": userID,
	})
}

// FinishWebAuthnLogin completes a login ceremony with the browser's
// assertion response. Returns whether the assertion verified.
func (c *Client) FinishWebAuthnLogin(ctx context.Context, userID string, assertion []byte) (bool, error) {
	path := "/webauthn/login/finish?user_id=" + url.QueryEscape(userID)
	body, err := c.postRaw(ctx, path, assertion)
	if err != nil {
		return false, err
	}
	return parseDecision(body, "verified")
}

// ListWebAuthnDevices returns the user's registered authenticators.
func (c *Client) ListWebAuthnDevices(ctx context.Context, userID string) ([]Device, error) {
	body, err := c.get(ctx, "/webauthn/devices?user_id="+url.QueryEscape(userID))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Devices []Device `json:"devices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("trustgate: failed to parse devices response: %w", err)
	}
	return resp.Devices, nil
}

// RemoveWebAuthnDevice unregisters an authenticator by credential id.
func (c *Client) RemoveWebAuthnDevice(ctx context.Context, userID, credentialID string) error {
	path := "/webauthn/devices/" + url.PathEscape(credentialID) +
		"?user_id=" + url.QueryEscape(userID)
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

// --- RBAC ---

// CreateRole defines a role. When req.ID is empty the server assigns one.
func (c *Client) CreateRole(ctx context.Context, req CreateRoleRequest) (*Role, error) {
	body, err := c.post(ctx, "/rbac/roles", req)
	if err != nil {
		return nil, err
	}

	var role Role
	if err := json.Unmarshal(body, &role); err != nil {
		return nil, fmt.Errorf("trustgate: failed to parse role response: %w", err)
	}
	return &role, nil
}

// GetRole fetches a role by id.
func (c *Client) GetRole(ctx context.Context, roleID string) (*Role, error) {
	body, err := c.get(ctx, "/rbac/roles/"+url.PathEscape(roleID))
	if err != nil {
		return nil, err
	}

	var role Role
	if err := json.Unmarshal(body, &role); err != nil {
		return nil, fmt.Errorf("trustgate: failed to parse role response: %w", err)
	}
	return &role, nil
}

// ListRoles returns all defined roles.
func (c *Client) ListRoles(ctx context.Context) ([]Role, error) {
	body, err := c.get(ctx, "/rbac/roles")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Roles []Role `json:"roles"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("trustgate: failed to parse roles response: %w", err)
	}
	return resp.Roles, nil
}

// CreatePermission defines a permission. When req.ID is empty the server
// assigns one.
func (c *Client) CreatePermission(ctx context.Context, req CreatePermissionRequest) (*Permission, error) {
	body, err := c.post(ctx, "/rbac/permissions", req)
	if err != nil {
		return nil, err
	}

	var perm Permission
	if err := json.Unmarshal(body, &perm); err != nil {
		return nil, fmt.Errorf("trustgate: failed to parse permission response: %w", err)
	}
	return &perm, nil
}

// AssignRole grants a role to a user. Assigning twice is a no-op.
// Cached decisions for the user are invalidated locally.
func (c *Client) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := c.post(ctx, "/rbac/assignments", map[string]string{
		"user_id": userID,
		"role_id": roleID,
	})
	if err != nil {
		return err
	}
	c.cache.deleteUser(userID)
	return nil
}

// UnassignRole removes a role from a user. Cached decisions for the user
// are invalidated locally; other processes keep theirs until CacheTTL.
func (c *Client) UnassignRole(ctx context.Context, userID, roleID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/rbac/assignments", map[string]string{
		"user_id": userID,
		"role_id": roleID,
	})
	if err != nil {
		return err
	}
	c.cache.deleteUser(userID)
	return nil
}

// ListUserRoles returns the roles assigned to a user.
func (c *Client) ListUserRoles(ctx context.Context, userID string) ([]Role, error) {
	body, err := c.get(ctx, "/rbac/users/"+url.PathEscape(userID)+"/roles")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Roles []Role `json:"roles"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("trustgate: failed to parse roles response: %w", err)
	}
	return resp.Roles, nil
}

// CheckPermission asks whether a user may perform an action on a resource.
// Decisions are cached according to CacheTTL to reduce network calls; a
// transport failure returns an error, never a grant.
func (c *Client) CheckPermission(ctx context.Context, req CheckPermissionRequest) (bool, error) {
	key := decisionKey(req)

	if c.cfg.CacheTTL > 0 {
		if allowed, ok := c.cache.get(key); ok {
			return allowed, nil
		}
	}

	body, err := c.post(ctx, "/rbac/check", req)
	if err != nil {
		return false, err
	}
	allowed, err := parseDecision(body, "allowed")
	if err != nil {
		return false, err
	}

	if c.cfg.CacheTTL > 0 {
		c.cache.set(key, req.UserID, allowed, c.cfg.CacheTTL)
	}
	return allowed, nil
}

// InvalidateUser drops this process's cached permission decisions for a
// user. Call it after changing the user's roles elsewhere.
func (c *Client) InvalidateUser(userID string) {
	c.cache.deleteUser(userID)
}

// --- Threat detection ---

// AnalyzeLogin scores a login attempt before credentials are checked.
func (c *Client) AnalyzeLogin(ctx context.Context, req LoginAnalysisRequest) (*RiskAssessment, error) {
	body, err := c.post(ctx, "/threat/logins/analyze", req)
	if err != nil {
		return nil, err
	}

	var assessment RiskAssessment
	if err := json.Unmarshal(body, &assessment); err != nil {
		return nil, fmt.Errorf("trustgate: failed to parse risk response: %w", err)
	}
	return &assessment, nil
}

// RecordLogin reports a login outcome so future attempts score against it.
func (c *Client) RecordLogin(ctx context.Context, req LoginRecordRequest) error {
	_, err := c.post(ctx, "/threat/logins/record", req)
	return err
}

// AnalyzeAction scores an authenticated action against the user's recent
// behavior.
func (c *Client) AnalyzeAction(ctx context.Context, req ActionAnalysisRequest) (*AnomalyAssessment, error) {
	body, err := c.post(ctx, "/threat/actions/analyze", req)
	if err != nil {
		return nil, err
	}

	var assessment AnomalyAssessment
	if err := json.Unmarshal(body, &assessment); err != nil {
		return nil, fmt.Errorf("trustgate: failed to parse anomaly response: %w", err)
	}
	return &assessment, nil
}

// RecordAction reports an authenticated action for behavior tracking.
func (c *Client) RecordAction(ctx context.Context, req ActionRecordRequest) error {
	_, err := c.post(ctx, "/threat/actions/record", req)
	return err
}

// FlagIP marks an IP as suspicious for login scoring.
func (c *Client) FlagIP(ctx context.Context, ip string) error {
	_, err := c.do(ctx, http.MethodPut, "/threat/ips/"+url.PathEscape(ip)+"/flag", nil)
	return err
}

// UnflagIP clears the suspicious mark from an IP.
func (c *Client) UnflagIP(ctx context.Context, ip string) error {
	_, err := c.do(ctx, http.MethodDelete, "/threat/ips/"+url.PathEscape(ip)+"/flag", nil)
	return err
}

// --- HTTP plumbing ---

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, payload)
}

// postRaw sends a pre-encoded JSON body, used for browser ceremony payloads.
func (c *Client) postRaw(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.send(ctx, http.MethodPost, path, strings.NewReader(string(body)))
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("trustgate: failed to marshal request: %w", err)
		}
		bodyReader = strings.NewReader(string(data))
	}
	return c.send(ctx, method, path, bodyReader)
}

func (c *Client) send(ctx context.Context, method, path string, bodyReader io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("trustgate: failed to create request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trustgate: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("trustgate: failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	return body, nil
}

// parseDecision extracts a boolean field from a decision response.
func parseDecision(body []byte, field string) (bool, error) {
	var decision map[string]bool
	if err := json.Unmarshal(body, &decision); err != nil {
		return false, fmt.Errorf("trustgate: failed to parse decision response: %w", err)
	}
	return decision[field], nil
}

// decisionKey builds the cache key for a permission check. Map keys are
// sorted by the JSON encoder, so equal contexts produce equal keys.
func decisionKey(req CheckPermissionRequest) string {
	ctxJSON := ""
	if len(req.Context) > 0 {
		if data, err := json.Marshal(req.Context); err == nil {
			ctxJSON = string(data)
		}
	}
	return req.UserID + "\x00" + req.Resource + "\x00" + req.Action + "\x00" + ctxJSON
}

// decisionCache provides in-memory caching for permission decisions.
type decisionCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	userID    string
	allowed   bool
	expiresAt time.Time
}

func newDecisionCache() *decisionCache {
	dc := &decisionCache{
		entries: make(map[string]*cacheEntry),
	}
	go dc.cleanup()
	return dc
}

func (dc *decisionCache) get(key string) (bool, bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	entry, ok := dc.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return false, false
	}
	return entry.allowed, true
}

func (dc *decisionCache) set(key, userID string, allowed bool, ttl time.Duration) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.entries[key] = &cacheEntry{
		userID:    userID,
		allowed:   allowed,
		expiresAt: time.Now().Add(ttl),
	}
}

func (dc *decisionCache) deleteUser(userID string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	for k, v := range dc.entries {
		if v.userID == userID {
			delete(dc.entries, k)
		}
	}
}

func (dc *decisionCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	for range ticker.C {
		dc.mu.Lock()
		now := time.Now()
		for k, v := range dc.entries {
			if now.After(v.expiresAt) {
				delete(dc.entries, k)
			}
		}
		dc.mu.Unlock()
	}
}
