package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trustgate/trustgate/internal/config"
	"github.com/trustgate/trustgate/internal/crypto"
	"github.com/trustgate/trustgate/internal/logger"
	"github.com/trustgate/trustgate/internal/model"
)

// captureSink collects emitted events so tests can assert on them.
// Setting fail makes every insert error, for exercising the
// fire-and-forget contract.
type captureSink struct {
	mu     sync.Mutex
	events []*model.SecurityEvent
	fail   bool
}

func (c *captureSink) Insert(_ context.Context, event *model.SecurityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("sink down")
	}
	c.events = append(c.events, event)
	return nil
}

func (c *captureSink) byCategory(category string) []*model.SecurityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*model.SecurityEvent
	for _, e := range c.events {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

func testLogger() *logger.Logger {
	return logger.New("disabled", "json")
}

func testConfig() *config.Config {
	return &config.Config{
		MFA: config.MFAConfig{
			TOTP: config.TOTPConfig{Issuer: "TrustGate", Digits: 6, Period: 30, Skew: 1},
		},
		WebAuthn: config.WebAuthnConfig{
			RPID:         "localhost",
			RPOrigins:    []string{"http://localhost:8080"},
			RPName:       "TrustGate",
			ChallengeTTL: 300 * time.Second,
		},
		Threat: config.ThreatConfig{
			AttemptWindow:  15 * time.Minute,
			ActionWindow:   time.Minute,
			ResourceWindow: 5 * time.Minute,
		},
	}
}

func newTestCrypto(t *testing.T) *crypto.Service {
	t.Helper()
	svc, err := crypto.New(strings.Repeat("ab", 32), crypto.TOTPParams{
		Issuer: "TrustGate",
		Digits: 6,
		Period: 30,
		Skew:   1,
	})
	require.NoError(t, err)
	return svc
}
