package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"os"
	"sync"
)

// Authentication errors
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthTokenMismatch = errors.New("auth token mismatch")
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Enabled determines if authentication is required
	Enabled bool
	// Token is the secret token that clients must provide
	Token string
}

// Authenticator validates request tokens.
type Authenticator struct {
	config AuthConfig
	mu     sync.RWMutex
}

// NewAuthenticator creates a new Authenticator with the given config.
func NewAuthenticator(config AuthConfig) *Authenticator {
	return &Authenticator{config: config}
}

// NewAuthenticatorFromEnv creates an Authenticator from the
// MLARRAYS_AUTH_ENABLED and MLARRAYS_AUTH_TOKEN environment variables.
// If auth is enabled but no token is provided, a random one is generated.
func NewAuthenticatorFromEnv() *Authenticator {
	enabled := os.Getenv("MLARRAYS_AUTH_ENABLED") == "true" || os.Getenv("MLARRAYS_AUTH_ENABLED") == "1"
	token := os.Getenv("MLARRAYS_AUTH_TOKEN")

	if enabled && token == "" {
		token = GenerateToken()
	}

	return NewAuthenticator(AuthConfig{Enabled: enabled, Token: token})
}

// IsEnabled returns true if authentication is enabled.
func (a *Authenticator) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Enabled
}

// Token returns the current auth token (for displaying to the operator).
func (a *Authenticator) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Token
}

// Validate checks a provided token. Disabled auth accepts everything.
// Uses constant-time comparison to prevent timing attacks.
func (a *Authenticator) Validate(provided string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.config.Enabled {
		return nil
	}
	if provided == "" {
		return ErrAuthRequired
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(a.config.Token)) != 1 {
		return ErrAuthTokenMismatch
	}
	return nil
}

// GenerateToken returns a random 32-byte hex token.
func GenerateToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; there is
		// no sane fallback token to hand out.
		panic(err)
	}
	return hex.EncodeToString(buf)
}
