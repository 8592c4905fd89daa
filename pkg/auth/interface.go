package auth

import (
	"strings"
	"time"
)

const (
	ScopeRun   = "personaq:run"
	ScopeRead  = "personaq:read"
	ScopeWrite = "personaq:write"
	ScopeAll   = "personaq:*"
)

// Claims represents authentication token claims
type Claims struct {
	Subject   string
	Email     string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Scopes    []string
	Raw       map[string]interface{}
}

// HasScope checks if the claims grant scope. "personaq:*" and "*" grant
// every scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		s = strings.TrimSpace(s)
		if s == scope || s == "*" || s == ScopeAll {
			return true
		}
	}
	return false
}

// Validator validates authentication tokens
type Validator interface {
	Validate(token string) (*Claims, error)
}

// Config contains JWKS validator configuration
type Config struct {
	JwksURL     string
	Issuer      string
	Audience    string
	ClockSkew   time.Duration
	HTTPTimeout time.Duration
}
