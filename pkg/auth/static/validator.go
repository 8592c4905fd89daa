// Package static authenticates callers against a fixed list of bearer
// tokens from config. Intended for dev, CI and single-operator installs.
package static

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/personaq/pkg/auth"
)

type tokenEntry struct {
	Token   string         `json:"token"`
	Subject string         `json:"subject,omitempty"`
	Email   string         `json:"email,omitempty"`
	Scopes  []string       `json:"scopes,omitempty"`
	Raw     map[string]any `json:"raw,omitempty"`
}

type options struct {
	tokenEntry
	Tokens []tokenEntry `json:"tokens,omitempty"`
}

// validator looks tokens up by SHA-256 digest so comparison time does not
// depend on how much of a guess matches a configured token.
type validator struct {
	byDigest map[[sha256.Size]byte]tokenEntry
}

// NewValidatorFromJSON accepts a JSON string (single token, all scopes), a
// single token object, or {"tokens": [...]}.
func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	entries, err := parseOptions(raw)
	if err != nil {
		return nil, fmt.Errorf("static auth: %w", err)
	}
	v := &validator{byDigest: make(map[[sha256.Size]byte]tokenEntry, len(entries))}
	for _, e := range entries {
		e.Token = strings.TrimSpace(e.Token)
		if e.Token == "" {
			return nil, errors.New("static auth: token is required")
		}
		d := sha256.Sum256([]byte(e.Token))
		if _, dup := v.byDigest[d]; dup {
			return nil, fmt.Errorf("static auth: duplicate token for subject %q", e.Subject)
		}
		if e.Subject = strings.TrimSpace(e.Subject); e.Subject == "" {
			e.Subject = "static"
		}
		v.byDigest[d] = e
	}
	return v, nil
}

func parseOptions(raw json.RawMessage) ([]tokenEntry, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, errors.New("missing config")
	}
	if strings.HasPrefix(trimmed, `"`) {
		var token string
		if err := json.Unmarshal([]byte(trimmed), &token); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return []tokenEntry{{Token: token, Scopes: []string{auth.ScopeAll}}}, nil
	}

	var o options
	if err := json.Unmarshal([]byte(trimmed), &o); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	entries := o.Tokens
	if strings.TrimSpace(o.Token) != "" {
		entries = append([]tokenEntry{o.tokenEntry}, entries...)
	}
	if len(entries) == 0 {
		return nil, errors.New("token is required")
	}
	return entries, nil
}

func (v *validator) Validate(token string) (*auth.Claims, error) {
	e, ok := v.byDigest[sha256.Sum256([]byte(strings.TrimSpace(token)))]
	if !ok {
		return nil, errors.New("invalid token")
	}
	raw := make(map[string]any, len(e.Raw))
	for k, val := range e.Raw {
		raw[k] = val
	}
	return &auth.Claims{
		Subject: e.Subject,
		Email:   e.Email,
		Scopes:  append([]string(nil), e.Scopes...),
		Raw:     raw,
	}, nil
}

func init() {
	auth.RegisterProvider("static", NewValidatorFromJSON)
}
