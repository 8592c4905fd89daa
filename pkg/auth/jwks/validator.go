// Package jwks validates RS256 operator tokens against a JSON Web Key Set.
package jwks

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/osvaldoandrade/personaq/pkg/auth"
)

const (
	keySetTTL       = 5 * time.Minute
	minRefreshDelay = 10 * time.Second
)

type Validator struct {
	jwksURL string
	parser  *jwt.Parser
	client  *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

type options struct {
	JwksURL            string `json:"jwksUrl"`
	Issuer             string `json:"issuer"`
	Audience           string `json:"audience"`
	ClockSkewSeconds   int    `json:"clockSkewSeconds"`
	HTTPTimeoutSeconds int    `json:"httpTimeoutSeconds"`
}

// NewValidatorFromJSON builds a validator from the provider options block.
func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	var o options
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("jwks auth: invalid config: %w", err)
	}
	if o.ClockSkewSeconds <= 0 {
		o.ClockSkewSeconds = 60
	}
	if o.HTTPTimeoutSeconds <= 0 {
		o.HTTPTimeoutSeconds = 5
	}
	return NewValidator(auth.Config{
		JwksURL:     o.JwksURL,
		Issuer:      o.Issuer,
		Audience:    o.Audience,
		ClockSkew:   time.Duration(o.ClockSkewSeconds) * time.Second,
		HTTPTimeout: time.Duration(o.HTTPTimeoutSeconds) * time.Second,
	})
}

func init() {
	auth.RegisterProvider("jwks", NewValidatorFromJSON)
}

func NewValidator(cfg auth.Config) (auth.Validator, error) {
	switch {
	case cfg.JwksURL == "":
		return nil, errors.New("jwksUrl is required")
	case cfg.Issuer == "":
		return nil, errors.New("issuer is required")
	case cfg.Audience == "":
		return nil, errors.New("audience is required")
	}
	return &Validator{
		jwksURL: cfg.JwksURL,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithLeeway(cfg.ClockSkew),
		),
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		keys:   map[string]*rsa.PublicKey{},
	}, nil
}

func (v *Validator) Validate(tokenString string) (*auth.Claims, error) {
	mc := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(tokenString, mc, v.keyFunc); err != nil {
		return nil, err
	}
	return toClaims(mc), nil
}

func (v *Validator) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("missing kid in token header")
	}
	return v.publicKey(kid)
}

// publicKey serves kid from the cached key set, refetching when the set is
// stale or kid is unknown. Unknown kids refetch at most once per
// minRefreshDelay.
func (v *Validator) publicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	age := time.Since(v.fetchedAt)
	key, ok := v.keys[kid]
	if ok && age < keySetTTL {
		return key, nil
	}
	if !ok && !v.fetchedAt.IsZero() && age < minRefreshDelay {
		return nil, fmt.Errorf("key %s not found in JWKS", kid)
	}

	keys, err := v.fetch()
	if err != nil {
		if ok {
			return key, nil
		}
		return nil, err
	}
	v.keys, v.fetchedAt = keys, time.Now()
	if key, ok := keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key %s not found in JWKS", kid)
}

type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *Validator) fetch() (map[string]*rsa.PublicKey, error) {
	resp, err := v.client.Get(v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("parse JWKS: %w", err)
	}
	out := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaKey(k.N, k.E)
		if err != nil {
			return nil, fmt.Errorf("JWKS key %s: %w", k.Kid, err)
		}
		out[k.Kid] = pub
	}
	return out, nil
}

func rsaKey(nStr, eStr string) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}, nil
}

// toClaims maps registered claims plus scopes. "scope" is space-delimited
// (RFC 8693); some issuers emit an "scp" array instead.
func toClaims(mc jwt.MapClaims) *auth.Claims {
	c := &auth.Claims{Raw: mc}
	c.Subject, _ = mc.GetSubject()
	c.Issuer, _ = mc.GetIssuer()
	if aud, err := mc.GetAudience(); err == nil {
		c.Audience = aud
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	c.Email, _ = mc["email"].(string)
	if scope, ok := mc["scope"].(string); ok {
		c.Scopes = strings.Fields(scope)
	}
	if scp, ok := mc["scp"].([]interface{}); ok {
		for _, s := range scp {
			if str, ok := s.(string); ok {
				c.Scopes = append(c.Scopes, str)
			}
		}
	}
	return c
}
