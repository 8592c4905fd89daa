package middleware

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/osvaldoandrade/personaq/pkg/auth"
	_ "github.com/osvaldoandrade/personaq/pkg/auth/jwks"
	_ "github.com/osvaldoandrade/personaq/pkg/auth/static"
	"github.com/osvaldoandrade/personaq/pkg/config"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func staticConfig() *config.Config {
	return &config.Config{
		Env: "prod",
		Auth: config.ProviderConfig{
			Provider: "static",
			Options: map[string]any{
				"tokens": []any{
					map[string]any{"token": "reader", "subject": "r", "scopes": []any{auth.ScopeRead}},
					map[string]any{"token": "admin", "email": "ops@example.com", "scopes": []any{auth.ScopeAll}},
				},
			},
		},
	}
}

func newRouter(t *testing.T, cfg *config.Config, scope string) *gin.Engine {
	t.Helper()
	validator, err := NewValidator(cfg)
	if err != nil {
		t.Fatalf("validator init: %v", err)
	}
	r := gin.New()
	r.Use(RequestIDMiddleware(), AuthMiddleware(validator, cfg))
	r.GET("/x", RequireScope(scope), func(c *gin.Context) {
		c.String(http.StatusOK, Subject(c))
	})
	return r
}

func doGet(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthStaticScopes(t *testing.T) {
	r := newRouter(t, staticConfig(), auth.ScopeRun)

	if rec := doGet(r, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d", rec.Code)
	}
	if rec := doGet(r, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d", rec.Code)
	}
	if rec := doGet(r, "reader"); rec.Code != http.StatusForbidden {
		t.Fatalf("reader on run scope: got %d", rec.Code)
	}
	rec := doGet(r, "admin")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: got %d", rec.Code)
	}
	if rec.Body.String() != "ops@example.com" {
		t.Fatalf("subject = %q", rec.Body.String())
	}
}

func TestAuthInvalidFormat(t *testing.T) {
	r := newRouter(t, staticConfig(), auth.ScopeRead)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Basic reader")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestAuthOpenInDev(t *testing.T) {
	cfg := &config.Config{Env: "dev"}
	rec := doGet(newRouter(t, cfg, auth.ScopeWrite), "")
	if rec.Code != http.StatusOK || rec.Body.String() != "anonymous" {
		t.Fatalf("dev without provider: got %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuthMissingProviderOutsideDev(t *testing.T) {
	cfg := &config.Config{Env: "prod"}
	if rec := doGet(newRouter(t, cfg, auth.ScopeRead), "anything"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestNewValidatorUnknownProvider(t *testing.T) {
	cfg := &config.Config{Auth: config.ProviderConfig{Provider: "ldap"}}
	if _, err := NewValidator(cfg); err == nil {
		t.Fatal("expected error")
	}
}

func signJWT(t *testing.T, key *rsa.PrivateKey, kid string, claims map[string]any) string {
	t.Helper()
	header := map[string]any{"alg": "RS256", "typ": "JWT", "kid": kid}
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	signingInput := enc(header) + "." + enc(claims)
	hashed := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func TestAuthJWKS(t *testing.T) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key gen: %v", err)
	}
	jwksSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := base64.RawURLEncoding.EncodeToString(privKey.PublicKey.N.Bytes())
		e := base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{"kty": "RSA", "kid": "kid-1", "n": n, "e": e}},
		})
	}))
	defer jwksSrv.Close()

	cfg := &config.Config{
		Env: "prod",
		Auth: config.ProviderConfig{Provider: "jwks", Options: map[string]any{
			"jwksUrl":  jwksSrv.URL,
			"issuer":   "personaq-test",
			"audience": "personaq",
		}},
	}
	r := newRouter(t, cfg, auth.ScopeRun)

	now := time.Now().Unix()
	claims := map[string]any{
		"iss":   "personaq-test",
		"aud":   "personaq",
		"sub":   "u1",
		"exp":   now + 3600,
		"iat":   now - 10,
		"scope": "personaq:run personaq:read",
	}
	if rec := doGet(r, signJWT(t, privKey, "kid-1", claims)); rec.Code != http.StatusOK {
		t.Fatalf("valid token: got %d %s", rec.Code, rec.Body.String())
	}

	claims["scope"] = "personaq:read"
	if rec := doGet(r, signJWT(t, privKey, "kid-1", claims)); rec.Code != http.StatusForbidden {
		t.Fatalf("missing scope: got %d", rec.Code)
	}

	claims["aud"] = "wrong"
	if rec := doGet(r, signJWT(t, privKey, "kid-1", claims)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong audience: got %d", rec.Code)
	}
}

func TestRequestIDAndLogger(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware(), LoggerMiddleware(nopLogger()), TracingMiddleware(""))
	r.GET("/id", func(c *gin.Context) {
		if GetLogger(c) == nil {
			t.Error("missing logger")
		}
		c.String(http.StatusOK, RequestIDFromContext(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set(HeaderRequestID, "abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Body.String() != "abc" || rec.Header().Get(HeaderRequestID) != "abc" {
		t.Fatalf("request id not propagated: body=%q header=%q", rec.Body.String(), rec.Header().Get(HeaderRequestID))
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/id", nil))
	if len(rec.Body.String()) != 32 {
		t.Fatalf("generated id = %q", rec.Body.String())
	}
}
