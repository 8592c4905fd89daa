package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/personaq/pkg/auth"
	"github.com/osvaldoandrade/personaq/pkg/config"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// NewValidator builds the bearer validator named by cfg.Auth. It returns nil
// when no provider is configured.
func NewValidator(cfg *config.Config) (auth.Validator, error) {
	if strings.TrimSpace(cfg.Auth.Provider) == "" {
		return nil, nil
	}
	raw, err := cfg.Auth.OptionsJSON()
	if err != nil {
		return nil, err
	}
	return auth.NewValidator(cfg.Auth.Provider, raw)
}

// AuthMiddleware rejects requests without a valid bearer token. A nil
// validator lets every request through as an all-scopes caller in dev.
func AuthMiddleware(validator auth.Validator, cfg *config.Config) gin.HandlerFunc {
	if validator == nil {
		if cfg.Env == "dev" {
			return func(c *gin.Context) {
				c.Set(claimsKey, &auth.Claims{Subject: "anonymous", Scopes: []string{auth.ScopeAll}})
				c.Next()
			}
		}
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity validator not configured"})
		}
	}
	return func(c *gin.Context) {
		claims, err := validateBearer(validator, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func validateBearer(validator auth.Validator, authHeader string) (*auth.Claims, error) {
	if strings.TrimSpace(authHeader) == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}
	token := bearerToken(authHeader)
	if token == "" {
		return nil, fmt.Errorf("invalid Authorization format")
	}
	return validator.Validate(token)
}

func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

// Subject identifies the caller in logs; email wins over sub.
func Subject(c *gin.Context) string {
	claims, ok := GetClaims(c)
	if !ok || claims == nil {
		return ""
	}
	if e := strings.TrimSpace(claims.Email); e != "" {
		return e
	}
	return claims.Subject
}
