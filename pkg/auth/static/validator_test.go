package static

import (
	"encoding/json"
	"testing"

	"github.com/osvaldoandrade/personaq/pkg/auth"
)

func TestStaticValidator(t *testing.T) {
	raw := json.RawMessage(`{"token":"t-1","subject":"s-1","email":"e@local","scopes":["personaq:read"],"raw":{"role":"ADMIN"}}`)
	v, err := NewValidatorFromJSON(raw)
	if err != nil {
		t.Fatalf("NewValidatorFromJSON: %v", err)
	}

	claims, err := v.Validate("t-1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "s-1" {
		t.Fatalf("expected subject s-1, got %q", claims.Subject)
	}
	if claims.Email != "e@local" {
		t.Fatalf("expected email e@local, got %q", claims.Email)
	}
	if !claims.HasScope(auth.ScopeRead) || claims.HasScope(auth.ScopeRun) {
		t.Fatalf("unexpected scopes %v", claims.Scopes)
	}

	if _, err := v.Validate("wrong"); err == nil {
		t.Fatalf("expected validation error for wrong token")
	}
}

func TestStaticValidator_StringConfig(t *testing.T) {
	v, err := NewValidatorFromJSON(json.RawMessage(`"t-2"`))
	if err != nil {
		t.Fatalf("NewValidatorFromJSON: %v", err)
	}
	claims, err := v.Validate("t-2")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !claims.HasScope(auth.ScopeRun) {
		t.Fatalf("string config should grant every scope")
	}
}

func TestStaticValidator_TokenList(t *testing.T) {
	raw := json.RawMessage(`{"tokens":[
		{"token":"reader","subject":"dash","scopes":["personaq:read"]},
		{"token":"runner","subject":"ci","scopes":["personaq:run","personaq:read"]}
	]}`)
	v, err := NewValidatorFromJSON(raw)
	if err != nil {
		t.Fatalf("NewValidatorFromJSON: %v", err)
	}
	claims, err := v.Validate("runner")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "ci" || !claims.HasScope(auth.ScopeRun) {
		t.Fatalf("unexpected claims %+v", claims)
	}
	claims, err = v.Validate("reader")
	if err != nil || claims.HasScope(auth.ScopeRun) {
		t.Fatalf("reader must not get run scope: %+v %v", claims, err)
	}
}

func TestStaticValidator_Empty(t *testing.T) {
	if _, err := NewValidatorFromJSON(json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error without tokens")
	}
	if _, err := NewValidatorFromJSON(json.RawMessage(`{"tokens":[{"token":" "}]}`)); err == nil {
		t.Fatal("expected error for blank token")
	}
}

func TestStaticValidator_DuplicateToken(t *testing.T) {
	raw := json.RawMessage(`{"token":"same","tokens":[{"token":" same ","subject":"other"}]}`)
	if _, err := NewValidatorFromJSON(raw); err == nil {
		t.Fatal("expected error for duplicate token")
	}
}

func TestStaticValidator_ClaimsAreCopies(t *testing.T) {
	v, err := NewValidatorFromJSON(json.RawMessage(`{"token":"t","scopes":["personaq:read"],"raw":{"team":"qa"}}`))
	if err != nil {
		t.Fatalf("NewValidatorFromJSON: %v", err)
	}
	first, _ := v.Validate("t")
	first.Scopes[0] = auth.ScopeAll
	first.Raw["team"] = "changed"

	second, _ := v.Validate(" t ")
	if second.HasScope(auth.ScopeRun) || second.Raw["team"] != "qa" {
		t.Fatalf("claims must not share state between calls: %+v", second)
	}
	if second.Subject != "static" {
		t.Fatalf("expected default subject, got %q", second.Subject)
	}
}
