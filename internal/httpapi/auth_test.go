package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func signedToken(t *testing.T, secret string, payload map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	signingInput := header + "." + base64.RawURLEncoding.EncodeToString(body)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestAuthorizeBearerClaimShapes(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(time.Hour).Unix()
	token := signedToken(t, "secret", map[string]any{
		"sheet_id": "*",
		"user":     " ana ",
		"aud":      []string{"other", tokenAudience},
		"scopes":   "sync:read grid:edit",
		"exp":      exp,
	})

	claims, authErr := authorizeBearer("Bearer "+token, "secret", "pipeline", scopeGridEdit, now)
	if authErr != nil {
		t.Fatalf("expected token to authorize, got %v", authErr)
	}
	if claims.User != "ana" || claims.Exp != exp || !claims.has(scopeSyncRead) {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, authErr := authorizeBearer("Bearer "+token, "secret", "pipeline", scopeSyncWrite, now); authErr == nil || authErr.status != http.StatusForbidden {
		t.Fatalf("expected missing scope to be forbidden, got %v", authErr)
	}
}

func TestParseBearerRejections(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	valid := map[string]any{"sheet_id": "s1", "aud": tokenAudience, "scopes": []string{scopeSyncRead}, "exp": now.Add(time.Minute).Unix()}
	with := func(key string, value any) map[string]any {
		out := map[string]any{}
		for k, v := range valid {
			out[k] = v
		}
		if value == nil {
			delete(out, key)
		} else {
			out[key] = value
		}
		return out
	}

	cases := []struct {
		name    string
		header  string
		status  int
		message string
	}{
		{name: "no bearer", header: "Basic abc", status: http.StatusUnauthorized, message: "missing or invalid bearer token"},
		{name: "two segments", header: "Bearer a.b", status: http.StatusUnauthorized, message: "invalid jwt format"},
		{name: "wrong secret", header: "Bearer " + signedToken(t, "other", valid), status: http.StatusUnauthorized, message: "jwt signature mismatch"},
		{name: "no sheet", header: "Bearer " + signedToken(t, "secret", with("sheet_id", nil)), status: http.StatusUnauthorized, message: "missing sheet_id claim"},
		{name: "no exp", header: "Bearer " + signedToken(t, "secret", with("exp", nil)), status: http.StatusUnauthorized, message: "invalid exp claim"},
		{name: "expired", header: "Bearer " + signedToken(t, "secret", with("exp", now.Unix())), status: http.StatusUnauthorized, message: "token expired"},
		{name: "audience", header: "Bearer " + signedToken(t, "secret", with("aud", "relay")), status: http.StatusUnauthorized, message: "invalid aud claim"},
		{name: "no scopes", header: "Bearer " + signedToken(t, "secret", with("scopes", []string{})), status: http.StatusForbidden, message: "no scopes granted"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, authErr := parseBearer(tc.header, "secret", now)
			if authErr == nil || authErr.status != tc.status || authErr.message != tc.message {
				t.Fatalf("expected %d %q, got %+v", tc.status, tc.message, authErr)
			}
		})
	}
}
