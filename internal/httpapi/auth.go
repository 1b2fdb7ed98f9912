package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Bearer tokens are HS256 JWTs. The claims read here:
//
//	aud       "gridsync", as a string or inside an array
//	sheet_id  the sheet the token opens; "*" opens every sheet
//	user      optional, selects per-user column mappings
//	scopes    array or space-separated list of the scope values below
//	exp       unix seconds
const (
	tokenAudience = "gridsync"
	anySheet      = "*"
)

const (
	scopeSyncWrite   = "sync:write"
	scopeSyncRead    = "sync:read"
	scopeGridEdit    = "grid:edit"
	scopeConfigWrite = "config:write"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

func unauthorized(message string) *authError {
	return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: message}
}

func forbidden(message string) *authError {
	return &authError{status: http.StatusForbidden, code: "forbidden", message: message}
}

type tokenClaims struct {
	SheetID string
	User    string
	Scopes  map[string]struct{}
	Exp     int64
}

func (c tokenClaims) opens(sheetID string) bool {
	return sheetID == "" || c.SheetID == anySheet || c.SheetID == sheetID
}

func (c tokenClaims) has(scope string) bool {
	if scope == "" {
		return true
	}
	_, ok := c.Scopes[scope]
	return ok
}

// rawClaims mirrors the JWT payload before validation.
type rawClaims struct {
	SheetID string          `json:"sheet_id"`
	User    string          `json:"user"`
	Aud     json.RawMessage `json:"aud"`
	Scopes  json.RawMessage `json:"scopes"`
	Exp     json.Number     `json:"exp"`
}

func authorizeBearer(authHeader, jwtSecret, sheetID, requiredScope string, now time.Time) (tokenClaims, *authError) {
	claims, err := parseBearer(authHeader, jwtSecret, now)
	if err != nil {
		return tokenClaims{}, err
	}
	if !claims.opens(sheetID) {
		return tokenClaims{}, forbidden("sheet mismatch")
	}
	if !claims.has(requiredScope) {
		return tokenClaims{}, forbidden("missing required scope: " + requiredScope)
	}
	return claims, nil
}

func parseBearer(authHeader, jwtSecret string, now time.Time) (tokenClaims, *authError) {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return tokenClaims{}, unauthorized("missing or invalid bearer token")
	}
	segments := strings.Split(strings.TrimSpace(token), ".")
	if len(segments) != 3 {
		return tokenClaims{}, unauthorized("invalid jwt format")
	}

	var header struct {
		Alg string `json:"alg"`
	}
	if err := decodeSegment(segments[0], &header); err != nil {
		return tokenClaims{}, unauthorized("invalid jwt header")
	}
	if header.Alg != "HS256" {
		return tokenClaims{}, unauthorized("unsupported jwt algorithm")
	}
	if !validSignature(segments, jwtSecret) {
		return tokenClaims{}, unauthorized("jwt signature mismatch")
	}

	var raw rawClaims
	if err := decodeSegment(segments[1], &raw); err != nil {
		return tokenClaims{}, unauthorized("invalid jwt payload")
	}
	return raw.validate(now)
}

func (raw rawClaims) validate(now time.Time) (tokenClaims, *authError) {
	sheetID := strings.TrimSpace(raw.SheetID)
	if sheetID == "" {
		return tokenClaims{}, unauthorized("missing sheet_id claim")
	}
	exp, err := raw.Exp.Float64()
	if err != nil {
		return tokenClaims{}, unauthorized("invalid exp claim")
	}
	if now.Unix() >= int64(exp) {
		return tokenClaims{}, unauthorized("token expired")
	}
	if !audienceIncludes(raw.Aud, tokenAudience) {
		return tokenClaims{}, unauthorized("invalid aud claim")
	}
	scopes := scopeSet(raw.Scopes)
	if len(scopes) == 0 {
		return tokenClaims{}, forbidden("no scopes granted")
	}
	return tokenClaims{
		SheetID: sheetID,
		User:    strings.TrimSpace(raw.User),
		Scopes:  scopes,
		Exp:     int64(exp),
	}, nil
}

func decodeSegment(segment string, v any) error {
	data, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(v)
}

func validSignature(segments []string, secret string) bool {
	signature, err := base64.RawURLEncoding.DecodeString(segments[2])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(segments[0] + "." + segments[1]))
	return hmac.Equal(signature, mac.Sum(nil))
}

func audienceIncludes(raw json.RawMessage, want string) bool {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single == want
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return false
	}
	for _, aud := range list {
		if aud == want {
			return true
		}
	}
	return false
}

// scopeSet accepts ["a","b"] or "a b".
func scopeSet(raw json.RawMessage) map[string]struct{} {
	out := map[string]struct{}{}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var joined string
		if err := json.Unmarshal(raw, &joined); err != nil {
			return out
		}
		list = strings.Fields(joined)
	}
	for _, scope := range list {
		if scope = strings.TrimSpace(scope); scope != "" {
			out[scope] = struct{}{}
		}
	}
	return out
}
