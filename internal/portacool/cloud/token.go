package cloud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// customTokenKeys are tried in order before falling back to a scan of
// every value in the response. The custom-token endpoint has returned the
// token under several different names over time.
var customTokenKeys = []string{
	"token",
	"customToken",
	"custom_token",
	"firebaseToken",
	"firebase_token",
	"jwt",
	"idToken",
	"id_token",
	"access_token",
}

// extractJWT finds a JWT-shaped string in a custom-token response body.
//
// Search order:
//  1. the body itself, as a JSON string or as raw text
//  2. customTokenKeys at the top level of a JSON object
//  3. every remaining value, keys sorted, depth first
func extractJWT(body []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		raw := strings.Trim(strings.TrimSpace(string(body)), `"`)
		if looksLikeJWT(raw) {
			return raw, nil
		}
		return "", fmt.Errorf("%w: custom token response is not JSON and not a token", ErrTokenExtraction)
	}

	if obj, ok := doc.(map[string]any); ok {
		for _, key := range customTokenKeys {
			if s, ok := obj[key].(string); ok && looksLikeJWT(strings.TrimSpace(s)) {
				return strings.TrimSpace(s), nil
			}
		}
	}

	if tok, ok := scanForJWT(doc); ok {
		return tok, nil
	}
	return "", fmt.Errorf("%w: no token found in custom token response", ErrTokenExtraction)
}

func scanForJWT(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if looksLikeJWT(s) {
			return s, true
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if tok, ok := scanForJWT(val[k]); ok {
				return tok, true
			}
		}
	case []any:
		for _, item := range val {
			if tok, ok := scanForJWT(item); ok {
				return tok, true
			}
		}
	}
	return "", false
}

// looksLikeJWT reports whether s is three non-empty base64url segments
// joined by dots.
func looksLikeJWT(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, r := range p {
			if !isBase64URLRune(r) {
				return false
			}
		}
	}
	return true
}

func isBase64URLRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
		r == '-' || r == '_' || r == '='
}

// identityParser decodes identity tokens without verifying the signature.
// The token came straight from the identity toolkit over TLS and is only
// read for its uid and expiry. Padding is tolerated in the segments.
var identityParser = jwt.NewParser(jwt.WithPaddingAllowed())

// decodeIdentityToken reads the uid and expiry from an identity token.
// uid comes from user_id, falling back to sub.
func decodeIdentityToken(idToken string) (IdentityCredential, error) {
	claims := jwt.MapClaims{}
	if _, _, err := identityParser.ParseUnverified(idToken, claims); err != nil {
		return IdentityCredential{}, fmt.Errorf("%w: decoding identity token: %w", ErrTokenExtraction, err)
	}

	uid, _ := claims["user_id"].(string)
	if uid == "" {
		uid, _ = claims.GetSubject()
	}
	if uid == "" {
		return IdentityCredential{}, fmt.Errorf("%w: identity token has no user_id or sub claim", ErrTokenExtraction)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return IdentityCredential{}, fmt.Errorf("%w: identity token has no exp claim", ErrTokenExtraction)
	}

	return IdentityCredential{
		IDToken:   idToken,
		UID:       uid,
		ExpiresAt: exp.Time.UTC().Truncate(time.Second),
	}, nil
}
