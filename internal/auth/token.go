package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	tokenIssuer      = "casinoscope-backend"
	tokenAudience    = "casinoscope-admin-panel"
	sessionTokenType = "admin_session"

	// DefaultSessionTTL is used for a regular sign-in,
	// ExtendedSessionTTL when the client asks to be remembered
	DefaultSessionTTL  = 8 * time.Hour
	ExtendedSessionTTL = 30 * 24 * time.Hour
)

// TokenPayload is the signed content of a session token:
// base64url(payload JSON) + "." + base64url(hmac-sha256 signature)
type TokenPayload struct {
	AdminID     string   `json:"adminId"`
	Email       string   `json:"email"`
	Role        Role     `json:"role"`
	Permissions []string `json:"permissions"`
	Type        string   `json:"type"`
	IssuedAt    int64    `json:"iat"`
	ExpiresAt   int64    `json:"exp"`
	Issuer      string   `json:"issuer"`
	Audience    string   `json:"audience"`
}

type TokenSigner struct {
	secret []byte
}

// NewTokenSigner expects the signing secret from validated configuration,
// startup must have already failed if it was absent
func NewTokenSigner(secret []byte) *TokenSigner {
	return &TokenSigner{
		secret: secret,
	}
}

func (ts *TokenSigner) Generate(profile *AdminProfile, rememberMe bool, now time.Time) (string, time.Time, error) {
	ttl := DefaultSessionTTL
	if rememberMe {
		ttl = ExtendedSessionTTL
	}
	expiresAt := now.Add(ttl)

	payload := TokenPayload{
		AdminID:     profile.ID,
		Email:       profile.Email,
		Role:        profile.Role,
		Permissions: profile.Permissions,
		Type:        sessionTokenType,
		IssuedAt:    now.Unix(),
		ExpiresAt:   expiresAt.Unix(),
		Issuer:      tokenIssuer,
		Audience:    tokenAudience,
	}

	payloadJson, err := json.Marshal(payload)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal token payload: %w", err)
	}

	encodedPayload := base64.RawURLEncoding.EncodeToString(payloadJson)
	signature := ts.sign(encodedPayload)

	return encodedPayload + "." + signature, expiresAt, nil
}

// Verify returns the decoded payload, or nil for any kind of invalid token:
// bad encoding, signature mismatch, expiry, wrong issuer or audience
func (ts *TokenSigner) Verify(token string, now time.Time) *TokenPayload {
	encodedPayload, signature, found := strings.Cut(token, ".")
	if !found {
		return nil
	}

	expectedSignature := ts.sign(encodedPayload)
	if !hmac.Equal([]byte(signature), []byte(expectedSignature)) {
		return nil
	}

	payloadJson, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return nil
	}

	var payload TokenPayload
	if err := json.Unmarshal(payloadJson, &payload); err != nil {
		return nil
	}

	if payload.Type != sessionTokenType {
		return nil
	}
	if payload.Issuer != tokenIssuer || payload.Audience != tokenAudience {
		return nil
	}
	if now.Unix() >= payload.ExpiresAt {
		return nil
	}

	return &payload
}

func (ts *TokenSigner) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, ts.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
