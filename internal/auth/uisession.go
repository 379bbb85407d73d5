package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// UIClaims is the identity Custard reads off a verified UI session token.
// Custard is a pure token verifier: the identity provider that issues
// these tokens is external and out of scope.
type UIClaims struct {
	UserID string
	Email  string
}

// UIVerifier verifies UI-facing bearer tokens against an external OIDC
// provider's published keys, using provider discovery reduced to
// verification only — Custard never issues or refreshes tokens itself.
type UIVerifier struct {
	verifier *oidc.IDTokenVerifier
	clientID string
}

// NewUIVerifier discovers providerURL's OIDC configuration and constructs a
// verifier that checks signature, issuer, and audience (clientID) on every
// token.
func NewUIVerifier(ctx context.Context, providerURL, clientID string) (*UIVerifier, error) {
	provider, err := oidc.NewProvider(ctx, providerURL)
	if err != nil {
		return nil, fmt.Errorf("discover OIDC provider: %w", err)
	}
	return &UIVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		clientID: clientID,
	}, nil
}

// Verify checks a raw bearer token (without the "Bearer " prefix already
// stripped by the caller) and returns the identity it carries.
func (v *UIVerifier) Verify(ctx context.Context, rawToken string) (UIClaims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return UIClaims{}, fmt.Errorf("verify ID token: %w", err)
	}

	var claims struct {
		Subject string `json:"sub"`
		Email   string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return UIClaims{}, fmt.Errorf("decode ID token claims: %w", err)
	}
	return UIClaims{UserID: claims.Subject, Email: claims.Email}, nil
}

// ExtractBearerToken pulls the token out of a standard Authorization header
// value, stripping the "Bearer " scheme prefix.
func ExtractBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

// ParseUnverifiedExpiry reads the exp claim out of a JWT without verifying
// its signature — used only for diagnostics (e.g. logging how close to
// expiry a rejected token was), never for authorization decisions.
func ParseUnverifiedExpiry(rawToken string) (time.Time, error) {
	parser := jwt.NewParser()
	var claims jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(rawToken, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}
