package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for token verification.
var (
	ErrMissingToken = errors.New("httpapi: missing bearer token")
	ErrInvalidToken = errors.New("httpapi: invalid token")
)

// VerifierConfig configures bearer-token verification. Tokens are issued
// elsewhere; this service only checks them.
type VerifierConfig struct {
	// Secret is the HS256 signing secret. Required.
	Secret []byte

	// Issuer, when set, must match the token's iss claim.
	Issuer string

	// Audience, when set, must match one of the token's aud values.
	Audience string
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	config VerifierConfig
}

// NewVerifier creates a token verifier.
func NewVerifier(config VerifierConfig) *Verifier {
	return &Verifier{config: config}
}

// Verify checks the Authorization header value and returns the token
// subject.
func (v *Verifier) Verify(header string) (string, error) {
	const prefix = "Bearer "
	if header == "" || !strings.HasPrefix(header, prefix) {
		return "", ErrMissingToken
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.config.Audience))
	}

	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return v.config.Secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", ErrInvalidToken
	}
	return subject, nil
}

// requireAuth wraps a handler with bearer-token verification. A nil
// verifier disables authentication.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.verifier == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		subject, err := s.verifier.Verify(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		s.logger.DebugContext(r.Context(), "authenticated request", "subject", subject)
		next(w, r)
	}
}
