package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultTokenTTL bounds the lifetime of a minted recognition token. Browser
// clients fetch a fresh token per rehearsal session, so short is fine.
const defaultTokenTTL = 10 * time.Minute

// TokenMinter issues short-lived HMAC-SHA256 tokens that browser clients
// present when opening speech-provider streams, keeping the long-lived API
// key on the server.
type TokenMinter struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenMinter creates a minter with the given signing secret. TTL falls
// back to ten minutes when zero or negative.
func NewTokenMinter(secret, issuer string, ttl time.Duration) *TokenMinter {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenMinter{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Mint signs a new token for the given subject. Returns the signed token and
// its expiry.
func (m *TokenMinter) Mint(subject string) (string, time.Time, error) {
	jti := make([]byte, 16)
	if _, err := rand.Read(jti); err != nil {
		return "", time.Time{}, fmt.Errorf("server: token id: %w", err)
	}

	now := m.now()
	exp := now.Add(m.ttl)
	claims := jwt.MapClaims{
		"jti": hex.EncodeToString(jti),
		"iss": m.issuer,
		"sub": subject,
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("server: sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates a token minted by this minter.
func (m *TokenMinter) Verify(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("server: unexpected signing method %q", t.Method.Alg())
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("server: verify token: %w", err)
	}
	return claims, nil
}

// tokenResponse is the body of a successful POST /api/token.
type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleToken mints a short-lived recognition token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.minter == nil {
		writeError(w, http.StatusServiceUnavailable, "token endpoint not configured")
		return
	}
	token, exp, err := s.minter.Mint("rehearsal")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token minting failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: exp})
}
