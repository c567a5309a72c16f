// Package session issues and validates the signed cookie that carries a
// logged-in account between requests.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/smallbiznis/httpauth/internal/domain"
)

// CookieName is the session cookie.
const CookieName = "httpauth_session"

// Authentication methods recorded in a session.
const (
	MethodHeader   = "http_header"
	MethodPassword = "password"
)

const minSecretLen = 32

var ErrSecretTooShort = fmt.Errorf("session secret must be at least %d bytes", minSecretLen)

// Claims is the custom payload of a session token.
type Claims struct {
	AccountID int64  `json:"aid"`
	Login     string `json:"login"`
	Role      string `json:"role"`
	Method    string `json:"amr"`
}

// Manager signs session tokens with a shared HS256 secret.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(secret []byte, issuer string, ttl time.Duration) (*Manager, error) {
	if len(secret) < minSecretLen {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Manager{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// TTL is the lifetime of issued tokens.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue produces a signed token for account.
func (m *Manager) Issue(account domain.Account, method string) (string, error) {
	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.HS256, Key: m.secret}, (&gojose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := m.now().UTC()
	std := gojwt.Claims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatInt(account.ID, 10),
		Issuer:    m.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(m.ttl)),
	}
	custom := Claims{
		AccountID: account.ID,
		Login:     account.Login,
		Role:      account.Role,
		Method:    method,
	}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize session: %w", err)
	}
	return token, nil
}

// Validate verifies the signature and time claims of token.
func (m *Manager) Validate(token string) (*Claims, error) {
	if token == "" {
		return nil, errors.New("empty session token")
	}
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}

	var std gojwt.Claims
	var custom Claims
	if err := parsed.Claims(m.secret, &std, &custom); err != nil {
		return nil, fmt.Errorf("verify session: %w", err)
	}
	if err := std.ValidateWithLeeway(gojwt.Expected{Issuer: m.issuer, Time: m.now()}, 0); err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}
	if custom.AccountID == 0 {
		return nil, errors.New("session has no account")
	}
	return &custom, nil
}
