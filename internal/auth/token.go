package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// InviteClaims binds an invitation to one board and one email address.
type InviteClaims struct {
	BoardID string `json:"boardId"`
	Email   string `json:"email"`
	Exp     int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

const DefaultInviteTTL = 24 * time.Hour

// DeriveKey expands the server secret into a key dedicated to purpose, so the
// same secret never signs two kinds of token.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("taskboard:"+purpose)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return key, nil
}

// InviteSigner issues and parses invite tokens: base64url(JSON claims) "." HMAC-SHA256.
type InviteSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewInviteSigner(secret []byte, ttl time.Duration) (*InviteSigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("invite secret is empty")
	}
	key, err := DeriveKey(secret, "invite")
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultInviteTTL
	}
	return &InviteSigner{key: key, ttl: ttl, now: time.Now}, nil
}

func (s *InviteSigner) Issue(boardID, email string) (string, InviteClaims, error) {
	claims := InviteClaims{
		BoardID: boardID,
		Email:   strings.ToLower(strings.TrimSpace(email)),
		Exp:     s.now().Add(s.ttl).Unix(),
	}
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", InviteClaims{}, fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return payload + "." + sign(s.key, payload), claims, nil
}

func (s *InviteSigner) Parse(token string) (InviteClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return InviteClaims{}, ErrInvalidToken
	}
	payload, signature := parts[0], parts[1]

	expected := sign(s.key, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return InviteClaims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return InviteClaims{}, ErrInvalidToken
	}
	var claims InviteClaims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return InviteClaims{}, ErrInvalidToken
	}
	if claims.BoardID == "" || claims.Email == "" || claims.Exp == 0 {
		return InviteClaims{}, ErrInvalidToken
	}
	if s.now().Unix() >= claims.Exp {
		return InviteClaims{}, ErrExpiredToken
	}
	return claims, nil
}

func sign(key []byte, payload string) string {
	sum := hmac.New(sha256.New, key)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}
