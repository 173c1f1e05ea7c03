package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/safar/storefront-core/internal/models"
)

var (
	ErrTokenInvalid = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")
)

type Claims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Role  string `json:"role"`
	IAT   int64  `json:"iat"`
	EXP   int64  `json:"exp"`
}

// Signer mints and verifies stateless bearer tokens of the form
// base64(payload) + "." + base64(HMAC-SHA256(payload, secret)).
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) Mint(user *models.User) (string, error) {
	now := s.now()
	claims := Claims{
		UID:   user.ID,
		Email: user.Email,
		Role:  models.NormalizeRole(user.Role),
		IAT:   now.Unix(),
		EXP:   now.Add(s.ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + s.sign(encoded), nil
}

func (s *Signer) Verify(token string) (*Claims, error) {
	encoded, sig, found := strings.Cut(token, ".")
	if !found {
		return nil, ErrTokenInvalid
	}
	if !hmac.Equal([]byte(s.sign(encoded)), []byte(sig)) {
		return nil, ErrTokenInvalid
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrTokenInvalid
	}
	if claims.EXP <= s.now().Unix() {
		return nil, ErrTokenExpired
	}
	claims.Role = models.NormalizeRole(claims.Role)
	return &claims, nil
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
