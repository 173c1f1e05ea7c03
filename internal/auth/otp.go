package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/thanhpk/randstr"

	"github.com/safar/storefront-core/internal/models"
)

var (
	ErrOTPInvalid   = errors.New("invalid or expired code")
	ErrOTPExhausted = errors.New("too many attempts")
)

// ResendError reports how long the caller must wait before
// requesting another code for the same account.
type ResendError struct {
	RetryAfter time.Duration
}

func (e *ResendError) Error() string {
	return fmt.Sprintf("code recently sent, retry in %s", e.RetryAfter.Round(time.Second))
}

type otpEntry struct {
	email    string
	code     string
	expires  time.Time
	attempts int
}

// OTPService holds in-flight second-factor codes in memory, keyed by
// an opaque token. Expired entries are dropped lazily on access.
type OTPService struct {
	ttl            time.Duration
	maxAttempts    int
	resendInterval time.Duration

	mu       sync.Mutex
	entries  map[string]*otpEntry
	lastSent map[string]time.Time
	now      func() time.Time
}

func NewOTPService(ttl, resendInterval time.Duration, maxAttempts int) *OTPService {
	return &OTPService{
		ttl:            ttl,
		maxAttempts:    maxAttempts,
		resendInterval: resendInterval,
		entries:        make(map[string]*otpEntry),
		lastSent:       make(map[string]time.Time),
		now:            time.Now,
	}
}

// Issue mints a token and a six-digit code for the account. A second
// Issue within the resend interval is refused.
func (s *OTPService) Issue(email string) (token, code string, err error) {
	email = models.NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()

	now := s.now()
	if last, ok := s.lastSent[email]; ok {
		if wait := s.resendInterval - now.Sub(last); wait > 0 {
			return "", "", &ResendError{RetryAfter: wait}
		}
	}

	token = randstr.Hex(24)
	code = numericCode(6)
	s.entries[token] = &otpEntry{
		email:   email,
		code:    code,
		expires: now.Add(s.ttl),
	}
	s.lastSent[email] = now
	return token, code, nil
}

// Verify consumes the token on success. Wrong codes count against the
// attempt cap; exhausting it invalidates the token outright.
func (s *OTPService) Verify(token, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()

	entry, ok := s.entries[token]
	if !ok {
		return "", ErrOTPInvalid
	}

	if subtle.ConstantTimeCompare([]byte(entry.code), []byte(code)) != 1 {
		entry.attempts++
		if entry.attempts >= s.maxAttempts {
			delete(s.entries, token)
			return "", ErrOTPExhausted
		}
		return "", ErrOTPInvalid
	}

	delete(s.entries, token)
	return entry.email, nil
}

// Drop removes a token, used when out-of-band delivery failed.
func (s *OTPService) Drop(token string) {
	s.mu.Lock()
	delete(s.entries, token)
	s.mu.Unlock()
}

func (s *OTPService) purgeLocked() {
	now := s.now()
	for token, entry := range s.entries {
		if now.After(entry.expires) {
			delete(s.entries, token)
		}
	}
	for email, sent := range s.lastSent {
		if now.Sub(sent) > s.resendInterval {
			delete(s.lastSent, email)
		}
	}
}

func numericCode(digits int) string {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// crypto/rand failing means the process has no entropy source
		panic(err)
	}
	return fmt.Sprintf("%0*d", digits, n)
}
