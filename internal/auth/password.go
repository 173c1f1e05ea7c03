package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	hashAlgorithm  = "pbkdf2_sha256"
	hashIterations = 210000
	saltBytes      = 16
)

// HashPassword produces "pbkdf2_sha256$<iterations>$<salt>$<digest>".
// The embedded tag and iteration count let verification survive
// future parameter upgrades without a migration.
func HashPassword(password string) string {
	salt := make([]byte, saltBytes)
	rand.Read(salt)
	saltHex := hex.EncodeToString(salt)
	digest := pbkdf2.Key([]byte(password), []byte(saltHex), hashIterations, sha256.Size, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s",
		hashAlgorithm, hashIterations, saltHex,
		base64.RawURLEncoding.EncodeToString(digest))
}

// VerifyPassword checks password against stored. Unhashed stored
// values (legacy records) are compared in constant time and reported
// via rehash so the caller can upgrade them on next write.
func VerifyPassword(stored, password string) (ok, rehash bool) {
	if !strings.HasPrefix(stored, hashAlgorithm+"$") {
		equal := subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
		return equal, equal
	}

	parts := strings.SplitN(stored, "$", 4)
	if len(parts) != 4 {
		return false, false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false, false
	}
	salt := parts[2]
	want, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return false, false
	}

	got := pbkdf2.Key([]byte(password), []byte(salt), iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1, false
}
