package apikey

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// AdminPrefix marks back-office admin keys.
const AdminPrefix = "lk_admin"

// GenerateKey creates a new API key with the given prefix and returns both
// the key and its storable hash. Format: {prefix}_{48_random_hex_chars}.
func GenerateKey(prefix, secret string) (key string, hash string, err error) {
	bytes := make([]byte, 24)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", err
	}
	fullKey := fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(bytes))
	return fullKey, HashKey(fullKey, secret), nil
}

// HashKey hashes the full API key for storage using HMAC-SHA256. Only the
// hash is persisted; the raw key is shown once at creation.
func HashKey(key, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateKeyFormat checks that the key has the expected prefix and a hex
// tail of the generated length. Cheap shape check before any HMAC work.
func ValidateKeyFormat(key, expectedPrefix string) bool {
	if !strings.HasPrefix(key, expectedPrefix+"_") {
		return false
	}
	tail := strings.TrimPrefix(key, expectedPrefix+"_")
	if len(tail) != 48 {
		return false
	}
	_, err := hex.DecodeString(tail)
	return err == nil
}
