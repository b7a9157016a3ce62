package downloads

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid download token")
	ErrTokenExpired = errors.New("download token expired")
)

// Tokens mints and validates the signed links handed to leads. A token binds
// the storage path to an expiry so a shared link dies on its own.
type Tokens struct {
	secret []byte
}

func NewTokens(secret string) Tokens {
	return Tokens{secret: []byte(secret)}
}

// Mint returns a token granting access to path until expiresAt.
func (t Tokens) Mint(path string, expiresAt time.Time) string {
	payload := fmt.Sprintf("%s|%d", path, expiresAt.Unix())
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + t.sign(payload)
}

// Validate checks the signature and expiry and returns the storage path the
// token grants.
func (t Tokens) Validate(token string, now time.Time) (string, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidToken
	}
	payload := string(raw)

	if !hmac.Equal([]byte(t.sign(payload)), []byte(parts[1])) {
		return "", ErrInvalidToken
	}

	idx := strings.LastIndex(payload, "|")
	if idx < 0 {
		return "", ErrInvalidToken
	}
	expiry, err := strconv.ParseInt(payload[idx+1:], 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	if now.After(time.Unix(expiry, 0)) {
		return "", ErrTokenExpired
	}

	return payload[:idx], nil
}

func (t Tokens) sign(payload string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
