package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// OverrideTokens mints and validates manual-override tokens. A token binds
// an admin email to an HMAC signature, so the payment path can trust the
// approver without a database lookup. Tokens look like
// "base64url(email).hex(signature)".
type OverrideTokens struct {
	secret  []byte
	isAdmin func(email string) bool
}

// NewOverrideTokens creates a token codec bound to the admin whitelist.
func NewOverrideTokens(secret string, isAdmin func(email string) bool) *OverrideTokens {
	return &OverrideTokens{
		secret:  []byte(secret),
		isAdmin: isAdmin,
	}
}

// Mint returns an override token for the approver email.
func (o *OverrideTokens) Mint(approverEmail string) string {
	email := strings.ToLower(strings.TrimSpace(approverEmail))
	return base64.RawURLEncoding.EncodeToString([]byte(email)) + "." + o.signature(email)
}

// Validate parses a token and returns the admin email it was minted for.
// Malformed tokens, bad signatures and non-whitelisted emails all report
// ok=false; callers drop those silently so the override mechanism stays
// invisible to probing.
func (o *OverrideTokens) Validate(token string) (email string, ok bool) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	email = string(raw)
	if !o.isAdmin(email) {
		return "", false
	}
	if !hmac.Equal([]byte(parts[1]), []byte(o.signature(email))) {
		return "", false
	}
	return email, true
}

func (o *OverrideTokens) signature(email string) string {
	mac := hmac.New(sha256.New, o.secret)
	mac.Write([]byte(email))
	return hex.EncodeToString(mac.Sum(nil))
}
