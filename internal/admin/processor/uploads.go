package processor

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"funnel-server/internal/downloads"
)

var (
	ErrFileTooLarge    = errors.New("file exceeds upload limit")
	ErrUnsupportedFile = errors.New("unsupported file type")
)

const (
	maxProofFileBytes = 10 << 20 // 10 MB
	proofSlotTTL      = 15 * time.Minute
)

var allowedProofTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// UploadSlots issues signed-URL style slots for proof-of-purchase files.
// The server never touches file bytes; the slot binds a storage path to a
// short-lived token the storage front end honours.
type UploadSlots struct {
	tokens  downloads.Tokens
	baseURL string
	now     func() time.Time
}

func NewUploadSlots(tokenSecret, baseURL string) UploadSlots {
	return UploadSlots{
		tokens:  downloads.NewTokens(tokenSecret),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		now:     time.Now,
	}
}

// ProofSlot is a granted upload destination.
type ProofSlot struct {
	UploadURL string    `json:"upload_url"`
	FilePath  string    `json:"file_path"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue validates the file parameters and mints an upload slot under
// manual_verifications/.
func (u UploadSlots) Issue(fileName string, fileSize int64, contentType string) (ProofSlot, error) {
	if fileSize <= 0 || fileSize > maxProofFileBytes {
		return ProofSlot{}, ErrFileTooLarge
	}
	if !allowedProofTypes[strings.ToLower(contentType)] {
		return ProofSlot{}, ErrUnsupportedFile
	}

	now := u.now()
	path := fmt.Sprintf("manual_verifications/%d_%s", now.Unix(), sanitizeFileName(fileName))
	expiresAt := now.Add(proofSlotTTL)
	token := u.tokens.Mint(path, expiresAt)

	return ProofSlot{
		UploadURL: fmt.Sprintf("%s/uploads/proof?token=%s", u.baseURL, url.QueryEscape(token)),
		FilePath:  path,
		ExpiresAt: expiresAt,
	}, nil
}

// sanitizeFileName strips directories and anything outside [a-zA-Z0-9._-].
func sanitizeFileName(name string) string {
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "proof"
	}
	return b.String()
}
