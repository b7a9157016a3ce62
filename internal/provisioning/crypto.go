package provisioning

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var ErrMalformedCiphertext = errors.New("malformed password ciphertext")

// passwordCipher seals members-area passwords for at-rest storage. These
// passwords must round-trip (operators resend them to locked-out customers),
// so they are boxed with the server key instead of hashed.
type passwordCipher struct {
	key [32]byte
}

func newPasswordCipher(secret string) passwordCipher {
	return passwordCipher{key: sha256.Sum256([]byte(secret))}
}

// seal encrypts a password and returns it base64-encoded with the nonce
// prepended.
func (c passwordCipher) seal(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// open decrypts a sealed password. Returns ErrMalformedCiphertext when the
// value cannot be decrypted, which includes values sealed under a rotated
// key.
func (c passwordCipher) open(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformedCiphertext
	}
	if len(sealed) <= 24 {
		return "", ErrMalformedCiphertext
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, &c.key)
	if !ok {
		return "", ErrMalformedCiphertext
	}
	return string(plaintext), nil
}
