package provisioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPasswordCipherRoundTrip(t *testing.T) {
	cipher := newPasswordCipher("provisioning-secret")

	sealed, err := cipher.seal("casa-mesa-cafe-2026")
	assert.NoError(t, err)
	assert.NotEqual(t, "casa-mesa-cafe-2026", sealed)

	opened, err := cipher.open(sealed)
	assert.NoError(t, err)
	assert.Equal(t, "casa-mesa-cafe-2026", opened)
}

func TestPasswordCipherNonceVaries(t *testing.T) {
	cipher := newPasswordCipher("provisioning-secret")

	first, err := cipher.seal("casa-mesa-cafe-2026")
	assert.NoError(t, err)
	second, err := cipher.seal("casa-mesa-cafe-2026")
	assert.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestPasswordCipherRejectsWrongKey(t *testing.T) {
	sealed, err := newPasswordCipher("old-secret").seal("casa-mesa-cafe-2026")
	assert.NoError(t, err)

	_, err = newPasswordCipher("new-secret").open(sealed)
	assert.ErrorIs(t, err, ErrMalformedCiphertext)
}

func TestPasswordCipherRejectsGarbage(t *testing.T) {
	cipher := newPasswordCipher("provisioning-secret")

	_, err := cipher.open("not base64!!!")
	assert.ErrorIs(t, err, ErrMalformedCiphertext)

	_, err = cipher.open("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrMalformedCiphertext)
}
