package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	ciphertext, err := Encrypt([]byte("graph-token"), key)
	require.NoError(t, err)
	require.NotEmpty(t, ciphertext)

	plaintext, err := Decrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, "graph-token", plaintext)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	other := []byte("fedcba9876543210fedcba9876543210")

	ciphertext, err := Encrypt([]byte("graph-token"), key)
	require.NoError(t, err)

	_, err = Decrypt(ciphertext, other)
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	_, err := Decrypt("not base64!!!", key)
	assert.Error(t, err)

	_, err = Decrypt("c2hvcnQ=", key)
	assert.Error(t, err)
}
