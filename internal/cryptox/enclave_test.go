package cryptox

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealedKey_WipesInputAndOpens(t *testing.T) {
	in := []byte("0123456789abcdef0123456789abcdef")
	want := append([]byte(nil), in...)

	k, err := NewSealedKey(in)
	require.NoError(t, err)
	assert.Equal(t, 32, k.Size())
	assert.Equal(t, make([]byte, 32), in)

	err = k.With(func(key []byte) error {
		assert.Equal(t, want, key)
		return nil
	})
	require.NoError(t, err)
}

func TestSealedKey_PropagatesError(t *testing.T) {
	k := NewRandomSealedKey(16)
	boom := errors.New("boom")
	assert.ErrorIs(t, k.With(func([]byte) error { return boom }), boom)
}

func TestSealedKeyFromBase64(t *testing.T) {
	k, err := SealedKeyFromBase64(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)
	assert.Equal(t, 32, k.Size())

	_, err = SealedKeyFromBase64("%%%")
	assert.Error(t, err)
	_, err = SealedKeyFromBase64("")
	assert.Error(t, err)
}
