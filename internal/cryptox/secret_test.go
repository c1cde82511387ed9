package cryptox

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_NeverLeaks(t *testing.T) {
	s := NewSecret([]byte("hunter22"))

	assert.Equal(t, redacted, s.String())
	assert.Equal(t, redacted, fmt.Sprintf("%v", s))
	assert.Equal(t, redacted, fmt.Sprintf("%#v", s))
	assert.Equal(t, redacted, fmt.Sprintf("%x", s))

	b, err := json.Marshal(struct{ S Secret }{S: s})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hunter22")
}

func TestSecret_BytesIsCopy(t *testing.T) {
	src := []byte("abc")
	s := NewSecret(src)
	src[0] = 'x'

	got := s.Bytes()
	assert.Equal(t, []byte("abc"), got)
	got[0] = 'y'
	assert.Equal(t, []byte("abc"), s.Bytes())
}

func TestSecret_ZeroAndEqual(t *testing.T) {
	a := NewSecret([]byte("k"))
	b := NewSecret([]byte("k"))
	assert.True(t, a.Equal(b))

	a.Zero()
	assert.True(t, a.IsZero())
	assert.False(t, a.Equal(b))
}

func TestSecret_ValueScan(t *testing.T) {
	s := NewSecret([]byte{1, 2, 3})
	v, err := s.Value()
	require.NoError(t, err)

	var back Secret
	require.NoError(t, back.Scan(v))
	assert.True(t, s.Equal(back))

	require.NoError(t, back.Scan(nil))
	assert.True(t, back.IsZero())
	assert.Error(t, back.Scan(42))
}
