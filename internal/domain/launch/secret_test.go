package launch

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneTimeSecret_Redacted(t *testing.T) {
	_, key, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	s := NewOneTimeSecret(key)

	for _, format := range []string{"%v", "%+v", "%#v", "%s", "%x", "%q"} {
		assert.Equal(t, "[redacted]", fmt.Sprintf(format, s), format)
	}

	raw, err := json.Marshal(struct {
		Secret *OneTimeSecret `json:"secret"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"secret":"[redacted]"}`, string(raw))

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Info().Interface("secret", s).Stringer("s", s).Msg("x")
	assert.NotContains(t, buf.String(), fmt.Sprintf("%x", []byte(key)))
	assert.Contains(t, buf.String(), "[redacted]")
}

func TestOneTimeSecret_Wipe(t *testing.T) {
	_, key, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	backing := key
	s := NewOneTimeSecret(key)
	require.NotNil(t, s.Public())

	s.Wipe()
	assert.True(t, s.Wiped())
	assert.Nil(t, s.PrivateKey())
	assert.Nil(t, s.Public())
	assert.Equal(t, make([]byte, ed25519.PrivateKeySize), []byte(backing))
}
