package admintoken

import (
	"testing"

	"github.com/smallbiznis/microsaas/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyPlainToken(t *testing.T) {
	v := New(config.Config{AdminToken: " s3cret "})

	assert.True(t, v.Configured())
	assert.True(t, v.Verify("s3cret"))
	assert.False(t, v.Verify("s3cre"))
	assert.False(t, v.Verify(""))
}

func TestVerifyUnconfiguredRejects(t *testing.T) {
	v := New(config.Config{})

	assert.False(t, v.Configured())
	assert.False(t, v.Verify(""))
	assert.False(t, v.Verify("anything"))

	var nilVerifier *Verifier
	assert.False(t, nilVerifier.Verify("anything"))
}

func TestVerifyHashedToken(t *testing.T) {
	encoded, err := Hash("operator-token")
	require.NoError(t, err)

	v := New(config.Config{AdminToken: "ignored", AdminTokenHash: encoded})
	assert.True(t, v.Verify("operator-token"))
	assert.False(t, v.Verify("ignored"))
}

func TestVerifyHashMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=0,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=4$!!$aGFzaA",
	} {
		assert.False(t, VerifyHash("token", encoded), encoded)
	}
}
