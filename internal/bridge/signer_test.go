package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	secret := "keepy_test_secret"
	now := int64(1700000000)

	env := Sign(secret, now)
	require.Equal(t, secret, env.Key)
	require.NotEmpty(t, env.Signature)
	require.Equal(t, "1700000000", env.Timestamp)

	assert.True(t, Verify(secret, env, now), "Envelope must verify at signing time")
}

func TestVerifyClockSkewBoundaries(t *testing.T) {
	secret := "keepy_test_secret"
	signedAt := int64(1700000000)
	env := Sign(secret, signedAt)

	cases := []struct {
		name string
		now  int64
		ok   bool
	}{
		{"exactly at signing time", signedAt, true},
		{"300s later", signedAt + MaxClockSkew, true},
		{"301s later", signedAt + MaxClockSkew + 1, false},
		{"300s earlier", signedAt - MaxClockSkew, true},
		{"301s earlier", signedAt - MaxClockSkew - 1, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, Verify(secret, env, tc.now))
		})
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	secret := "keepy_test_secret"
	now := int64(1700000000)

	t.Run("wrong key", func(t *testing.T) {
		env := Sign(secret, now)
		env.Key = "keepy_other_secret"
		assert.False(t, Verify(secret, env, now))
	})

	t.Run("tampered signature", func(t *testing.T) {
		env := Sign(secret, now)
		flipped := byte('0')
		if env.Signature[0] == '0' {
			flipped = '1'
		}
		env.Signature = string(flipped) + env.Signature[1:]
		assert.False(t, Verify(secret, env, now))
	})

	t.Run("replayed timestamp with fresh signature shape", func(t *testing.T) {
		env := Sign(secret, now)
		env.Timestamp = "1700000100"
		assert.False(t, Verify(secret, env, now+100), "Signature is bound to the original timestamp")
	})

	t.Run("non-numeric timestamp", func(t *testing.T) {
		env := Sign(secret, now)
		env.Timestamp = "yesterday"
		assert.False(t, Verify(secret, env, now))
	})

	t.Run("negative timestamp", func(t *testing.T) {
		env := Envelope{Key: secret, Timestamp: "-1", Signature: computeSignature(secret, "-1")}
		assert.False(t, Verify(secret, env, 0))
	})

	t.Run("bare key without signature", func(t *testing.T) {
		env := Envelope{Key: secret}
		assert.False(t, Verify(secret, env, now))
	})
}

func TestSignatureIsKeyedOverSecretAndTimestamp(t *testing.T) {
	// Same timestamp, different secrets must never produce the same
	// signature; same secret, different timestamps likewise.
	a := Sign("secret_a", 1700000000)
	b := Sign("secret_b", 1700000000)
	c := Sign("secret_a", 1700000001)

	assert.NotEqual(t, a.Signature, b.Signature)
	assert.NotEqual(t, a.Signature, c.Signature)
}
