package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestGenerateKeyShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key := GenerateKey()
		require.Len(t, key, 64)
		for _, c := range key {
			ok := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')
			require.True(t, ok, "unexpected character %q in key %s", c, key)
		}
		require.False(t, seen[key], "key collision after %d keys", i)
		seen[key] = true
	}
}

func TestKeyRegistryMintAndRedeem(t *testing.T) {
	reg := NewKeyRegistry()

	key := reg.Mint("bob")
	assert.Len(t, key, 64)
	assert.Equal(t, 1, reg.Len())

	username, ok := reg.Redeem(key)
	require.True(t, ok)
	assert.Equal(t, "bob", username)
	assert.Equal(t, 0, reg.Len())
}

func TestKeyRegistrySingleUse(t *testing.T) {
	reg := NewKeyRegistry()
	key := reg.Mint("bob")

	_, ok := reg.Redeem(key)
	require.True(t, ok)

	_, ok = reg.Redeem(key)
	assert.False(t, ok, "a key must not redeem twice")
}

func TestKeyRegistryUnknownKey(t *testing.T) {
	reg := NewKeyRegistry()

	_, ok := reg.Redeem("no-such-key")
	assert.False(t, ok)
}

func TestKeyRegistryDiscard(t *testing.T) {
	reg := NewKeyRegistry()
	key := reg.Mint("bob")

	assert.True(t, reg.Discard(key))
	assert.False(t, reg.Discard(key), "second discard finds nothing")

	_, ok := reg.Redeem(key)
	assert.False(t, ok, "a discarded key must not redeem")
}

func TestKeyRegistrySingleUseProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		reg := NewKeyRegistry()

		n := rapid.IntRange(1, 20).Draw(t, "keys")
		keys := make([]string, n)
		for i := range keys {
			keys[i] = reg.Mint("bob")
		}

		for _, key := range keys {
			if _, ok := reg.Redeem(key); !ok {
				t.Fatalf("first redemption of %s failed", key)
			}
			if _, ok := reg.Redeem(key); ok {
				t.Fatalf("second redemption of %s succeeded", key)
			}
		}

		if reg.Len() != 0 {
			t.Fatalf("%d keys left after redeeming all", reg.Len())
		}
	})
}
