package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	t.Run("hash and verify", func(t *testing.T) {
		hash, err := HashPassword("correct horse battery staple")
		require.NoError(t, err)
		require.True(t, VerifyPassword(hash, "correct horse battery staple"))
		require.False(t, VerifyPassword(hash, "wrong password"))
	})

	t.Run("too short", func(t *testing.T) {
		_, err := HashPassword("short")
		require.ErrorIs(t, err, ErrPasswordTooShort)
	})

	t.Run("hashes are salted", func(t *testing.T) {
		a, err := HashPassword("password123")
		require.NoError(t, err)
		b, err := HashPassword("password123")
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})
}

func TestHashPIN(t *testing.T) {
	t.Run("hash and verify", func(t *testing.T) {
		hash, err := HashPIN("4321")
		require.NoError(t, err)
		require.True(t, VerifyPIN(hash, "4321"))
		require.False(t, VerifyPIN(hash, "1234"))
	})

	t.Run("rejects non 4-digit PINs", func(t *testing.T) {
		for _, pin := range []string{"", "123", "12345", "12a4", "one2", "12 4"} {
			_, err := HashPIN(pin)
			require.ErrorIs(t, err, ErrInvalidPIN, "pin %q", pin)
		}
	})
}
