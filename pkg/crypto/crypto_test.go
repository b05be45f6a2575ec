package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Sunset-Walks-2024")
	require.NoError(t, err)
	require.NotEqual(t, "Sunset-Walks-2024", hash)

	require.True(t, VerifyPassword(hash, "Sunset-Walks-2024"))
	require.False(t, VerifyPassword(hash, "sunset-walks-2024"))
}

func TestGenerateTokenLengthAndUniqueness(t *testing.T) {
	a, err := GenerateToken(32)
	require.NoError(t, err)
	b, err := GenerateToken(32)
	require.NoError(t, err)

	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)

	_, err = GenerateToken(0)
	require.Error(t, err)
}

func TestGenerateCodeUsesSafeAlphabet(t *testing.T) {
	require.Len(t, CodeAlphabet, 32)
	for _, forbidden := range []string{"0", "O", "1", "I"} {
		require.NotContains(t, CodeAlphabet, forbidden)
	}

	code, err := GenerateCode(6)
	require.NoError(t, err)
	require.Len(t, code, 6)
	for _, r := range code {
		require.True(t, strings.ContainsRune(CodeAlphabet, r), "unexpected character %q", r)
	}
}
