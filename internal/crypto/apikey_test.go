package crypto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

func TestAPIKeyMultiSig(t *testing.T) {
	a, err := NewAPIKeyMultiSig("key-123", "0x4bfb41d5b3570defd03c39a9a4d8de6bd8b8982e")
	require.NoError(t, err)

	// Address is checksummed.
	require.Equal(t, "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E", a.MultiSigAddress())

	cred, err := a.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer key-123", cred.Headers["Authorization"])
	require.Equal(t, "key-123", cred.Headers["X-API-Key"])
	require.False(t, cred.Empty())
}

func TestNewAPIKeyMultiSigValidation(t *testing.T) {
	_, err := NewAPIKeyMultiSig("", "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	require.ErrorIs(t, err, domain.ErrAuth)

	_, err = NewAPIKeyMultiSig("key", "not-an-address")
	require.ErrorIs(t, err, domain.ErrValidation)
}
