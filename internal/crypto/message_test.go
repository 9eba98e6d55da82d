package crypto

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

type fakeExchanger struct {
	challenge  string
	token      string
	expiresAt  time.Time
	challenges int
	logins     int

	gotAddress string
	gotMessage string
	gotSig     string
}

func (f *fakeExchanger) Challenge(ctx context.Context) (string, error) {
	f.challenges++
	return f.challenge, nil
}

func (f *fakeExchanger) Login(ctx context.Context, address, message, signature string) (string, time.Time, error) {
	f.logins++
	f.gotAddress = address
	f.gotMessage = message
	f.gotSig = signature
	return f.token, f.expiresAt, nil
}

func TestSignMessageRecoverable(t *testing.T) {
	auth, err := NewMessageAuth(testKeyHex, nil)
	require.NoError(t, err)

	sig, err := auth.SignMessage("hello")
	require.NoError(t, err)

	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	require.NoError(t, err)
	require.Len(t, raw, 65)

	// Undo the v offset and recover the signing address.
	raw[64] -= 27
	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte("hello")), raw)
	require.NoError(t, err)
	require.Equal(t, testAddress, ethcrypto.PubkeyToAddress(*pub).Hex())
}

func TestAuthenticateCachesCredential(t *testing.T) {
	ex := &fakeExchanger{
		challenge: "challenge-123",
		token:     "bearer-token",
		expiresAt: time.Now().Add(time.Hour),
	}
	auth, err := NewMessageAuth(testKeyHex, ex)
	require.NoError(t, err)

	cred, err := auth.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "bearer-token", cred.Token)
	require.Equal(t, testAddress, ex.gotAddress)
	require.Equal(t, "challenge-123", ex.gotMessage)
	require.NotEmpty(t, ex.gotSig)

	// Second call serves from cache.
	_, err = auth.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, ex.logins)

	// Invalidate forces a fresh exchange.
	auth.Invalidate()
	_, err = auth.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, ex.logins)
}

func TestAuthenticateRefreshesNearExpiry(t *testing.T) {
	ex := &fakeExchanger{
		challenge: "c",
		token:     "tok",
		expiresAt: time.Now().Add(5 * time.Second), // inside the slack window
	}
	auth, err := NewMessageAuth(testKeyHex, ex)
	require.NoError(t, err)

	_, err = auth.Authenticate(context.Background())
	require.NoError(t, err)
	_, err = auth.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, ex.logins)
}

func TestAuthenticateRejectsEmptyChallenge(t *testing.T) {
	auth, err := NewMessageAuth(testKeyHex, &fakeExchanger{challenge: "", token: "tok"})
	require.NoError(t, err)

	_, err = auth.Authenticate(context.Background())
	require.ErrorIs(t, err, domain.ErrAuth)
}

func TestAuthenticateRejectsEmptyToken(t *testing.T) {
	auth, err := NewMessageAuth(testKeyHex, &fakeExchanger{challenge: "c", token: ""})
	require.NoError(t, err)

	_, err = auth.Authenticate(context.Background())
	require.ErrorIs(t, err, domain.ErrAuth)
}
