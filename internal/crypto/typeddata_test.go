package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// Well-known throwaway key (hardhat account 0).
const (
	testKeyHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func testDomain() TypedDataDomain {
	return TypedDataDomain{
		Name:              "Polymarket CTF Exchange",
		Version:           "1",
		ChainID:           137,
		VerifyingContract: "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
	}
}

func testOrder() OrderPayload {
	return OrderPayload{
		Salt:          "12345",
		Maker:         testAddress,
		Signer:        testAddress,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "50000000",
		TakerAmount:   "100000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 0,
	}
}

func TestNewTypedDataSignerAddress(t *testing.T) {
	s, err := NewTypedDataSigner(testKeyHex, testDomain())
	require.NoError(t, err)
	require.Equal(t, testAddress, s.Address().Hex())

	// 0x prefix is accepted too.
	s2, err := NewTypedDataSigner("0x"+testKeyHex, testDomain())
	require.NoError(t, err)
	require.Equal(t, s.Address(), s2.Address())
}

func TestNewTypedDataSignerRejectsBadKey(t *testing.T) {
	_, err := NewTypedDataSigner("not-hex", testDomain())
	require.ErrorIs(t, err, domain.ErrAuth)
}

func TestSignOrderDeterministic(t *testing.T) {
	s, err := NewTypedDataSigner(testKeyHex, testDomain())
	require.NoError(t, err)

	first, err := s.SignOrder(testOrder())
	require.NoError(t, err)
	second, err := s.SignOrder(testOrder())
	require.NoError(t, err)
	require.Equal(t, first, second)

	require.True(t, strings.HasPrefix(first, "0x"))
	raw, err := hex.DecodeString(strings.TrimPrefix(first, "0x"))
	require.NoError(t, err)
	require.Len(t, raw, 65)
	require.Contains(t, []byte{27, 28}, raw[64])
}

func TestSignOrderFieldChangesSignature(t *testing.T) {
	s, err := NewTypedDataSigner(testKeyHex, testDomain())
	require.NoError(t, err)

	base, err := s.SignOrder(testOrder())
	require.NoError(t, err)

	bumped := testOrder()
	bumped.MakerAmount = "50000001"
	changed, err := s.SignOrder(bumped)
	require.NoError(t, err)
	require.NotEqual(t, base, changed)

	flipped := testOrder()
	flipped.Side = 1
	changed, err = s.SignOrder(flipped)
	require.NoError(t, err)
	require.NotEqual(t, base, changed)
}

func TestSignOrderDomainChangesSignature(t *testing.T) {
	s1, err := NewTypedDataSigner(testKeyHex, testDomain())
	require.NoError(t, err)

	other := testDomain()
	other.ChainID = 8453
	s2, err := NewTypedDataSigner(testKeyHex, other)
	require.NoError(t, err)

	sig1, err := s1.SignOrder(testOrder())
	require.NoError(t, err)
	sig2, err := s2.SignOrder(testOrder())
	require.NoError(t, err)
	require.NotEqual(t, sig1, sig2)
}

func TestSignOrderRejectsNonNumericField(t *testing.T) {
	s, err := NewTypedDataSigner(testKeyHex, testDomain())
	require.NoError(t, err)

	bad := testOrder()
	bad.TokenID = "0xdeadbeef"
	_, err = s.SignOrder(bad)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSignAuthMessage(t *testing.T) {
	s, err := NewTypedDataSigner(testKeyHex, testDomain())
	require.NoError(t, err)

	sig1, err := s.SignAuthMessage(1700000000, 0)
	require.NoError(t, err)
	sig2, err := s.SignAuthMessage(1700000000, 0)
	require.NoError(t, err)
	require.Equal(t, sig1, sig2)

	sig3, err := s.SignAuthMessage(1700000000, 1)
	require.NoError(t, err)
	require.NotEqual(t, sig1, sig3)
}
