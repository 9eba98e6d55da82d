package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// The field order and types are part of the wire contract: changing either
// breaks signature validity and requires a new schema version.
var (
	// EIP712Domain(string name,string version,uint256 chainId)
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	domainWithContractTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)

	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"),
	)
)

// clobAuthMessage is the fixed attestation string the CLOB auth endpoint
// expects inside the signed struct.
const clobAuthMessage = "This message attests that I control the given wallet"

// TypedDataDomain parameterizes the EIP-712 domain separator per venue.
// VerifyingContract is optional; venues that bind signatures to an exchange
// contract set it, challenge-only domains leave it empty.
type TypedDataDomain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string // hex address, optional
}

// separator returns keccak256(abi.encode(typeHash, nameHash, versionHash,
// chainId[, verifyingContract])).
func (d TypedDataDomain) separator() []byte {
	parts := [][]byte{
		domainTypeHash,
		ethcrypto.Keccak256([]byte(d.Name)),
		ethcrypto.Keccak256([]byte(d.Version)),
		bigIntTo32Bytes(big.NewInt(d.ChainID)),
	}
	if d.VerifyingContract != "" {
		parts[0] = domainWithContractTypeHash
		addr := common.HexToAddress(d.VerifyingContract)
		parts = append(parts, common.LeftPadBytes(addr.Bytes(), 32))
	}
	return ethcrypto.Keccak256(concatBytes(parts...))
}

// OrderPayload carries the 12 fields of a CLOB order signed via EIP-712.
// Addresses and large numbers are strings to preserve precision across JSON
// boundaries.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 = BUY, 1 = SELL
	SignatureType int    `json:"signatureType"` // 0 = EOA, 1 = proxy, 2 = safe
}

// TypedDataSigner signs order payloads for one venue's EIP-712 domain.
type TypedDataSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domain     TypedDataDomain
	domainSep  []byte // cached, the domain never changes after construction
}

// NewTypedDataSigner creates a signer from a hex-encoded secp256k1 private
// key and the venue's typed-data domain.
func NewTypedDataSigner(privateKeyHex string, dom TypedDataDomain) (*TypedDataSigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/typeddata: %w: %v", domain.ErrAuth, err)
	}

	return &TypedDataSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domain:     dom,
		domainSep:  dom.separator(),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *TypedDataSigner) Address() common.Address {
	return s.address
}

// SignOrder hashes the payload per the versioned Order schema and signs the
// EIP-712 digest. The same payload and key always produce the same 65-byte
// hex signature; altering any field changes it.
func (s *TypedDataSigner) SignOrder(order OrderPayload) (string, error) {
	structHash, err := orderStructHash(order)
	if err != nil {
		return "", err
	}
	return signDigest(s.privateKey, eip712Digest(s.domainSep, structHash))
}

// SignAuthMessage signs the ClobAuth attestation used to derive API
// credentials. The struct binds the signer's address, a unix timestamp, and
// a nonce under a dedicated auth domain on the same chain.
func (s *TypedDataSigner) SignAuthMessage(timestamp, nonce int64) (string, error) {
	authDomain := TypedDataDomain{
		Name:    "ClobAuthDomain",
		Version: "1",
		ChainID: s.domain.ChainID,
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			clobAuthTypeHash,
			common.LeftPadBytes(s.address.Bytes(), 32),
			ethcrypto.Keccak256([]byte(fmt.Sprintf("%d", timestamp))),
			bigIntTo32Bytes(big.NewInt(nonce)),
			ethcrypto.Keccak256([]byte(clobAuthMessage)),
		),
	)

	return signDigest(s.privateKey, eip712Digest(authDomain.separator(), structHash))
}

// eip712Digest computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Digest(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

// signDigest signs a 32-byte digest with secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes, v in {27,28}).
func signDigest(key *ecdsa.PrivateKey, digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("crypto/typeddata: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// orderStructHash encodes and hashes an OrderPayload according to EIP-712.
func orderStructHash(o OrderPayload) ([]byte, error) {
	nums := make([]*big.Int, 0, 7)
	for _, f := range []struct{ name, val string }{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	} {
		n, ok := new(big.Int).SetString(f.val, 10)
		if !ok {
			return nil, fmt.Errorf("crypto/typeddata: %w: invalid %s %q", domain.ErrValidation, f.name, f.val)
		}
		nums = append(nums, n)
	}

	return ethcrypto.Keccak256(
		concatBytes(
			orderTypeHash,
			bigIntTo32Bytes(nums[0]),
			common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32),
			common.LeftPadBytes(common.HexToAddress(o.Signer).Bytes(), 32),
			common.LeftPadBytes(common.HexToAddress(o.Taker).Bytes(), 32),
			bigIntTo32Bytes(nums[1]),
			bigIntTo32Bytes(nums[2]),
			bigIntTo32Bytes(nums[3]),
			bigIntTo32Bytes(nums[4]),
			bigIntTo32Bytes(nums[5]),
			bigIntTo32Bytes(nums[6]),
			bigIntTo32Bytes(big.NewInt(int64(o.Side))),
			bigIntTo32Bytes(big.NewInt(int64(o.SignatureType))),
		),
	), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
