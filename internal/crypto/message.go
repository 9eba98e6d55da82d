package crypto

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// credentialSlack is how far before expiry a cached bearer credential is
// considered stale and re-derived.
const credentialSlack = 30 * time.Second

// ChallengeExchanger is the venue side of the message-signature auth flow.
// The adapter implements it on top of the dispatcher: fetch the challenge
// string, then trade the signature for a bearer token.
type ChallengeExchanger interface {
	Challenge(ctx context.Context) (string, error)
	Login(ctx context.Context, address, message, signature string) (token string, expiresAt time.Time, err error)
}

// MessageAuth implements EIP-191 message-signature authentication: sign the
// venue's challenge string with the account key and exchange the signature
// for a short-lived bearer credential. The credential is cached until near
// expiry; Authenticate is safe for concurrent use.
type MessageAuth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	exchanger  ChallengeExchanger

	mu   sync.Mutex
	cred domain.Credential
}

// NewMessageAuth creates a MessageAuth from a hex-encoded secp256k1 private
// key and the venue's challenge exchanger.
func NewMessageAuth(privateKeyHex string, exchanger ChallengeExchanger) (*MessageAuth, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/message: %w: %v", domain.ErrAuth, err)
	}

	return &MessageAuth{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		exchanger:  exchanger,
	}, nil
}

// Address returns the address derived from the account key.
func (a *MessageAuth) Address() common.Address {
	return a.address
}

// SignMessage personal-signs msg per EIP-191 ("\x19Ethereum Signed
// Message:\n" prefix) and returns the hex signature with v in {27,28}.
func (a *MessageAuth) SignMessage(msg string) (string, error) {
	digest := accounts.TextHash([]byte(msg))
	sig, err := ethcrypto.Sign(digest, a.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/message: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// Authenticate returns the cached bearer credential, performing the
// challenge/response exchange when none is held or the held one is near
// expiry. A malformed exchange or venue rejection surfaces as ErrAuth.
func (a *MessageAuth) Authenticate(ctx context.Context) (domain.Credential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.cred.Empty() && a.cred.Valid(time.Now(), credentialSlack) {
		return a.cred, nil
	}

	challenge, err := a.exchanger.Challenge(ctx)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("crypto/message: fetch challenge: %w", err)
	}
	if challenge == "" {
		return domain.Credential{}, fmt.Errorf("crypto/message: %w: empty challenge", domain.ErrAuth)
	}

	sig, err := a.SignMessage(challenge)
	if err != nil {
		return domain.Credential{}, err
	}

	token, expiresAt, err := a.exchanger.Login(ctx, a.address.Hex(), challenge, sig)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("crypto/message: login: %w", err)
	}
	if token == "" {
		return domain.Credential{}, fmt.Errorf("crypto/message: %w: empty token in login response", domain.ErrAuth)
	}

	a.cred = domain.Credential{Token: token, ExpiresAt: expiresAt}
	return a.cred, nil
}

// Invalidate drops the cached credential so the next Authenticate performs a
// fresh exchange. The dispatcher calls this after a venue auth rejection.
func (a *MessageAuth) Invalidate() {
	a.mu.Lock()
	a.cred = domain.Credential{}
	a.mu.Unlock()
}
