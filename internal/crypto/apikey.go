package crypto

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// APIKeyMultiSig is the static-credential scheme: an API key attached as a
// header on every request plus an on-chain multi-sig address passed as a
// request parameter. There is no per-request signing; the only local check
// is that the address is well-formed, done once at construction.
type APIKeyMultiSig struct {
	apiKey       string
	multiSigAddr common.Address
}

// NewAPIKeyMultiSig validates the multi-sig address shape and returns the
// scheme. A malformed address fails here rather than on first dispatch.
func NewAPIKeyMultiSig(apiKey, multiSigAddr string) (*APIKeyMultiSig, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("crypto/apikey: %w: empty API key", domain.ErrAuth)
	}
	if !common.IsHexAddress(multiSigAddr) {
		return nil, fmt.Errorf("crypto/apikey: %w: malformed multi-sig address %q", domain.ErrValidation, multiSigAddr)
	}
	return &APIKeyMultiSig{
		apiKey:       apiKey,
		multiSigAddr: common.HexToAddress(multiSigAddr),
	}, nil
}

// MultiSigAddress returns the checksummed multi-sig address for use as a
// request parameter.
func (a *APIKeyMultiSig) MultiSigAddress() string {
	return a.multiSigAddr.Hex()
}

// Authenticate returns the static header credential. It never expires and
// never touches the network.
func (a *APIKeyMultiSig) Authenticate(ctx context.Context) (domain.Credential, error) {
	return domain.Credential{
		Headers: map[string]string{
			"Authorization": "Bearer " + a.apiKey,
			"X-API-Key":     a.apiKey,
		},
	}, nil
}
