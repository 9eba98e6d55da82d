// Package crypto implements the signing engine: the closed set of
// authentication and signing schemes the supported venues require, plus
// encrypted private-key management. Schemes are stateless except for caching
// the current credential; re-authentication is triggered lazily by the
// dispatcher when a credential is expired or rejected.
package crypto

// Scheme identifies one of the supported signing variants. The set is closed
// on purpose: adding a venue with a new auth style means adding a variant
// here, not plugging in arbitrary callables.
type Scheme string

const (
	// SchemeMessageSignature signs a venue challenge string (EIP-191
	// personal sign) and exchanges it for a short-lived bearer credential.
	SchemeMessageSignature Scheme = "message-signature"

	// SchemeTypedDataOrder deterministically serializes and signs order
	// payloads per a versioned EIP-712 schema.
	SchemeTypedDataOrder Scheme = "typed-data-order"

	// SchemeRSASignature signs timestamp+METHOD+path with RSA-PKCS1v15 and
	// attaches signature headers per request.
	SchemeRSASignature Scheme = "rsa-signature"

	// SchemeAPIKeyMultiSig attaches a static API key header plus a validated
	// multi-sig address request parameter; no per-request signing.
	SchemeAPIKeyMultiSig Scheme = "api-key-multisig"
)
