// Package wallet implements the WalletSigner collaborator: a
// secp256k1-backed signer that produces an opaque payment attestation
// header for upstream requests. Wallet-file management and on-chain
// settlement are out of scope — this package only turns a loaded
// private key into signed headers, a narrow interface of just Sign
// and Address.
package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Signer produces a payment attestation for an estimated cost, safe for
// concurrent use. The dispatcher depends only on this interface.
type Signer interface {
	Sign(ctx context.Context, amountUSD float64) (string, error)
	Address() string
}

// errSignerUnavailable is returned by NewSecp256k1Signer when the key is
// invalid.
type errSignerUnavailable struct{ reason string }

func (e errSignerUnavailable) Error() string { return "wallet: " + e.reason }

// deriveAddress returns a 0x-prefixed, 40-hex-char identifier from an
// uncompressed public key, the same truncated-hash scheme used by most
// account-based chains: SHA-256 the key, keep the last 20 bytes.
func deriveAddress(pubKeyBytes []byte) string {
	sum := sha256.Sum256(pubKeyBytes)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}

func invalidKeyError(format string, args ...any) error {
	return errSignerUnavailable{reason: fmt.Sprintf(format, args...)}
}
