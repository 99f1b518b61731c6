package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	_ "github.com/lestrrat-go/dsig-secp256k1"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jws"
)

// secp256k1 is not one of the JOSE-standard curves, so jwx needs the
// dsig-secp256k1 plugin (imported above for its registration side
// effect, requires the jwx_es256k build tag) before jws.Sign will
// recognize the ES256K algorithm.

// secp256k1Signer signs a payment attestation with a secp256k1 private
// key and wraps it as a compact JWS, using decred's secp256k1 and the
// lestrrat-go dsig/jwx stack as the concrete signer implementation.
type secp256k1Signer struct {
	priv    *secp256k1.PrivateKey
	address string
}

// NewSecp256k1Signer parses a 0x-prefixed 64-hex-char private key (the
// format read from the wallet key file) and returns a Signer.
func NewSecp256k1Signer(hexKey string) (Signer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, invalidKeyError("key is not valid hex: %v", err)
	}
	if len(raw) != 32 {
		return nil, invalidKeyError("key must decode to 32 bytes, got %d", len(raw))
	}

	priv := secp256k1.PrivKeyFromBytes(raw)
	pub := priv.PubKey()
	return &secp256k1Signer{
		priv:    priv,
		address: deriveAddress(pub.SerializeUncompressed()),
	}, nil
}

func (s *secp256k1Signer) Address() string { return s.address }

// attestation is the payload signed into the X-Payment header: enough
// for the upstream provider to verify the caller is authorizing the
// estimated charge, without carrying any settlement logic itself.
type attestation struct {
	Address   string  `json:"address"`
	AmountUSD float64 `json:"amount_usd"`
	IssuedAt  int64   `json:"issued_at"`
	Nonce     string  `json:"nonce"`
}

// Sign produces a compact JWS over an attestation for amountUSD. The
// caller attaches the result verbatim as the X-Payment header value.
func (s *secp256k1Signer) Sign(ctx context.Context, amountUSD float64) (string, error) {
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("wallet: generating nonce: %w", err)
	}

	att := attestation{
		Address:   s.address,
		AmountUSD: amountUSD,
		IssuedAt:  time.Now().Unix(),
		Nonce:     hex.EncodeToString(nonce),
	}
	payload, err := json.Marshal(att)
	if err != nil {
		return "", fmt.Errorf("wallet: encoding attestation: %w", err)
	}

	signed, err := jws.Sign(payload, jws.WithKey(jwa.ES256K(), s.priv.ToECDSA()))
	if err != nil {
		return "", fmt.Errorf("wallet: signing attestation: %w", err)
	}
	return string(signed), nil
}
