package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/blockrun/proxy/internal/wallet"
)

func main() {
	out := flag.String("out", "", "path to write the generated key file (omit to print only)")
	flag.Parse()

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		log.Fatalf("failed to generate key material: %v", err)
	}
	priv := secp256k1.PrivKeyFromBytes(raw)
	hexKey := "0x" + hex.EncodeToString(priv.Serialize())

	signer, err := wallet.NewSecp256k1Signer(hexKey)
	if err != nil {
		log.Fatalf("generated key rejected by signer: %v", err)
	}

	fmt.Println("=== blockrun wallet generated ===")
	fmt.Println()
	fmt.Printf("  Address: %s\n", signer.Address())
	fmt.Println()
	fmt.Println("  Private key (save this, it will NOT be shown again):")
	fmt.Printf("  %s\n", hexKey)
	fmt.Println()
	fmt.Println("  Export it as BLOCKRUN_WALLET_KEY before starting cmd/proxy.")
	fmt.Println("==================================")

	if *out == "" {
		return
	}
	if err := os.WriteFile(*out, []byte(hexKey+"\n"), 0o600); err != nil {
		log.Fatalf("failed to write key file: %v", err)
	}
	fmt.Printf("\n  Key also written to %s (mode 0600)\n", *out)
}
