package wallet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultKeyPath is where the core reads the wallet key at startup;
// writing it is the collaborator's concern (wallet-file management is
// out of scope here).
const DefaultKeyPath = ".openclaw/blockrun/wallet.key"

// LoadKey reads a single-line "0x<64 hex>\n" private key from path. If
// path is empty, it resolves to $HOME/DefaultKeyPath.
func LoadKey(path string) (string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("wallet: resolving home directory: %w", err)
		}
		path = filepath.Join(home, DefaultKeyPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("wallet: reading key file %s: %w", path, err)
	}

	key := strings.TrimSpace(string(data))
	if !strings.HasPrefix(key, "0x") || len(key) != 66 {
		return "", fmt.Errorf("wallet: key file %s must contain a single 0x-prefixed 64-hex-char key", path)
	}
	return key, nil
}
