// ABOUTME: Olm/Megolm machine setup over an encrypted SQLite store
// ABOUTME: Store key is derived from the user id for per-account isolation

package session

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// CryptoManager owns the E2EE machinery for one account.
type CryptoManager struct {
	helper *cryptohelper.CryptoHelper
	log    *slog.Logger
}

// SetupCrypto initializes end-to-end encryption for the client. The
// SQLite crypto database lives inside storeDir, one file per account.
func SetupCrypto(ctx context.Context, client *mautrix.Client, userID, storeDir string, log *slog.Logger) (*CryptoManager, error) {
	dbPath := filepath.Join(storeDir, fmt.Sprintf("crypto-%s.db", slugify(userID)))
	log.Debug("setting up encryption", "db", dbPath)

	helper, err := cryptohelper.NewCryptoHelper(client, deriveStoreKey(userID), dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	return &CryptoManager{helper: helper, log: log}, nil
}

// Machine returns the Olm machine for verification and key transfer.
func (cm *CryptoManager) Machine() *crypto.OlmMachine {
	return cm.helper.Machine()
}

// Close releases the crypto store.
func (cm *CryptoManager) Close() error {
	if cm.helper != nil {
		return cm.helper.Close()
	}
	return nil
}

// slugify converts a Matrix user id to a filesystem-safe string.
// Example: @alice:matrix.org -> alice_matrix.org
func slugify(userID string) string {
	s := userID
	if len(s) > 0 && s[0] == '@' {
		s = s[1:]
	}
	result := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '-', c == '_':
			result = append(result, c)
		case c == ':':
			result = append(result, '_')
		}
	}
	return string(result)
}

// deriveStoreKey creates a deterministic store encryption key from the
// user id. Each account gets a distinct key without an external secret.
func deriveStoreKey(userID string) []byte {
	h := sha256.Sum256([]byte("mxcli-crypto:" + userID))
	return h[:]
}
