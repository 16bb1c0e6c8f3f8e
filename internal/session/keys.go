// ABOUTME: Megolm session key export and import in the standard key file format
// ABOUTME: Files are passphrase-encrypted and written with owner-only permissions

package session

import (
	"context"
	"fmt"
	"os"

	"maunium.net/go/mautrix/crypto"
)

// ExportKeys writes every known inbound Megolm session to a
// passphrase-encrypted key file and returns the session count.
func (s *Session) ExportKeys(ctx context.Context, path, passphrase string) (int, error) {
	mach := s.Crypto.Machine()
	sessions, err := mach.CryptoStore.GetAllGroupSessions(ctx).AsList()
	if err != nil {
		return 0, fmt.Errorf("reading group sessions: %w", err)
	}
	data, err := crypto.ExportKeys(passphrase, sessions)
	if err != nil {
		return 0, fmt.Errorf("encrypting key export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return 0, fmt.Errorf("writing key file: %w", err)
	}
	return len(sessions), nil
}

// ImportKeys loads a key file exported by this or another client and
// returns how many of the contained sessions were imported.
func (s *Session) ImportKeys(ctx context.Context, path, passphrase string) (imported, total int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("reading key file: %w", err)
	}
	imported, total, err = s.Crypto.Machine().ImportKeys(ctx, passphrase, data)
	if err != nil {
		return 0, 0, fmt.Errorf("importing keys: %w", err)
	}
	return imported, total, nil
}
