// ABOUTME: Path resolution for the credentials file and the encrypted store
// ABOUTME: Falls back from explicit paths to the working directory to XDG locations

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProgramName is the directory name used under XDG config and data homes.
const ProgramName = "mxcli"

// DefaultCredentialsFile is the bare filename used when none is configured.
const DefaultCredentialsFile = "credentials.json"

// DefaultStoreDir is the bare directory name used when none is configured.
const DefaultStoreDir = "store"

// xdgConfigDir returns the XDG config directory for the program.
// Priority: XDG_CONFIG_HOME > ~/.config.
func xdgConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, ProgramName)
}

// xdgDataDir returns the XDG data directory for the program.
// Priority: XDG_DATA_HOME > ~/.local/share.
func xdgDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, ProgramName)
}

// LocateCredentials resolves the credentials file path for this run.
// A path with directory components is used verbatim. A bare filename is
// looked up in the working directory first, then in the XDG config
// directory. When forCreate is set (a login will write the file), the XDG
// fallback is skipped so that new files land predictably next to the
// operator.
func LocateCredentials(configured string, forCreate bool) string {
	if configured == "" {
		configured = DefaultCredentialsFile
	}
	if strings.ContainsRune(configured, os.PathSeparator) {
		return configured
	}
	if _, err := os.Stat(configured); err == nil {
		return configured
	}
	if forCreate {
		return configured
	}
	if xdg := xdgConfigDir(); xdg != "" {
		candidate := filepath.Join(xdg, configured)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return configured
}

// CredentialsExist reports whether a credentials file is present at the
// resolved location.
func CredentialsExist(configured string) bool {
	path := LocateCredentials(configured, false)
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// LocateStore resolves the store directory path for this run. An existing
// configured path wins; with the default bare name, an existing XDG data
// directory is preferred; otherwise the configured path is used as the
// creation target. The result does not change for the life of a run.
func LocateStore(configured string) string {
	if configured == "" {
		configured = DefaultStoreDir
	}
	if _, err := os.Stat(configured); err == nil {
		return configured
	}
	if configured == DefaultStoreDir {
		if xdg := xdgDataDir(); xdg != "" {
			candidate := filepath.Join(xdg, DefaultStoreDir)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return configured
}

// StoreExists reports whether the resolved store directory is present.
func StoreExists(configured string) bool {
	info, err := os.Stat(LocateStore(configured))
	return err == nil && info.IsDir()
}

// CreateStore makes the store directory with owner-only permissions.
func CreateStore(path string) error {
	if err := os.MkdirAll(path, 0700); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	return nil
}

// DeleteStore removes a store directory. Used to clean up a freshly created
// empty store after a failed login so a retry starts clean.
func DeleteStore(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("deleting store directory: %w", err)
	}
	return nil
}
