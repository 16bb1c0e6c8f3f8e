// ABOUTME: Filename derivation for received media under four policies
// ABOUTME: Resolves collisions by appending an incrementing suffix before the extension

package attachment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"maunium.net/go/mautrix/id"

	"github.com/solenoid-labs/mxcli/internal/config"
)

// cleanAllowed are the non-alphanumeric characters kept by the clean policy.
const cleanAllowed = "._- ~$"

// DeriveFilename picks a local filename for a received media event.
// The source policy keeps the sender's name as-is; clean substitutes any
// character outside a small allowlist; eventid and time replace the name
// entirely, keeping the extension.
func DeriveFilename(policy config.FilenamePolicy, source string, eventID id.EventID, ts time.Time) string {
	source = filepath.Base(source)
	ext := filepath.Ext(source)
	switch policy {
	case config.FilenameClean:
		return cleanName(source)
	case config.FilenameEventID:
		return cleanName(string(eventID)) + ext
	case config.FilenameTime:
		return ts.UTC().Format("20060102_150405") + fmt.Sprintf("_%06d", ts.Nanosecond()/1000) + ext
	default: // config.FilenameSource
		return source
	}
}

// cleanName substitutes every character that is neither alphanumeric nor in
// the allowlist with an underscore.
func cleanName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune(cleanAllowed, r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// UniquePath joins dir and name, appending _0, _1, ... before the extension
// until the path does not exist. No existing file is ever overwritten.
func UniquePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
