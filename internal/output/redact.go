// ABOUTME: Access-token redaction applied to every rendered string
// ABOUTME: Prevents the credentials secret from leaking into output or logs

package output

import (
	"io"
	"strings"
)

// redactedPlaceholder replaces the access token wherever it appears.
const redactedPlaceholder = "***"

// Redactor replaces a secret token with a placeholder in arbitrary strings.
// A Redactor with an empty token passes strings through unchanged.
type Redactor struct {
	token string
}

// NewRedactor creates a Redactor for the given access token.
func NewRedactor(token string) *Redactor {
	return &Redactor{token: token}
}

// Redact returns s with every occurrence of the token replaced.
func (r *Redactor) Redact(s string) string {
	if r == nil || r.token == "" {
		return s
	}
	return strings.ReplaceAll(s, r.token, redactedPlaceholder)
}

// RedactBytes is Redact for byte slices, used on raw response bodies.
func (r *Redactor) RedactBytes(b []byte) []byte {
	if r == nil || r.token == "" {
		return b
	}
	return []byte(strings.ReplaceAll(string(b), r.token, redactedPlaceholder))
}

// RedactingWriter scrubs the token from everything passing through it.
// Used as the sink of the stderr logger, where debug output may echo
// request URLs.
type RedactingWriter struct {
	w io.Writer
	r *Redactor
}

// NewRedactingWriter wraps w so every write is redacted first.
func NewRedactingWriter(w io.Writer, r *Redactor) *RedactingWriter {
	return &RedactingWriter{w: w, r: r}
}

// Write redacts p and forwards it. Writers report the original length so
// callers never see a short write from the replacement shrinking p.
func (rw *RedactingWriter) Write(p []byte) (int, error) {
	if _, err := rw.w.Write(rw.r.RedactBytes(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
