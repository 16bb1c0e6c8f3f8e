// ABOUTME: Tests for the redacting writer used as the logger sink
// ABOUTME: Covers scrubbing and the reported-length contract

package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewRedactingWriter(&buf, NewRedactor("syt_secret"))

	line := []byte("level=ERROR msg=\"GET https://hs/x?access_token=syt_secret failed\"\n")
	n, err := w.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n, "writers must report the original length")
	assert.NotContains(t, buf.String(), "syt_secret")
	assert.Contains(t, buf.String(), "access_token=***")
}
