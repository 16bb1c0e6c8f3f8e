// ABOUTME: Stdin pipe conventions for send arguments
// ABOUTME: '-' is a one-shot stdin read, '_' streams messages line by line

package send

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Inputs are the raw send arguments of one run.
type Inputs struct {
	Messages []string
	Images   []string
	Audios   []string
	Files    []string
	Events   []string

	// Stream is set when '_' was present: stdin is published line by line
	// after the listed messages.
	Stream bool
}

// Expand resolves the pipe placeholders in the argument lists. At most one
// '-' may appear across all lists; it is replaced by the full stdin
// content (message text, or a staged temp file for media). A single '_'
// among the messages switches on streaming. The escapes `\-` and `\_`
// produce the literal characters.
func Expand(in Inputs, stdin io.Reader, tempDir string) (Inputs, error) {
	dashes := countDashes(in.Messages) + countDashes(in.Images) +
		countDashes(in.Audios) + countDashes(in.Files) + countDashes(in.Events)
	if dashes > 1 {
		return in, fmt.Errorf("'-' may appear at most once across message, image, audio, file, and event arguments")
	}

	underscores := 0
	for _, m := range in.Messages {
		if m == "_" {
			underscores++
		}
	}
	if underscores > 1 {
		return in, fmt.Errorf("'_' may appear at most once")
	}
	if underscores == 1 && dashes == 1 {
		return in, fmt.Errorf("'-' and '_' cannot be combined")
	}

	out := in
	out.Messages = nil
	out.Stream = false

	var err error
	for _, m := range in.Messages {
		switch m {
		case "-":
			text, readErr := io.ReadAll(stdin)
			if readErr != nil {
				return in, fmt.Errorf("reading message from stdin: %w", readErr)
			}
			out.Messages = append(out.Messages, string(text))
		case "_":
			out.Stream = true
		default:
			out.Messages = append(out.Messages, unescape(m))
		}
	}

	if out.Images, err = expandFiles(in.Images, stdin, tempDir); err != nil {
		return in, err
	}
	if out.Audios, err = expandFiles(in.Audios, stdin, tempDir); err != nil {
		return in, err
	}
	if out.Files, err = expandFiles(in.Files, stdin, tempDir); err != nil {
		return in, err
	}

	out.Events = nil
	for _, e := range in.Events {
		if e == "-" {
			raw, readErr := io.ReadAll(stdin)
			if readErr != nil {
				return in, fmt.Errorf("reading event from stdin: %w", readErr)
			}
			out.Events = append(out.Events, string(raw))
			continue
		}
		out.Events = append(out.Events, unescape(e))
	}
	return out, nil
}

// expandFiles substitutes a '-' entry with a temp file staged from stdin.
func expandFiles(paths []string, stdin io.Reader, tempDir string) ([]string, error) {
	var out []string
	for _, p := range paths {
		if p == "-" {
			data, err := io.ReadAll(stdin)
			if err != nil {
				return nil, fmt.Errorf("reading file from stdin: %w", err)
			}
			staged := filepath.Join(tempDir, "stdin-"+uuid.NewString()[:8])
			if err := os.WriteFile(staged, data, 0600); err != nil {
				return nil, fmt.Errorf("staging stdin file: %w", err)
			}
			out = append(out, staged)
			continue
		}
		out = append(out, unescape(p))
	}
	return out, nil
}

func countDashes(list []string) int {
	n := 0
	for _, s := range list {
		if s == "-" {
			n++
		}
	}
	return n
}

// unescape turns `\-` and `\_` arguments into their literal characters.
func unescape(s string) string {
	switch s {
	case `\-`:
		return "-"
	case `\_`:
		return "_"
	default:
		return s
	}
}
