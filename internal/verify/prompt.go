// ABOUTME: Terminal prompter reading one-letter decisions from stdin
// ABOUTME: Questions are highlighted on stdout per the stream conventions

package verify

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// TerminalPrompter writes questions to out and reads answers line by
// line from in. Y and N are matched case-insensitively; everything else
// is DecisionOther.
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompter creates a prompter over the given streams.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out}
}

func (p *TerminalPrompter) Ask(question string) (Decision, error) {
	fmt.Fprintf(p.out, "%s ", color.New(color.Bold).Sprint(question))
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return DecisionOther, fmt.Errorf("reading answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return DecisionYes, nil
	case "n", "no":
		return DecisionNo, nil
	default:
		return DecisionOther, nil
	}
}
