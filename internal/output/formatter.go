// ABOUTME: Output formatter for action results in text and JSON modes
// ABOUTME: Merges DTOs with convenience fields and tolerates unserialisable values

package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Mode selects how results are rendered.
type Mode string

const (
	ModeText     Mode = "text"
	ModeJSON     Mode = "json"
	ModeJSONMax  Mode = "json-max"
	ModeJSONSpec Mode = "json-spec"
)

// ParseMode validates an output mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeText, ModeJSON, ModeJSONMax, ModeJSONSpec:
		return Mode(s), nil
	case "":
		return ModeText, nil
	default:
		return "", fmt.Errorf("unknown output mode %q", s)
	}
}

// DefaultSeparator is the column separator for text mode.
const DefaultSeparator = "    "

// Record is one renderable result. Columns drive text mode, Data and Extra
// drive json mode, Transport is added under json-max, and Spec is the
// Matrix-schema payload emitted under json-spec (nil means the action has
// no schema-shaped output and produces nothing in that mode).
type Record struct {
	Columns   []string
	Data      any
	Extra     map[string]any
	Transport any
	Spec      any
}

// Formatter renders Records to a writer in the configured mode. It is safe
// for use from multiple goroutines; lines are written whole.
type Formatter struct {
	mu        sync.Mutex
	w         io.Writer
	mode      Mode
	separator string
	redactor  *Redactor
}

// NewFormatter creates a Formatter. An empty separator means the default.
func NewFormatter(w io.Writer, mode Mode, separator string, redactor *Redactor) *Formatter {
	if separator == "" {
		separator = DefaultSeparator
	}
	return &Formatter{w: w, mode: mode, separator: separator, redactor: redactor}
}

// Mode returns the configured output mode.
func (f *Formatter) Mode() Mode {
	return f.mode
}

// Separator returns the configured text-mode column separator.
func (f *Formatter) Separator() string {
	return f.separator
}

// Emit renders one record. Errors here are rendering bugs, not operator
// input problems, so they surface on the record itself.
func (f *Formatter) Emit(rec Record) error {
	var line string
	switch f.mode {
	case ModeText:
		line = strings.Join(rec.Columns, f.separator)
	case ModeJSON:
		b, err := f.marshal(rec, false)
		if err != nil {
			return err
		}
		line = string(b)
	case ModeJSONMax:
		b, err := f.marshal(rec, true)
		if err != nil {
			return err
		}
		line = string(b)
	case ModeJSONSpec:
		if rec.Spec == nil {
			return nil
		}
		b, err := marshalTolerant(rec.Spec)
		if err != nil {
			return err
		}
		line = string(b)
	default:
		return fmt.Errorf("unknown output mode %q", f.mode)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := fmt.Fprintln(f.w, f.redactor.Redact(line))
	return err
}

// Plain writes a bare line in every mode except json-spec. Used for values
// the operator must capture verbatim, such as media envelopes.
func (f *Formatter) Plain(s string) error {
	if f.mode == ModeJSONSpec {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := fmt.Fprintln(f.w, f.redactor.Redact(s))
	return err
}

// marshal builds the json object for a record: the Data DTO with Extra keys
// merged in, plus transport_response when withTransport is set.
func (f *Formatter) marshal(rec Record, withTransport bool) ([]byte, error) {
	obj := map[string]json.RawMessage{}

	if rec.Data != nil {
		raw, err := marshalTolerant(rec.Data)
		if err != nil {
			return nil, err
		}
		// Data may be a struct or a map; flatten objects, wrap scalars.
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err == nil {
			for k, v := range fields {
				obj[k] = v
			}
		} else {
			obj["value"] = raw
		}
	}
	for k, v := range rec.Extra {
		raw, err := marshalTolerant(v)
		if err != nil {
			return nil, err
		}
		obj[k] = raw
	}
	if withTransport && rec.Transport != nil {
		raw, err := marshalTolerant(rec.Transport)
		if err != nil {
			return nil, err
		}
		obj["transport_response"] = raw
	}
	return json.Marshal(obj)
}

// marshalTolerant marshals v, falling back to the value's type name when the
// encoder rejects it. SDK internals (loggers, response bodies) are not
// required to be serialisable.
func marshalTolerant(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err == nil {
		return b, nil
	}
	return json.Marshal(fmt.Sprintf("%T", v))
}
