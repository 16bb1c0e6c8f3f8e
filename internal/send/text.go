// ABOUTME: Text message construction for the six message intents
// ABOUTME: Priority: code over markdown over html over emojized over plain

package send

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	emojiext "github.com/yuin/goldmark-emoji"
	"github.com/yuin/goldmark-emoji/definition"
	"github.com/yuin/goldmark/extension"
	"maunium.net/go/mautrix/event"
)

// Intent selects how a text message body is rendered before sending.
type Intent struct {
	Notice   bool
	HTML     bool
	Markdown bool
	Code     bool
	Emojize  bool
}

// markdown is the shared renderer for markdown-intent messages. GitHub
// flavoured tables and strikethrough plus :shortcode: emoji.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM, emojiext.Emoji),
)

// htmlFormat is the only format value the protocol defines for rich bodies.
const htmlFormat = event.FormatHTML

// BuildText renders one message body into sendable content. Empty bodies
// (after stripping surrounding newlines) yield ok=false and are skipped.
func BuildText(body string, intent Intent) (content event.MessageEventContent, ok bool, err error) {
	body = strings.Trim(body, "\r\n")
	if body == "" {
		return content, false, nil
	}

	msgType := event.MsgText
	if intent.Notice {
		msgType = event.MsgNotice
	}
	content = event.MessageEventContent{MsgType: msgType, Body: body}

	switch {
	case intent.Code:
		// Triple backticks in the plain body keep mobile clients readable.
		content.Body = "```\n" + body + "\n```"
		content.Format = htmlFormat
		content.FormattedBody = "<pre><code>" + html.EscapeString(body) + "\n</code></pre>"
	case intent.Markdown:
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(body), &buf); err != nil {
			return content, false, fmt.Errorf("rendering markdown: %w", err)
		}
		content.Format = htmlFormat
		content.FormattedBody = strings.TrimRight(buf.String(), "\n")
	case intent.HTML:
		content.Format = htmlFormat
		content.FormattedBody = body
	case intent.Emojize:
		content.Body = Emojize(body)
	}
	return content, true, nil
}

// emojiTable is the GitHub shortcode set shipped with the markdown emoji
// extension, reused for plain-text substitution.
var emojiTable = definition.Github()

// Emojize replaces :shortcode: sequences with their Unicode emoji. Unknown
// shortcodes are left untouched.
func Emojize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for {
		start := strings.IndexByte(s, ':')
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.IndexByte(s[start+1:], ':')
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		end += start + 1
		name := s[start+1 : end]
		if em, ok := emojiTable.Get(name); ok && !strings.ContainsAny(name, " \t") {
			b.WriteString(s[:start])
			b.WriteString(string(em.Unicode))
			s = s[end+1:]
			continue
		}
		// Not a shortcode; keep the first colon literal and rescan from the
		// second one, which may open a real shortcode.
		b.WriteString(s[:end])
		s = s[end:]
	}
}
