// ABOUTME: Posts text, media, and raw events to resolved target rooms
// ABOUTME: Fans out sequentially so per-room ordering matches argument order

package send

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/solenoid-labs/mxcli/internal/attachment"
	"github.com/solenoid-labs/mxcli/internal/output"
)

// Client is the slice of the Matrix client used for sending.
type Client interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
}

// Sender posts events to a fixed list of target rooms, one room at a time.
type Sender struct {
	client Client
	fmt    *output.Formatter
	log    *slog.Logger
}

// NewSender creates a Sender.
func NewSender(client Client, formatter *output.Formatter, log *slog.Logger) *Sender {
	return &Sender{client: client, fmt: formatter, log: log}
}

// sentDTO is the json payload emitted per delivered event.
type sentDTO struct {
	RoomID  string `json:"room_id"`
	EventID string `json:"event_id"`
	MsgType string `json:"msgtype,omitempty"`
	Body    string `json:"body,omitempty"`
}

// Text builds one text message and sends it to every room. The send to the
// first room completes before the second begins.
func (s *Sender) Text(ctx context.Context, rooms []id.RoomID, body string, intent Intent) error {
	content, ok, err := BuildText(body, intent)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug("skipping empty message")
		return nil
	}
	return s.fanOut(ctx, rooms, event.EventMessage, &content, string(content.MsgType), content.Body)
}

// Media uploads one local file and posts the resulting message to every
// room. The message type follows the MIME prefix; encrypted uploads carry
// the envelope under "file", plain ones under "url".
func (s *Sender) Media(ctx context.Context, media attachment.MediaClient, rooms []id.RoomID, path string, plain bool) error {
	up, err := attachment.UploadFile(ctx, media, path, plain)
	if err != nil {
		return err
	}

	content := event.MessageEventContent{
		MsgType: up.MsgType,
		Body:    up.Name,
		Info:    up.Info,
	}
	if up.File != nil {
		content.File = up.File
	} else {
		content.URL = up.URI.CUString()
	}
	return s.fanOut(ctx, rooms, event.EventMessage, &content, string(up.MsgType), up.Name)
}

// rawEvent is the accepted shape for --event arguments.
type rawEvent struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Raw parses a JSON object of the form {"type": ..., "content": ...} and
// sends it as-is. Anything else is rejected. This is the escape hatch for
// reactions and replies.
func (s *Sender) Raw(ctx context.Context, rooms []id.RoomID, raw string) error {
	var evt rawEvent
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return fmt.Errorf("event argument is not a JSON object: %w", err)
	}
	if evt.Type == "" || len(evt.Content) == 0 {
		return fmt.Errorf("event argument needs both \"type\" and \"content\"")
	}
	evtType := event.Type{Type: evt.Type, Class: event.MessageEventType}
	return s.fanOut(ctx, rooms, evtType, evt.Content, evt.Type, "")
}

// Stream reads stdin line by line and publishes each line immediately as
// its own message, until EOF. The connection stays up for the duration.
func (s *Sender) Stream(ctx context.Context, rooms []id.RoomID, r io.Reader, intent Intent) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Text(ctx, rooms, scanner.Text(), intent); err != nil {
			s.log.Error("stream send failed", "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// fanOut delivers one event to each room sequentially and emits a result
// record per delivery. A failed room counts as an error but does not stop
// delivery to the remaining rooms.
func (s *Sender) fanOut(ctx context.Context, rooms []id.RoomID, evtType event.Type, content any, msgType, body string) error {
	var firstErr error
	for _, roomID := range rooms {
		resp, err := s.client.SendMessageEvent(ctx, roomID, evtType, content)
		if err != nil {
			s.log.Error("send failed", "room", roomID.String(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("sending to %s: %w", roomID, err)
			}
			continue
		}
		s.fmt.Emit(output.Record{
			Columns: []string{"sent", roomID.String(), string(resp.EventID)},
			Data: sentDTO{
				RoomID:  roomID.String(),
				EventID: string(resp.EventID),
				MsgType: msgType,
				Body:    body,
			},
			Transport: resp,
		})
	}
	return firstErr
}
