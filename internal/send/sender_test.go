// ABOUTME: Tests for the send fan-out and raw event escape hatch
// ABOUTME: Verifies sequential per-room delivery and rejection of malformed events

package send

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/solenoid-labs/mxcli/internal/output"
)

type sentEvent struct {
	room    id.RoomID
	evtType event.Type
	content any
}

type fakeSendClient struct {
	sent []sentEvent
	fail map[id.RoomID]bool
	next int
}

func (f *fakeSendClient) SendMessageEvent(_ context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, _ ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	if f.fail[roomID] {
		return nil, fmt.Errorf("boom")
	}
	f.sent = append(f.sent, sentEvent{room: roomID, evtType: eventType, content: contentJSON})
	f.next++
	return &mautrix.RespSendEvent{EventID: id.EventID(fmt.Sprintf("$evt%d", f.next))}, nil
}

func newTestSender(client *fakeSendClient) (*Sender, *bytes.Buffer) {
	var buf bytes.Buffer
	formatter := output.NewFormatter(&buf, output.ModeText, "", output.NewRedactor(""))
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewSender(client, formatter, log), &buf
}

func TestSender_Text_FansOutSequentially(t *testing.T) {
	client := &fakeSendClient{}
	s, out := newTestSender(client)

	rooms := []id.RoomID{"!a:h", "!b:h", "!c:h"}
	require.NoError(t, s.Text(context.Background(), rooms, "hi", Intent{}))

	require.Len(t, client.sent, 3)
	for i, room := range rooms {
		assert.Equal(t, room, client.sent[i].room)
	}
	assert.Equal(t, 3, strings.Count(out.String(), "sent"))
}

func TestSender_Text_EmptySkipped(t *testing.T) {
	client := &fakeSendClient{}
	s, out := newTestSender(client)

	require.NoError(t, s.Text(context.Background(), []id.RoomID{"!a:h"}, "\n", Intent{}))
	assert.Empty(t, client.sent)
	assert.Empty(t, out.String())
}

func TestSender_Text_FailedRoomDoesNotStopOthers(t *testing.T) {
	client := &fakeSendClient{fail: map[id.RoomID]bool{"!b:h": true}}
	s, _ := newTestSender(client)

	err := s.Text(context.Background(), []id.RoomID{"!a:h", "!b:h", "!c:h"}, "hi", Intent{})
	require.Error(t, err)
	require.Len(t, client.sent, 2)
	assert.Equal(t, id.RoomID("!a:h"), client.sent[0].room)
	assert.Equal(t, id.RoomID("!c:h"), client.sent[1].room)
}

func TestSender_Raw(t *testing.T) {
	client := &fakeSendClient{}
	s, _ := newTestSender(client)

	raw := `{"type":"m.reaction","content":{"m.relates_to":{"rel_type":"m.annotation","event_id":"$x","key":"👍"}}}`
	require.NoError(t, s.Raw(context.Background(), []id.RoomID{"!a:h"}, raw))
	require.Len(t, client.sent, 1)
	assert.Equal(t, "m.reaction", client.sent[0].evtType.Type)
}

func TestSender_Raw_Rejections(t *testing.T) {
	client := &fakeSendClient{}
	s, _ := newTestSender(client)
	ctx := context.Background()
	rooms := []id.RoomID{"!a:h"}

	assert.Error(t, s.Raw(ctx, rooms, `not json`))
	assert.Error(t, s.Raw(ctx, rooms, `[1,2,3]`))
	assert.Error(t, s.Raw(ctx, rooms, `{"content":{}}`))
	assert.Error(t, s.Raw(ctx, rooms, `{"type":"m.reaction"}`))
	assert.Empty(t, client.sent)
}

func TestSender_Stream(t *testing.T) {
	client := &fakeSendClient{}
	s, _ := newTestSender(client)

	input := "line one\n\nline three\n"
	require.NoError(t, s.Stream(context.Background(), []id.RoomID{"!a:h"}, strings.NewReader(input), Intent{}))

	// The empty middle line is skipped; the others publish in order.
	require.Len(t, client.sent, 2)
	first := client.sent[0].content.(*event.MessageEventContent)
	second := client.sent[1].content.(*event.MessageEventContent)
	assert.Equal(t, "line one", first.Body)
	assert.Equal(t, "line three", second.Body)
}
