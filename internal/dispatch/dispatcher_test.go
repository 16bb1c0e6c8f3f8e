// ABOUTME: Tests for event classification, display lines, and invite handling
// ABOUTME: Uses a fake client for state, media, and join calls

package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/attachment"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/solenoid-labs/mxcli/internal/config"
	"github.com/solenoid-labs/mxcli/internal/output"
)

type fakeClient struct {
	blobs     map[id.ContentURI][]byte
	roomNames map[id.RoomID]string
	joined    []id.RoomID
}

func (f *fakeClient) UploadMedia(_ context.Context, req mautrix.ReqUploadMedia) (*mautrix.RespMediaUpload, error) {
	return nil, fmt.Errorf("not used")
}

func (f *fakeClient) DownloadBytes(_ context.Context, uri id.ContentURI) ([]byte, error) {
	blob, ok := f.blobs[uri]
	if !ok {
		return nil, fmt.Errorf("no blob %s", uri.String())
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (f *fakeClient) StateEvent(_ context.Context, roomID id.RoomID, _ event.Type, _ string, outContent any) error {
	name, ok := f.roomNames[roomID]
	if !ok {
		return mautrix.MNotFound
	}
	outContent.(*event.RoomNameEventContent).Name = name
	return nil
}

func (f *fakeClient) GetDisplayName(_ context.Context, userID id.UserID) (*mautrix.RespUserDisplayName, error) {
	if userID == "@alice:h" {
		return &mautrix.RespUserDisplayName{DisplayName: "Alice"}, nil
	}
	return nil, mautrix.MNotFound
}

func (f *fakeClient) JoinRoom(_ context.Context, roomIDorAlias string, _ *mautrix.ReqJoinRoom) (*mautrix.RespJoinRoom, error) {
	f.joined = append(f.joined, id.RoomID(roomIDorAlias))
	return &mautrix.RespJoinRoom{RoomID: id.RoomID(roomIDorAlias)}, nil
}

func newTestDispatcher(t *testing.T, client *fakeClient, opts Options) (*Dispatcher, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	formatter := output.NewFormatter(&buf, output.ModeText, "", output.NewRedactor(""))
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return New(client, formatter, log, opts), &buf
}

func textEvent(room id.RoomID, sender id.UserID, body string) *event.Event {
	return &event.Event{
		ID:        "$evt1:h",
		Type:      event.EventMessage,
		RoomID:    room,
		Sender:    sender,
		Timestamp: 1700000000000,
		Content: event.Content{
			Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: body},
		},
	}
}

func TestHandleEvent_SelfFiltered(t *testing.T) {
	client := &fakeClient{}
	d, buf := newTestDispatcher(t, client, Options{Self: "@me:h"})

	d.HandleEvent(context.Background(), textEvent("!r:h", "@me:h", "from myself"))
	assert.Empty(t, buf.String())

	d2, buf2 := newTestDispatcher(t, client, Options{Self: "@me:h", ListenSelf: true})
	d2.HandleEvent(context.Background(), textEvent("!r:h", "@me:h", "from myself"))
	assert.Contains(t, buf2.String(), "from myself")
}

func TestHandleEvent_TextLine(t *testing.T) {
	client := &fakeClient{roomNames: map[id.RoomID]string{"!r:h": "Lobby"}}
	d, buf := newTestDispatcher(t, client, Options{Self: "@me:h"})

	d.HandleEvent(context.Background(), textEvent("!r:h", "@alice:h", "hello"))

	line := buf.String()
	assert.Contains(t, line, "Lobby [!r:h]")
	assert.Contains(t, line, "Alice [@alice:h]")
	assert.Contains(t, line, "hello")
}

func TestHandleEvent_MultiLineBodyPrefixed(t *testing.T) {
	client := &fakeClient{}
	d, buf := newTestDispatcher(t, client, Options{Self: "@me:h"})

	d.HandleEvent(context.Background(), textEvent("!r:h", "@alice:h", "line1\nline2"))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], output.DefaultSeparator),
		"continuation lines must be prefixed, got %q", lines[1])
}

func TestHandleEvent_EncryptedMediaDownload(t *testing.T) {
	plaintext := []byte("the original image bytes")
	data := make([]byte, len(plaintext))
	copy(data, plaintext)

	file := &event.EncryptedFileInfo{EncryptedFile: *attachment.NewEncryptedFile()}
	file.EncryptInPlace(data)
	uri := id.ContentURI{Homeserver: "h", FileID: "blob1"}
	file.URL = uri.CUString()

	client := &fakeClient{blobs: map[id.ContentURI][]byte{uri: data}}
	dir := t.TempDir()
	d, buf := newTestDispatcher(t, client, Options{
		Self:          "@me:h",
		DownloadDir:   dir,
		FilenameMode:  config.FilenameClean,
		HomeserverURL: "https://hs.example.org",
	})

	evt := &event.Event{
		ID:        "$media1:h",
		Type:      event.EventMessage,
		RoomID:    "!r:h",
		Sender:    "@alice:h",
		Timestamp: 1700000000000,
		Content: event.Content{
			Parsed: &event.MessageEventContent{
				MsgType: event.MsgImage,
				Body:    "cat.png",
				File:    file,
			},
		},
	}
	d.HandleEvent(context.Background(), evt)

	assert.Contains(t, buf.String(), "cat.png")
	assert.Contains(t, buf.String(), "https://hs.example.org/_matrix/media/v3/download/h/blob1")

	got, err := os.ReadFile(dir + "/cat.png")
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

// fakeDecryptor maps ciphertext event ids to plaintext events.
type fakeDecryptor struct {
	plain map[id.EventID]*event.Event
}

func (f *fakeDecryptor) DecryptMegolmEvent(_ context.Context, evt *event.Event) (*event.Event, error) {
	plain, ok := f.plain[evt.ID]
	if !ok {
		return nil, fmt.Errorf("no session with ID sess1 found")
	}
	return plain, nil
}

func encryptedEvent(eventID id.EventID) *event.Event {
	return &event.Event{
		ID:        eventID,
		Type:      event.EventEncrypted,
		RoomID:    "!r:h",
		Sender:    "@alice:h",
		Timestamp: 1700000000000,
		Content: event.Content{
			Parsed: &event.EncryptedEventContent{
				Algorithm: id.AlgorithmMegolmV1,
				SessionID: "sess1",
			},
		},
	}
}

func TestHandleEvent_DecryptsBeforeRendering(t *testing.T) {
	client := &fakeClient{}
	dec := &fakeDecryptor{plain: map[id.EventID]*event.Event{
		"$enc1:h": textEvent("!r:h", "@alice:h", "the secret text"),
	}}
	d, buf := newTestDispatcher(t, client, Options{Self: "@me:h", Decrypt: dec})

	d.HandleEvent(context.Background(), encryptedEvent("$enc1:h"))

	assert.Contains(t, buf.String(), "the secret text")
	assert.NotContains(t, buf.String(), "encrypted event")
}

func TestHandleEvent_DecryptionFailureRendersError(t *testing.T) {
	client := &fakeClient{}
	d, buf := newTestDispatcher(t, client, Options{Self: "@me:h", Decrypt: &fakeDecryptor{}})

	d.HandleEvent(context.Background(), encryptedEvent("$enc2:h"))

	assert.Contains(t, buf.String(), "<decryption failed: no session with ID sess1 found>")
}

func TestHandleEvent_EncryptedWithoutDecryptor(t *testing.T) {
	client := &fakeClient{}
	d, buf := newTestDispatcher(t, client, Options{Self: "@me:h"})

	d.HandleEvent(context.Background(), encryptedEvent("$enc3:h"))

	assert.Contains(t, buf.String(), "<encrypted event, no session to decrypt>")
}

func TestHandleEvent_RedactionSummary(t *testing.T) {
	client := &fakeClient{}
	d, buf := newTestDispatcher(t, client, Options{Self: "@me:h"})

	d.HandleEvent(context.Background(), &event.Event{
		ID:      "$r:h",
		Type:    event.EventRedaction,
		RoomID:  "!r:h",
		Sender:  "@alice:h",
		Redacts: "$victim:h",
	})
	assert.Contains(t, buf.String(), "redacted $victim:h")
}

func TestHandleInvite_Policies(t *testing.T) {
	ctx := context.Background()

	client := &fakeClient{}
	d, buf := newTestDispatcher(t, client, Options{Invites: config.InviteList})
	d.HandleInvite(ctx, "!inv:h", "@alice:h")
	assert.Contains(t, buf.String(), "invite")
	assert.Empty(t, client.joined)

	client2 := &fakeClient{}
	d2, _ := newTestDispatcher(t, client2, Options{Invites: config.InviteJoin})
	d2.HandleInvite(ctx, "!inv:h", "@alice:h")
	assert.Equal(t, []id.RoomID{"!inv:h"}, client2.joined)

	client3 := &fakeClient{}
	d3, buf3 := newTestDispatcher(t, client3, Options{Invites: config.InviteIgnore})
	d3.HandleInvite(ctx, "!inv:h", "@alice:h")
	assert.Empty(t, buf3.String())
	assert.Empty(t, client3.joined)
}

func TestHandleEvent_ShowEventID(t *testing.T) {
	client := &fakeClient{}
	d, buf := newTestDispatcher(t, client, Options{Self: "@me:h", ShowEventID: true})
	d.HandleEvent(context.Background(), textEvent("!r:h", "@alice:h", "x"))
	assert.Contains(t, buf.String(), "[$evt1:h]")
}
