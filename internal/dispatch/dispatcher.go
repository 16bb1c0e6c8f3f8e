// ABOUTME: Uniform callback target for all listen modes
// ABOUTME: Classifies events by variant, renders them, and fetches media

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/solenoid-labs/mxcli/internal/attachment"
	"github.com/solenoid-labs/mxcli/internal/config"
	"github.com/solenoid-labs/mxcli/internal/output"
)

// Client is the slice of the Matrix client the dispatcher needs: media
// fetch, state lookups for display names, and joining on invite.
type Client interface {
	attachment.MediaClient
	StateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, outContent any) error
	GetDisplayName(ctx context.Context, userID id.UserID) (*mautrix.RespUserDisplayName, error)
	JoinRoom(ctx context.Context, roomIDorAlias string, req *mautrix.ReqJoinRoom) (*mautrix.RespJoinRoom, error)
}

// Decryptor turns an encrypted event into its plaintext counterpart.
// The Olm machine satisfies this.
type Decryptor interface {
	DecryptMegolmEvent(ctx context.Context, evt *event.Event) (*event.Event, error)
}

// Options configure rendering and side effects.
type Options struct {
	// Decrypt, when set, is applied to encrypted events before they are
	// classified. Without it they render as an opaque placeholder.
	Decrypt Decryptor

	// Self is the logged-in user; their events are dropped unless
	// ListenSelf is set.
	Self       id.UserID
	ListenSelf bool

	// DownloadDir enables media fetch on receipt when non-empty.
	DownloadDir  string
	FilenameMode config.FilenamePolicy

	// ShowEventID adds the event id column to display lines.
	ShowEventID bool

	// Invites selects invite handling: list, join, or both.
	Invites config.InvitePolicy

	// HomeserverURL is used to derive plain HTTP URLs from mxc URIs.
	HomeserverURL string
}

// Dispatcher renders events delivered by the listener. Callbacks run
// serially on the sync loop, so no internal locking is needed beyond the
// display-name caches.
type Dispatcher struct {
	client Client
	fmt    *output.Formatter
	log    *slog.Logger
	opts   Options

	mu          sync.Mutex
	roomNames   map[id.RoomID]string
	senderNames map[id.UserID]string
}

// New creates a Dispatcher.
func New(client Client, formatter *output.Formatter, log *slog.Logger, opts Options) *Dispatcher {
	return &Dispatcher{
		client:      client,
		fmt:         formatter,
		log:         log,
		opts:        opts,
		roomNames:   make(map[id.RoomID]string),
		senderNames: make(map[id.UserID]string),
	}
}

// eventDTO is the json payload for a dispatched event.
type eventDTO struct {
	RoomID   string `json:"room_id"`
	Sender   string `json:"sender"`
	EventID  string `json:"event_id"`
	Type     string `json:"type"`
	MsgType  string `json:"msgtype,omitempty"`
	Body     string `json:"body"`
	OriginTS int64  `json:"origin_server_ts"`
	SavedAs  string `json:"saved_as,omitempty"`
}

// HandleEvent is the uniform entry point for every listen mode.
func (d *Dispatcher) HandleEvent(ctx context.Context, evt *event.Event) {
	if evt == nil {
		return
	}
	if !d.opts.ListenSelf && evt.Sender == d.opts.Self {
		return
	}

	// Events arriving from manual sync or pagination carry unparsed
	// content; parse defensively and fall through to the raw summary on
	// failure.
	if evt.Content.Parsed == nil {
		_ = evt.Content.ParseRaw(evt.Type)
	}

	if evt.Type == event.EventEncrypted && d.opts.Decrypt != nil {
		decrypted, err := d.opts.Decrypt.DecryptMegolmEvent(ctx, evt)
		if err != nil {
			d.log.Error("decryption failed", "event", evt.ID.String(), "error", err)
			d.emit(ctx, evt, fmt.Sprintf("<decryption failed: %v>", err), "", "")
			return
		}
		evt = decrypted
		if evt.Content.Parsed == nil {
			_ = evt.Content.ParseRaw(evt.Type)
		}
	}

	body, msgType, savedAs := d.describe(ctx, evt)
	d.emit(ctx, evt, body, msgType, savedAs)
}

// describe renders the event variant into a one-or-more-line body.
func (d *Dispatcher) describe(ctx context.Context, evt *event.Event) (body, msgType, savedAs string) {
	switch evt.Type {
	case event.EventMessage:
		content, ok := evt.Content.Parsed.(*event.MessageEventContent)
		if !ok {
			return "<undecodable message>", "", ""
		}
		msgType = string(content.MsgType)
		switch content.MsgType {
		case event.MsgImage, event.MsgAudio, event.MsgVideo, event.MsgFile:
			return d.describeMedia(ctx, evt, content)
		default:
			// Text, notice, emote, and unknown text-like types render as
			// their body.
			return content.Body, msgType, ""
		}
	case event.EventEncrypted:
		return "<encrypted event, no session to decrypt>", "", ""
	case event.EventReaction:
		content, ok := evt.Content.Parsed.(*event.ReactionEventContent)
		if !ok {
			return "<reaction>", "", ""
		}
		return fmt.Sprintf("reacted %s to %s", content.RelatesTo.Key, content.RelatesTo.EventID), "", ""
	case event.EventRedaction:
		return fmt.Sprintf("redacted %s", evt.Redacts), "", ""
	case event.StateMember:
		content, ok := evt.Content.Parsed.(*event.MemberEventContent)
		if !ok {
			return "<membership change>", "", ""
		}
		return fmt.Sprintf("membership of %s: %s", evt.GetStateKey(), content.Membership), "", ""
	case event.StateRoomName:
		content, ok := evt.Content.Parsed.(*event.RoomNameEventContent)
		if !ok {
			return "<room name change>", "", ""
		}
		return fmt.Sprintf("room renamed to %q", content.Name), "", ""
	case event.StateCanonicalAlias:
		return "room alias changed", "", ""
	case event.StateEncryption:
		return "room encryption enabled", "", ""
	default:
		if evt.Unsigned.RedactedBecause != nil {
			return "<redacted>", "", ""
		}
		return fmt.Sprintf("<%s>", evt.Type.Type), "", ""
	}
}

// describeMedia renders a media event and, when a download directory is
// configured, fetches and decrypts the payload.
func (d *Dispatcher) describeMedia(ctx context.Context, evt *event.Event, content *event.MessageEventContent) (body, msgType, savedAs string) {
	msgType = string(content.MsgType)

	uri, file, err := mediaSource(content)
	if err != nil {
		return fmt.Sprintf("%s <%v>", content.Body, err), msgType, ""
	}

	body = fmt.Sprintf("%s %s", content.Body, d.httpURL(uri))
	if d.opts.DownloadDir == "" {
		return body, msgType, ""
	}

	name := attachment.DeriveFilename(d.opts.FilenameMode, content.Body, evt.ID, time.UnixMilli(evt.Timestamp))
	dest, err := attachment.Download(ctx, d.client, uri, file, d.opts.DownloadDir, name, time.UnixMilli(evt.Timestamp))
	if err != nil {
		d.log.Error("media download failed", "event", evt.ID.String(), "error", err)
		return fmt.Sprintf("%s <download failed: %v>", body, err), msgType, ""
	}
	return body, msgType, dest
}

// mediaSource extracts the content URI and optional envelope of a media
// message. Encrypted media carries the envelope under "file".
func mediaSource(content *event.MessageEventContent) (id.ContentURI, *event.EncryptedFileInfo, error) {
	if content.File != nil {
		uri, err := content.File.URL.Parse()
		if err != nil {
			return id.ContentURI{}, nil, fmt.Errorf("bad encrypted media URL: %w", err)
		}
		return uri, content.File, nil
	}
	uri, err := content.URL.Parse()
	if err != nil {
		return id.ContentURI{}, nil, fmt.Errorf("bad media URL: %w", err)
	}
	return uri, nil, nil
}

// httpURL derives the plain HTTP download URL for an mxc URI.
func (d *Dispatcher) httpURL(uri id.ContentURI) string {
	base := strings.TrimSuffix(d.opts.HomeserverURL, "/")
	return fmt.Sprintf("%s/_matrix/media/v3/download/%s/%s", base, uri.Homeserver, uri.FileID)
}

// emit composes the display line and hands it to the formatter. Body lines
// after the first are prefixed so multi-line messages cannot forge header
// columns.
func (d *Dispatcher) emit(ctx context.Context, evt *event.Event, body, msgType, savedAs string) {
	ts := time.UnixMilli(evt.Timestamp).UTC()
	roomDisplay := d.roomDisplayName(ctx, evt.RoomID)
	senderDisplay := d.senderDisplayName(ctx, evt.Sender)

	cols := []string{
		fmt.Sprintf("%s [%s]", roomDisplay, evt.RoomID),
		fmt.Sprintf("%s [%s]", senderDisplay, evt.Sender),
		ts.Format(time.RFC3339),
	}
	if d.opts.ShowEventID {
		cols = append(cols, fmt.Sprintf("[%s]", evt.ID))
	}
	cols = append(cols, prefixLines(body, d.fmt.Separator()))

	extra := map[string]any{
		"room_display_name": roomDisplay,
		"event_datetime":    ts.Format(time.RFC3339),
	}
	if savedAs != "" {
		extra["saved_as"] = savedAs
	}

	d.fmt.Emit(output.Record{
		Columns: cols,
		Data: eventDTO{
			RoomID:   evt.RoomID.String(),
			Sender:   evt.Sender.String(),
			EventID:  evt.ID.String(),
			Type:     evt.Type.Type,
			MsgType:  msgType,
			Body:     body,
			OriginTS: evt.Timestamp,
			SavedAs:  savedAs,
		},
		Extra:     extra,
		Transport: evt,
		Spec:      evt,
	})
}

// prefixLines indents every line after the first with the column separator
// so continuation lines are visually bound to the event.
func prefixLines(body, sep string) string {
	lines := strings.Split(body, "\n")
	if len(lines) == 1 {
		return body
	}
	for i := 1; i < len(lines); i++ {
		lines[i] = sep + lines[i]
	}
	return strings.Join(lines, "\n")
}

// roomDisplayName resolves and caches the m.room.name of a room, falling
// back to the room id.
func (d *Dispatcher) roomDisplayName(ctx context.Context, roomID id.RoomID) string {
	d.mu.Lock()
	name, ok := d.roomNames[roomID]
	d.mu.Unlock()
	if ok {
		return name
	}

	var content event.RoomNameEventContent
	name = roomID.String()
	if err := d.client.StateEvent(ctx, roomID, event.StateRoomName, "", &content); err == nil && content.Name != "" {
		name = content.Name
	}
	d.mu.Lock()
	d.roomNames[roomID] = name
	d.mu.Unlock()
	return name
}

// senderDisplayName resolves and caches a user's display name, falling
// back to the user id.
func (d *Dispatcher) senderDisplayName(ctx context.Context, userID id.UserID) string {
	d.mu.Lock()
	name, ok := d.senderNames[userID]
	d.mu.Unlock()
	if ok {
		return name
	}

	name = userID.String()
	if resp, err := d.client.GetDisplayName(ctx, userID); err == nil && resp.DisplayName != "" {
		name = resp.DisplayName
	}
	d.mu.Lock()
	d.senderNames[userID] = name
	d.mu.Unlock()
	return name
}

// HandleInvite processes one invite-membership event according to the
// configured invite policy.
func (d *Dispatcher) HandleInvite(ctx context.Context, roomID id.RoomID, sender id.UserID) {
	policy := d.opts.Invites
	if policy == config.InviteIgnore {
		return
	}
	if policy == config.InviteList || policy == config.InviteListJoin {
		d.fmt.Emit(output.Record{
			Columns: []string{"invite", roomID.String(), sender.String()},
			Data: map[string]string{
				"action":  "invite",
				"room_id": roomID.String(),
				"sender":  sender.String(),
			},
		})
	}
	if policy == config.InviteJoin || policy == config.InviteListJoin {
		if _, err := d.client.JoinRoom(ctx, roomID.String(), nil); err != nil {
			d.log.Error("auto-join failed", "room", roomID.String(), "error", err)
			return
		}
		d.log.Info("joined room from invite", "room", roomID.String(), "inviter", sender.String())
	}
}
