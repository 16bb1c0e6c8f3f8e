// ABOUTME: The four listen modes over sync and paginated room history
// ABOUTME: Advances read markers once per pass; isolates per-room failures

package listen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Client is the slice of the Matrix client the listener needs.
type Client interface {
	SyncRequest(ctx context.Context, timeout int, since, filterID string, fullState bool, setPresence event.Presence) (*mautrix.RespSync, error)
	Messages(ctx context.Context, roomID id.RoomID, from, to string, dir mautrix.Direction, filter *mautrix.FilterPart, limit int) (*mautrix.RespMessages, error)
	SetReadMarkers(ctx context.Context, roomID id.RoomID, content any) error
}

// SyncTokenStore persists the cursor the once mode resumes from.
// mautrix.SyncStore satisfies it.
type SyncTokenStore interface {
	SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error
	LoadNextBatch(ctx context.Context, userID id.UserID) (string, error)
}

// Handler receives every fresh event. The dispatcher satisfies this.
type Handler interface {
	HandleEvent(ctx context.Context, evt *event.Event)
	HandleInvite(ctx context.Context, roomID id.RoomID, sender id.UserID)
}

const (
	// onceTimeout bounds the single sync of the once mode.
	onceTimeout = 10 * time.Second
	// foreverTimeout is the long-poll window of the forever mode.
	foreverTimeout = 30 * time.Second
	// defaultChunkLimit is the page size for room-history pagination.
	// Lower values work but are slower.
	defaultChunkLimit = 500
	// seenTTL and seenMax bound the duplicate-suppression cache.
	seenTTL = 10 * time.Minute
	seenMax = 100_000
)

// Listener drives one of the listen modes and feeds the handler. All
// callbacks run serially; per-room event order is preserved.
type Listener struct {
	client     Client
	handler    Handler
	log        *slog.Logger
	seen       *seenCache
	chunkLimit int
}

// New creates a Listener.
func New(client Client, handler Handler, log *slog.Logger) *Listener {
	return &Listener{
		client:     client,
		handler:    handler,
		log:        log,
		seen:       newSeenCache(seenTTL, seenMax),
		chunkLimit: defaultChunkLimit,
	}
}

// Once performs a single sync from the given cursor, delivers every fresh
// event, and returns the advanced cursor.
func (l *Listener) Once(ctx context.Context, since string) (string, error) {
	resp, err := l.client.SyncRequest(ctx, int(onceTimeout.Milliseconds()), since, "", false, "")
	if err != nil {
		return since, fmt.Errorf("sync: %w", err)
	}
	l.deliverSync(ctx, resp)
	return resp.NextBatch, nil
}

// OnceResume runs Once from the cursor persisted in the store and saves
// the advanced cursor, so consecutive runs never re-emit the events
// between them.
func (l *Listener) OnceResume(ctx context.Context, store SyncTokenStore, userID id.UserID) error {
	since, err := store.LoadNextBatch(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading sync cursor: %w", err)
	}
	next, err := l.Once(ctx, since)
	if err != nil {
		return err
	}
	if err := store.SaveNextBatch(ctx, userID, next); err != nil {
		return fmt.Errorf("saving sync cursor: %w", err)
	}
	return nil
}

// InviteScan performs one sync and routes only the pending invites,
// for runs that act on invites without listening.
func (l *Listener) InviteScan(ctx context.Context) error {
	resp, err := l.client.SyncRequest(ctx, int(onceTimeout.Milliseconds()), "", "", true, "")
	if err != nil {
		return fmt.Errorf("invite scan: %w", err)
	}
	l.routeInvites(ctx, resp)
	return nil
}

// deliverSync walks a sync response, preserving the server's chunk order
// within each room, and routes invites to the invite handler.
func (l *Listener) deliverSync(ctx context.Context, resp *mautrix.RespSync) {
	for roomID, room := range resp.Rooms.Join {
		for _, evt := range room.Timeline.Events {
			evt.RoomID = roomID
			l.deliver(ctx, evt)
		}
	}
	l.routeInvites(ctx, resp)
}

// routeInvites forwards the invite-membership events of a sync response.
func (l *Listener) routeInvites(ctx context.Context, resp *mautrix.RespSync) {
	for roomID, invited := range resp.Rooms.Invite {
		for _, evt := range invited.State.Events {
			content, ok := evt.Content.Parsed.(*event.MemberEventContent)
			if !ok {
				if err := evt.Content.ParseRaw(evt.Type); err != nil {
					continue
				}
				content, ok = evt.Content.Parsed.(*event.MemberEventContent)
				if !ok {
					continue
				}
			}
			if content.Membership == event.MembershipInvite {
				l.handler.HandleInvite(ctx, roomID, evt.Sender)
			}
		}
	}
}

// deliver hands one event to the handler unless it was already seen.
func (l *Listener) deliver(ctx context.Context, evt *event.Event) {
	if l.seen.CheckAndMark(evt.ID) {
		return
	}
	l.handler.HandleEvent(ctx, evt)
}

// Tail dispatches the last n timeline entries of each target room in
// newest-first order and advances the read marker to the newest one. A
// failing room is logged and the remaining rooms proceed.
func (l *Listener) Tail(ctx context.Context, rooms []id.RoomID, n int) error {
	token, err := l.syncToken(ctx)
	if err != nil {
		return err
	}
	for _, roomID := range rooms {
		if err := l.tailRoom(ctx, roomID, token, n); err != nil {
			l.log.Error("tail failed", "room", roomID.String(), "error", err)
		}
	}
	return nil
}

func (l *Listener) tailRoom(ctx context.Context, roomID id.RoomID, token string, n int) error {
	events, _, err := l.pageBackward(ctx, roomID, token, n)
	if err != nil {
		return err
	}
	// Backward pagination yields newest first, which is the tail order.
	var newest id.EventID
	for _, evt := range events {
		if newest == "" {
			newest = evt.ID
		}
		l.deliver(ctx, evt)
	}
	return l.advanceReadMarker(ctx, roomID, newest)
}

// All dispatches the complete history of each target room: back-history in
// chronological order first, then anything past the sync token.
func (l *Listener) All(ctx context.Context, rooms []id.RoomID) error {
	token, err := l.syncToken(ctx)
	if err != nil {
		return err
	}
	for _, roomID := range rooms {
		if err := l.allRoom(ctx, roomID, token); err != nil {
			l.log.Error("history fetch failed", "room", roomID.String(), "error", err)
		}
	}
	return nil
}

func (l *Listener) allRoom(ctx context.Context, roomID id.RoomID, token string) error {
	back, _, err := l.pageBackward(ctx, roomID, token, -1)
	if err != nil {
		return err
	}

	// Back-history arrives newest first; replay it chronologically.
	var last id.EventID
	for i := len(back) - 1; i >= 0; i-- {
		l.deliver(ctx, back[i])
		last = back[i].ID
	}

	// Forward from the sync token covers events that arrived since.
	from := token
	for from != "" {
		resp, err := l.client.Messages(ctx, roomID, from, "", mautrix.DirectionForward, nil, l.chunkLimit)
		if err != nil {
			return fmt.Errorf("paging forward: %w", err)
		}
		for _, evt := range resp.Chunk {
			evt.RoomID = roomID
			l.deliver(ctx, evt)
			last = evt.ID
		}
		if len(resp.Chunk) == 0 || resp.End == "" {
			break
		}
		from = resp.End
	}
	return l.advanceReadMarker(ctx, roomID, last)
}

// pageBackward collects up to max events (all of them when max < 0) going
// back from the given token. Events come out newest first.
func (l *Listener) pageBackward(ctx context.Context, roomID id.RoomID, token string, max int) ([]*event.Event, string, error) {
	var collected []*event.Event
	from := token
	for {
		limit := l.chunkLimit
		if max >= 0 && max-len(collected) < limit {
			limit = max - len(collected)
		}
		if limit <= 0 {
			break
		}
		resp, err := l.client.Messages(ctx, roomID, from, "", mautrix.DirectionBackward, nil, limit)
		if err != nil {
			return collected, from, fmt.Errorf("paging backward: %w", err)
		}
		for _, evt := range resp.Chunk {
			evt.RoomID = roomID
			collected = append(collected, evt)
		}
		if len(resp.Chunk) == 0 || resp.End == "" {
			break
		}
		from = resp.End
		if max >= 0 && len(collected) >= max {
			break
		}
	}
	return collected, from, nil
}

// syncToken performs the full-state sync that anchors tail and all modes,
// returning the head-of-timeline cursor.
func (l *Listener) syncToken(ctx context.Context) (string, error) {
	resp, err := l.client.SyncRequest(ctx, int(onceTimeout.Milliseconds()), "", "", true, "")
	if err != nil {
		return "", fmt.Errorf("initial sync: %w", err)
	}
	return resp.NextBatch, nil
}

// advanceReadMarker moves both the read and fully-read markers to the
// given event. Called at most once per pagination pass.
func (l *Listener) advanceReadMarker(ctx context.Context, roomID id.RoomID, eventID id.EventID) error {
	if eventID == "" {
		return nil
	}
	err := l.client.SetReadMarkers(ctx, roomID, &mautrix.ReqSetReadMarkers{
		Read:      eventID,
		FullyRead: eventID,
	})
	if err != nil {
		return fmt.Errorf("advancing read marker in %s: %w", roomID, err)
	}
	return nil
}

// Forever registers the handler on the client's syncer and long-polls
// until the context is cancelled. Decrypted events re-enter through the
// syncer, so encrypted rooms are transparent here.
func (l *Listener) Forever(ctx context.Context, client *mautrix.Client) error {
	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", client.Syncer)
	}

	// Skip everything that predates this run.
	syncer.OnSync(client.DontProcessOldEvents)

	handle := func(ctx context.Context, evt *event.Event) {
		l.deliver(ctx, evt)
	}
	syncer.OnEventType(event.EventMessage, handle)
	syncer.OnEventType(event.EventReaction, handle)
	syncer.OnEventType(event.EventRedaction, handle)
	syncer.OnEventType(event.EventEncrypted, handle)
	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		content, ok := evt.Content.Parsed.(*event.MemberEventContent)
		if ok && content.Membership == event.MembershipInvite &&
			id.UserID(evt.GetStateKey()) == client.UserID {
			l.handler.HandleInvite(ctx, evt.RoomID, evt.Sender)
			return
		}
		l.deliver(ctx, evt)
	})

	client.Client.Timeout = foreverTimeout + 30*time.Second
	err := client.SyncWithContext(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("sync loop: %w", err)
	}
	return nil
}
