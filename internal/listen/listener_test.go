// ABOUTME: Tests for the once/tail/all listen modes and duplicate suppression
// ABOUTME: Uses a fake client serving canned sync and pagination responses

package listen

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

type recordingHandler struct {
	events  []id.EventID
	rooms   []id.RoomID
	invites []id.RoomID
}

func (h *recordingHandler) HandleEvent(_ context.Context, evt *event.Event) {
	h.events = append(h.events, evt.ID)
	h.rooms = append(h.rooms, evt.RoomID)
}

func (h *recordingHandler) HandleInvite(_ context.Context, roomID id.RoomID, _ id.UserID) {
	h.invites = append(h.invites, roomID)
}

// fakeListenClient serves a fixed newest-first timeline per room.
type fakeListenClient struct {
	sync        *mautrix.RespSync
	syncQueue   []*mautrix.RespSync // consumed before sync when non-empty
	sinces      []string
	timelines   map[id.RoomID][]*event.Event // newest first
	readMarkers map[id.RoomID]id.EventID
	failRooms   map[id.RoomID]bool
}

func (f *fakeListenClient) SyncRequest(_ context.Context, _ int, since, _ string, _ bool, _ event.Presence) (*mautrix.RespSync, error) {
	f.sinces = append(f.sinces, since)
	if len(f.syncQueue) > 0 {
		resp := f.syncQueue[0]
		f.syncQueue = f.syncQueue[1:]
		return resp, nil
	}
	if f.sync == nil {
		return &mautrix.RespSync{NextBatch: "head"}, nil
	}
	return f.sync, nil
}

func (f *fakeListenClient) Messages(_ context.Context, roomID id.RoomID, from, _ string, dir mautrix.Direction, _ *mautrix.FilterPart, limit int) (*mautrix.RespMessages, error) {
	if f.failRooms[roomID] {
		return nil, fmt.Errorf("request timed out")
	}
	timeline := f.timelines[roomID]
	if dir == mautrix.DirectionForward {
		// Nothing newer than the sync head in these tests.
		return &mautrix.RespMessages{}, nil
	}
	start := 0
	if from != "head" && from != "" {
		fmt.Sscanf(from, "cursor%d", &start)
	}
	end := start + limit
	if end > len(timeline) {
		end = len(timeline)
	}
	resp := &mautrix.RespMessages{Chunk: timeline[start:end]}
	if end < len(timeline) {
		resp.End = fmt.Sprintf("cursor%d", end)
	}
	return resp, nil
}

func (f *fakeListenClient) SetReadMarkers(_ context.Context, roomID id.RoomID, content any) error {
	if f.readMarkers == nil {
		f.readMarkers = map[id.RoomID]id.EventID{}
	}
	req, ok := content.(*mautrix.ReqSetReadMarkers)
	if !ok {
		return fmt.Errorf("unexpected read marker payload %T", content)
	}
	f.readMarkers[roomID] = req.Read
	return nil
}

// memTokenStore is an in-memory sync cursor store.
type memTokenStore struct {
	tokens map[id.UserID]string
}

func (s *memTokenStore) SaveNextBatch(_ context.Context, userID id.UserID, token string) error {
	if s.tokens == nil {
		s.tokens = map[id.UserID]string{}
	}
	s.tokens[userID] = token
	return nil
}

func (s *memTokenStore) LoadNextBatch(_ context.Context, userID id.UserID) (string, error) {
	return s.tokens[userID], nil
}

func makeEvent(n int, room id.RoomID) *event.Event {
	return &event.Event{
		ID:        id.EventID(fmt.Sprintf("$e%d:h", n)),
		Type:      event.EventMessage,
		RoomID:    room,
		Sender:    "@alice:h",
		Timestamp: time.Now().UnixMilli(),
		Content: event.Content{
			Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: fmt.Sprintf("msg %d", n)},
		},
	}
}

func newTestListener(client Client) (*Listener, *recordingHandler) {
	h := &recordingHandler{}
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return New(client, h, log), h
}

func TestOnce_DeliversAndAdvancesCursor(t *testing.T) {
	room := id.RoomID("!r:h")
	client := &fakeListenClient{
		sync: &mautrix.RespSync{NextBatch: "tok2"},
	}
	client.sync.Rooms.Join = map[id.RoomID]*mautrix.SyncJoinedRoom{
		room: {},
	}
	client.sync.Rooms.Join[room].Timeline.Events = []*event.Event{
		makeEvent(1, ""), makeEvent(2, ""),
	}

	l, h := newTestListener(client)
	next, err := l.Once(context.Background(), "tok1")
	require.NoError(t, err)
	assert.Equal(t, "tok2", next)
	assert.Equal(t, []id.EventID{"$e1:h", "$e2:h"}, h.events)
	// Room id is stamped onto events coming from the sync map.
	assert.Equal(t, []id.RoomID{room, room}, h.rooms)
}

func TestOnce_DuplicatesSuppressed(t *testing.T) {
	room := id.RoomID("!r:h")
	client := &fakeListenClient{sync: &mautrix.RespSync{NextBatch: "tok2"}}
	client.sync.Rooms.Join = map[id.RoomID]*mautrix.SyncJoinedRoom{room: {}}
	client.sync.Rooms.Join[room].Timeline.Events = []*event.Event{makeEvent(1, "")}

	l, h := newTestListener(client)
	_, err := l.Once(context.Background(), "")
	require.NoError(t, err)
	_, err = l.Once(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, h.events, 1, "the same event must not be delivered twice")
}

func TestOnceResume_PersistsCursorBetweenRuns(t *testing.T) {
	user := id.UserID("@me:h")
	room := id.RoomID("!r:h")

	first := &mautrix.RespSync{NextBatch: "tok1"}
	first.Rooms.Join = map[id.RoomID]*mautrix.SyncJoinedRoom{room: {}}
	first.Rooms.Join[room].Timeline.Events = []*event.Event{makeEvent(1, "")}

	second := &mautrix.RespSync{NextBatch: "tok2"}
	second.Rooms.Join = map[id.RoomID]*mautrix.SyncJoinedRoom{room: {}}
	second.Rooms.Join[room].Timeline.Events = []*event.Event{makeEvent(2, "")}

	store := &memTokenStore{}

	// Two independent listeners model two consecutive program runs.
	clientA := &fakeListenClient{syncQueue: []*mautrix.RespSync{first}}
	lA, hA := newTestListener(clientA)
	require.NoError(t, lA.OnceResume(context.Background(), store, user))
	assert.Equal(t, []string{""}, clientA.sinces)
	assert.Equal(t, []id.EventID{"$e1:h"}, hA.events)

	clientB := &fakeListenClient{syncQueue: []*mautrix.RespSync{second}}
	lB, hB := newTestListener(clientB)
	require.NoError(t, lB.OnceResume(context.Background(), store, user))
	assert.Equal(t, []string{"tok1"}, clientB.sinces, "second run resumes from the stored cursor")
	assert.Equal(t, []id.EventID{"$e2:h"}, hB.events)
	assert.Equal(t, "tok2", store.tokens[user])
}

func TestTail_FewerEventsThanRequested(t *testing.T) {
	room := id.RoomID("!r:h")
	client := &fakeListenClient{
		timelines: map[id.RoomID][]*event.Event{
			room: {makeEvent(3, room), makeEvent(2, room), makeEvent(1, room)},
		},
	}

	l, h := newTestListener(client)
	require.NoError(t, l.Tail(context.Background(), []id.RoomID{room}, 10))

	// All three events, newest first.
	assert.Equal(t, []id.EventID{"$e3:h", "$e2:h", "$e1:h"}, h.events)
	// Read marker advanced to the newest dispatched event.
	assert.Equal(t, id.EventID("$e3:h"), client.readMarkers[room])
}

func TestTail_ExactCount(t *testing.T) {
	room := id.RoomID("!r:h")
	var timeline []*event.Event
	for n := 8; n >= 1; n-- {
		timeline = append(timeline, makeEvent(n, room))
	}
	client := &fakeListenClient{timelines: map[id.RoomID][]*event.Event{room: timeline}}

	l, h := newTestListener(client)
	require.NoError(t, l.Tail(context.Background(), []id.RoomID{room}, 3))
	assert.Equal(t, []id.EventID{"$e8:h", "$e7:h", "$e6:h"}, h.events)
}

func TestTail_FailingRoomDoesNotStopOthers(t *testing.T) {
	good := id.RoomID("!good:h")
	bad := id.RoomID("!bad:h")
	client := &fakeListenClient{
		timelines: map[id.RoomID][]*event.Event{good: {makeEvent(1, good)}},
		failRooms: map[id.RoomID]bool{bad: true},
	}

	l, h := newTestListener(client)
	require.NoError(t, l.Tail(context.Background(), []id.RoomID{bad, good}, 5))
	assert.Equal(t, []id.EventID{"$e1:h"}, h.events)
}

func TestAll_ChronologicalOrder(t *testing.T) {
	room := id.RoomID("!r:h")
	client := &fakeListenClient{
		timelines: map[id.RoomID][]*event.Event{
			room: {makeEvent(3, room), makeEvent(2, room), makeEvent(1, room)},
		},
	}

	l, h := newTestListener(client)
	require.NoError(t, l.All(context.Background(), []id.RoomID{room}))

	// Back-history replays oldest to newest.
	assert.Equal(t, []id.EventID{"$e1:h", "$e2:h", "$e3:h"}, h.events)
	assert.Equal(t, id.EventID("$e3:h"), client.readMarkers[room])
}

func TestAll_PagesThroughChunks(t *testing.T) {
	room := id.RoomID("!r:h")
	var timeline []*event.Event
	for n := 1200; n >= 1; n-- {
		timeline = append(timeline, makeEvent(n, room))
	}
	client := &fakeListenClient{timelines: map[id.RoomID][]*event.Event{room: timeline}}

	l, h := newTestListener(client)
	require.NoError(t, l.All(context.Background(), []id.RoomID{room}))
	require.Len(t, h.events, 1200)
	assert.Equal(t, id.EventID("$e1:h"), h.events[0])
	assert.Equal(t, id.EventID("$e1200:h"), h.events[1199])
}

func TestSeenCache(t *testing.T) {
	c := newSeenCache(time.Minute, 2)
	assert.False(t, c.CheckAndMark("$a"))
	assert.True(t, c.CheckAndMark("$a"))
	assert.False(t, c.CheckAndMark("$b"))
	// Capacity 2: inserting a third evicts the oldest.
	assert.False(t, c.CheckAndMark("$c"))
	assert.False(t, c.CheckAndMark("$a"), "evicted id is fresh again")
}
