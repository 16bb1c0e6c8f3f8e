// ABOUTME: Tests for address classification, normalisation, and DM discovery
// ABOUTME: Covers the six address forms, rejection rules, and resolve idempotence

package addr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

func TestClassifyRoom(t *testing.T) {
	tests := []struct {
		in   string
		kind Kind
	}{
		{"!abc:example.org", KindRoomID},
		{"!abc", KindRoomID},
		{"#lobby:example.org", KindRoomAlias},
		{"#lobby", KindShortRoomAlias},
		{"lobby", KindShortRoomAlias},
	}
	for _, tt := range tests {
		kind, err := ClassifyRoom(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.kind, kind, tt.in)
	}
}

func TestClassifyRoom_Rejections(t *testing.T) {
	bad := []string{
		"",
		"two words",
		"a\tb",
		"[room]",
		"room{x}",
		"a:b:c",
		":leading",
		"lob#by",
		"@user:example.org",
	}
	for _, in := range bad {
		_, err := ClassifyRoom(in)
		assert.Error(t, err, "expected rejection of %q", in)
	}
}

func TestNormalizeRoom(t *testing.T) {
	tests := []struct {
		in, want string
		kind     Kind
	}{
		{"!abc:example.org", "!abc:example.org", KindRoomID},
		{"!abc", "!abc:example.org", KindRoomID},
		{"#lobby:other.org", "#lobby:other.org", KindRoomAlias},
		{"#lobby", "#lobby:example.org", KindRoomAlias},
		{"lobby", "#lobby:example.org", KindRoomAlias},
	}
	for _, tt := range tests {
		got, kind, err := NormalizeRoom(tt.in, "example.org")
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.kind, kind, tt.in)
	}
}

func TestNormalizeUser(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"@bob:example.org", "@bob:example.org"},
		{"@bob", "@bob:example.org"},
		{"bob", "@bob:example.org"},
	}
	for _, tt := range tests {
		got, err := NormalizeUser(tt.in, "example.org")
		require.NoError(t, err, tt.in)
		assert.Equal(t, id.UserID(tt.want), got, tt.in)
	}
}

func TestNormalizeUser_Idempotent(t *testing.T) {
	once, err := NormalizeUser("bob", "example.org")
	require.NoError(t, err)
	twice, err := NormalizeUser(string(once), "example.org")
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestNormalizeUser_Rejections(t *testing.T) {
	for _, in := range []string{"", "!room:x", "#alias:x", "a b", "a:b:c"} {
		_, err := NormalizeUser(in, "example.org")
		assert.Error(t, err, "expected rejection of %q", in)
	}
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "example.org", Domain(id.UserID("@bob:example.org")))
	assert.Equal(t, "", Domain(id.UserID("nonsense")))
}

// fakeResolver resolves every alias to a fixed room id.
type fakeResolver struct {
	resolved map[id.RoomAlias]id.RoomID
	calls    int
}

func (f *fakeResolver) ResolveAlias(_ context.Context, alias id.RoomAlias) (*mautrix.RespAliasResolve, error) {
	f.calls++
	roomID, ok := f.resolved[alias]
	if !ok {
		return nil, mautrix.MNotFound
	}
	return &mautrix.RespAliasResolve{RoomID: roomID}, nil
}

func TestResolveRoom_AliasAndIdempotence(t *testing.T) {
	ctx := context.Background()
	fake := &fakeResolver{resolved: map[id.RoomAlias]id.RoomID{
		"#lobby:example.org": "!abc:example.org",
	}}

	got, err := ResolveRoom(ctx, fake, "lobby", "example.org")
	require.NoError(t, err)
	assert.Equal(t, id.RoomID("!abc:example.org"), got)
	assert.Equal(t, 1, fake.calls)

	// Feeding the result back does not hit the server again.
	again, err := ResolveRoom(ctx, fake, string(got), "example.org")
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, 1, fake.calls)
}

// fakeFinder serves canned account data and membership maps.
type fakeFinder struct {
	direct  map[id.UserID][]id.RoomID
	rooms   []id.RoomID
	members map[id.RoomID][]id.UserID
}

func (f *fakeFinder) GetAccountData(_ context.Context, name string, output any) error {
	if name != "m.direct" || f.direct == nil {
		return mautrix.MNotFound
	}
	*(output.(*map[id.UserID][]id.RoomID)) = f.direct
	return nil
}

func (f *fakeFinder) JoinedRooms(_ context.Context) (*mautrix.RespJoinedRooms, error) {
	return &mautrix.RespJoinedRooms{JoinedRooms: f.rooms}, nil
}

func (f *fakeFinder) JoinedMembers(_ context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error) {
	resp := &mautrix.RespJoinedMembers{Joined: map[id.UserID]mautrix.JoinedMember{}}
	for _, u := range f.members[roomID] {
		resp.Joined[u] = mautrix.JoinedMember{}
	}
	return resp, nil
}

func TestFindDMRoom_AccountData(t *testing.T) {
	fake := &fakeFinder{direct: map[id.UserID][]id.RoomID{
		"@u1:h": {"!r1:h"},
	}}
	got, err := FindDMRoom(context.Background(), fake, "@me:h", "@u1:h")
	require.NoError(t, err)
	assert.Equal(t, id.RoomID("!r1:h"), got)
}

func TestFindDMRoom_TwoMemberScan(t *testing.T) {
	fake := &fakeFinder{
		rooms: []id.RoomID{"!r2:h", "!r1:h", "!r3:h"},
		members: map[id.RoomID][]id.UserID{
			"!r1:h": {"@me:h", "@u1:h"},
			"!r2:h": {"@me:h", "@u2:h", "@u3:h"},
			"!r3:h": {"@me:h", "@u1:h"},
		},
	}
	got, err := FindDMRoom(context.Background(), fake, "@me:h", "@u1:h")
	require.NoError(t, err)
	// Either two-member room satisfies the predicate; never the three-member one.
	assert.Contains(t, []id.RoomID{"!r1:h", "!r3:h"}, got)
	assert.NotEqual(t, id.RoomID("!r2:h"), got)
}

func TestFindDMRoom_NotFound(t *testing.T) {
	fake := &fakeFinder{
		rooms:   []id.RoomID{"!r2:h"},
		members: map[id.RoomID][]id.UserID{"!r2:h": {"@me:h", "@u2:h", "@u3:h"}},
	}
	_, err := FindDMRoom(context.Background(), fake, "@me:h", "@u9:h")
	assert.ErrorIs(t, err, ErrNoDMRoom)
}
