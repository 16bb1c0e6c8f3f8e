// ABOUTME: Direct-message room discovery for user destinations
// ABOUTME: Consults m.direct account data first, then scans two-member rooms

package addr

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// ErrNoDMRoom is returned when no direct-message room exists with a user.
var ErrNoDMRoom = fmt.Errorf("no direct-message room found")

// RoomFinder is the slice of the Matrix client needed for room discovery.
type RoomFinder interface {
	GetAccountData(ctx context.Context, name string, output any) error
	JoinedRooms(ctx context.Context) (*mautrix.RespJoinedRooms, error)
	JoinedMembers(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error)
}

// AliasResolver is the slice of the Matrix client needed to resolve aliases.
type AliasResolver interface {
	ResolveAlias(ctx context.Context, alias id.RoomAlias) (*mautrix.RespAliasResolve, error)
}

// ResolveRoom normalises a room address and resolves aliases against the
// server, yielding a usable room id. Resolution is idempotent: feeding a
// resolved id back in returns the same id.
func ResolveRoom(ctx context.Context, client AliasResolver, s, domain string) (id.RoomID, error) {
	full, kind, err := NormalizeRoom(s, domain)
	if err != nil {
		return "", err
	}
	if kind == KindRoomID {
		return id.RoomID(full), nil
	}
	resp, err := client.ResolveAlias(ctx, id.RoomAlias(full))
	if err != nil {
		return "", fmt.Errorf("resolving alias %s: %w", full, err)
	}
	return resp.RoomID, nil
}

// FindDMRoom locates a direct-message room shared with partner. The m.direct
// account data is authoritative when present; otherwise any joined room whose
// membership is exactly {self, partner} qualifies.
func FindDMRoom(ctx context.Context, client RoomFinder, self, partner id.UserID) (id.RoomID, error) {
	var direct map[id.UserID][]id.RoomID
	if err := client.GetAccountData(ctx, "m.direct", &direct); err == nil {
		if rooms := direct[partner]; len(rooms) > 0 {
			return rooms[0], nil
		}
	}

	joined, err := client.JoinedRooms(ctx)
	if err != nil {
		return "", fmt.Errorf("listing joined rooms: %w", err)
	}
	for _, roomID := range joined.JoinedRooms {
		members, err := client.JoinedMembers(ctx, roomID)
		if err != nil {
			continue
		}
		if len(members.Joined) != 2 {
			continue
		}
		_, hasSelf := members.Joined[self]
		_, hasPartner := members.Joined[partner]
		if hasSelf && hasPartner {
			return roomID, nil
		}
	}
	return "", fmt.Errorf("%w with %s", ErrNoDMRoom, partner)
}
