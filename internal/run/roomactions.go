// ABOUTME: The room phase: create, membership, redaction, and alias actions
// ABOUTME: Items fail independently; the phase continues past a failed item

package run

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/solenoid-labs/mxcli/internal/addr"
	"github.com/solenoid-labs/mxcli/internal/output"
)

// roomPhase runs every requested room action in the fixed order:
// create, dm-create, join, leave, forget, invite, ban, unban, kick,
// redact, set-alias, delete-alias, then the room get actions.
func (r *Runner) roomPhase(ctx context.Context) error {
	o := r.opts
	for _, alias := range o.RoomCreate {
		r.roomCreate(ctx, alias)
	}
	for _, user := range o.RoomDMCreate {
		r.dmCreate(ctx, user)
	}
	for _, room := range o.RoomJoin {
		r.roomJoin(ctx, room)
	}
	for _, room := range o.RoomLeave {
		r.roomMembershipChange(ctx, room, "left", func(roomID id.RoomID) error {
			_, err := r.sess.Client.LeaveRoom(ctx, roomID)
			return err
		})
	}
	for _, room := range o.RoomForget {
		r.roomMembershipChange(ctx, room, "forgot", func(roomID id.RoomID) error {
			_, err := r.sess.Client.ForgetRoom(ctx, roomID)
			return err
		})
	}

	if len(o.RoomInvite) > 0 || len(o.RoomBan) > 0 || len(o.RoomUnban) > 0 ||
		len(o.RoomKick) > 0 || len(o.RoomRedact) > 0 {
		targets, err := r.ensureTargets(ctx)
		if err != nil {
			return err
		}
		r.userActions(ctx, targets, o.RoomInvite, "invited", func(roomID id.RoomID, userID id.UserID) error {
			_, err := r.sess.Client.InviteUser(ctx, roomID, &mautrix.ReqInviteUser{UserID: userID})
			return err
		})
		r.userActions(ctx, targets, o.RoomBan, "banned", func(roomID id.RoomID, userID id.UserID) error {
			_, err := r.sess.Client.BanUser(ctx, roomID, &mautrix.ReqBanUser{UserID: userID})
			return err
		})
		r.userActions(ctx, targets, o.RoomUnban, "unbanned", func(roomID id.RoomID, userID id.UserID) error {
			_, err := r.sess.Client.UnbanUser(ctx, roomID, &mautrix.ReqUnbanUser{UserID: userID})
			return err
		})
		r.userActions(ctx, targets, o.RoomKick, "kicked", func(roomID id.RoomID, userID id.UserID) error {
			_, err := r.sess.Client.KickUser(ctx, roomID, &mautrix.ReqKickUser{UserID: userID})
			return err
		})
		for _, eventID := range o.RoomRedact {
			r.redact(ctx, targets, id.EventID(eventID))
		}
	}

	for _, entry := range o.RoomSetAlias {
		r.setAlias(ctx, entry)
	}
	for _, alias := range o.RoomDeleteAlias {
		r.deleteAlias(ctx, alias)
	}
	for _, alias := range o.RoomResolveAlias {
		r.resolveAlias(ctx, alias)
	}
	for _, room := range o.RoomGetVisibility {
		r.roomVisibility(ctx, room)
	}
	for _, room := range o.RoomGetState {
		r.roomState(ctx, room)
	}
	return nil
}

func (r *Runner) roomCreate(ctx context.Context, alias string) {
	req := &mautrix.ReqCreateRoom{
		RoomAliasName: aliasLocalpart(alias),
		Name:          r.opts.RoomCreateName,
		Topic:         r.opts.RoomCreateTopic,
	}
	resp, err := r.sess.Client.CreateRoom(ctx, req)
	if err != nil {
		r.fail("room create", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"created", alias, resp.RoomID.String()},
		Data: map[string]string{
			"action":  "room-create",
			"alias":   alias,
			"room_id": resp.RoomID.String(),
		},
		Transport: resp,
	})
}

func (r *Runner) dmCreate(ctx context.Context, user string) {
	userID, err := addr.NormalizeUser(user, r.domain)
	if err != nil {
		r.fail("dm create", err)
		return
	}
	resp, err := r.sess.Client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Preset:   "trusted_private_chat",
		Invite:   []id.UserID{userID},
		IsDirect: true,
	})
	if err != nil {
		r.fail("dm create", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"dm-created", userID.String(), resp.RoomID.String()},
		Data: map[string]string{
			"action":  "room-dm-create",
			"user_id": userID.String(),
			"room_id": resp.RoomID.String(),
		},
		Transport: resp,
	})
}

func (r *Runner) roomJoin(ctx context.Context, room string) {
	// Join accepts aliases directly, so normalisation is enough.
	full, _, err := addr.NormalizeRoom(room, r.domain)
	if err != nil {
		r.fail("room join", err)
		return
	}
	resp, err := r.sess.Client.JoinRoom(ctx, full, nil)
	if err != nil {
		r.fail("room join", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"joined", resp.RoomID.String()},
		Data: map[string]string{
			"action":  "room-join",
			"room_id": resp.RoomID.String(),
		},
		Transport: resp,
	})
}

func (r *Runner) roomMembershipChange(ctx context.Context, room, verb string, apply func(id.RoomID) error) {
	roomID, err := addr.ResolveRoom(ctx, r.sess.Client, room, r.domain)
	if err != nil {
		r.fail("room "+verb, err)
		return
	}
	if err := apply(roomID); err != nil {
		r.fail("room "+verb, err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{verb, roomID.String()},
		Data: map[string]string{
			"action":  "room-" + verb,
			"room_id": roomID.String(),
		},
	})
}

// userActions applies one membership operation for each user in every
// target room.
func (r *Runner) userActions(ctx context.Context, targets []id.RoomID, users []string, verb string, apply func(id.RoomID, id.UserID) error) {
	for _, user := range users {
		userID, err := addr.NormalizeUser(user, r.domain)
		if err != nil {
			r.fail(verb, err)
			continue
		}
		for _, roomID := range targets {
			if err := apply(roomID, userID); err != nil {
				r.fail(verb, fmt.Errorf("%s in %s: %w", userID, roomID, err))
				continue
			}
			r.fmt.Emit(output.Record{
				Columns: []string{verb, userID.String(), roomID.String()},
				Data: map[string]string{
					"action":  verb,
					"user_id": userID.String(),
					"room_id": roomID.String(),
				},
			})
		}
	}
}

func (r *Runner) redact(ctx context.Context, targets []id.RoomID, eventID id.EventID) {
	for _, roomID := range targets {
		resp, err := r.sess.Client.RedactEvent(ctx, roomID, eventID)
		if err != nil {
			r.fail("redact", fmt.Errorf("%s in %s: %w", eventID, roomID, err))
			continue
		}
		r.fmt.Emit(output.Record{
			Columns: []string{"redacted", eventID.String(), roomID.String()},
			Data: map[string]string{
				"action":            "room-redact",
				"redacts":           eventID.String(),
				"room_id":           roomID.String(),
				"redaction_eventid": resp.EventID.String(),
			},
			Transport: resp,
		})
	}
}

// setAlias handles "ALIAS ROOM" pairs; with only an alias given, the
// first target room is used.
func (r *Runner) setAlias(ctx context.Context, entry string) {
	fields := strings.Fields(entry)
	if len(fields) == 0 || len(fields) > 2 {
		r.fail("set alias", fmt.Errorf("want \"ALIAS [ROOM]\", got %q", entry))
		return
	}
	full, _, err := addr.NormalizeRoom(ensureAliasSigil(fields[0]), r.domain)
	if err != nil {
		r.fail("set alias", err)
		return
	}
	var roomID id.RoomID
	if len(fields) == 2 {
		roomID, err = addr.ResolveRoom(ctx, r.sess.Client, fields[1], r.domain)
	} else {
		var targets []id.RoomID
		if targets, err = r.ensureTargets(ctx); err == nil {
			roomID = targets[0]
		}
	}
	if err != nil {
		r.fail("set alias", err)
		return
	}
	if _, err := r.sess.Client.CreateAlias(ctx, id.RoomAlias(full), roomID); err != nil {
		r.fail("set alias", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"alias-set", full, roomID.String()},
		Data: map[string]string{
			"action":  "room-set-alias",
			"alias":   full,
			"room_id": roomID.String(),
		},
	})
}

func (r *Runner) deleteAlias(ctx context.Context, alias string) {
	full, _, err := addr.NormalizeRoom(ensureAliasSigil(alias), r.domain)
	if err != nil {
		r.fail("delete alias", err)
		return
	}
	if _, err := r.sess.Client.DeleteAlias(ctx, id.RoomAlias(full)); err != nil {
		r.fail("delete alias", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"alias-deleted", full},
		Data: map[string]string{
			"action": "room-delete-alias",
			"alias":  full,
		},
	})
}

func (r *Runner) resolveAlias(ctx context.Context, alias string) {
	full, _, err := addr.NormalizeRoom(ensureAliasSigil(alias), r.domain)
	if err != nil {
		r.fail("resolve alias", err)
		return
	}
	resp, err := r.sess.Client.ResolveAlias(ctx, id.RoomAlias(full))
	if err != nil {
		r.fail("resolve alias", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"resolved", full, resp.RoomID.String()},
		Data: map[string]any{
			"action":  "room-resolve-alias",
			"alias":   full,
			"room_id": resp.RoomID.String(),
			"servers": resp.Servers,
		},
		Transport: resp,
	})
}

func (r *Runner) roomVisibility(ctx context.Context, room string) {
	roomID, err := addr.ResolveRoom(ctx, r.sess.Client, room, r.domain)
	if err != nil {
		r.fail("room visibility", err)
		return
	}
	var resp struct {
		Visibility string `json:"visibility"`
	}
	u := r.sess.Client.BuildClientURL("v3", "directory", "list", "room", roomID)
	if _, err := r.sess.Client.MakeRequest(ctx, http.MethodGet, u, nil, &resp); err != nil {
		r.fail("room visibility", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"visibility", roomID.String(), resp.Visibility},
		Data: map[string]string{
			"action":     "room-get-visibility",
			"room_id":    roomID.String(),
			"visibility": resp.Visibility,
		},
	})
}

func (r *Runner) roomState(ctx context.Context, room string) {
	roomID, err := addr.ResolveRoom(ctx, r.sess.Client, room, r.domain)
	if err != nil {
		r.fail("room state", err)
		return
	}
	state, err := r.sess.Client.State(ctx, roomID)
	if err != nil {
		r.fail("room state", err)
		return
	}
	r.fmt.Emit(roomStateRecord(roomID, state))
}

// roomStateRecord builds the emitted record for a room's full state. The
// schema payload stays empty: schema output is reserved for raw events
// received while listening.
func roomStateRecord(roomID id.RoomID, state mautrix.RoomStateMap) output.Record {
	// Re-key by the event type string so the map serialises predictably.
	byType := make(map[string]map[string]*event.Event, len(state))
	for evtType, events := range state {
		byType[evtType.Type] = events
	}
	return output.Record{
		Columns: []string{"state", roomID.String(), fmt.Sprintf("%d event types", len(byType))},
		Data: map[string]any{
			"action":  "room-get-state",
			"room_id": roomID.String(),
			"state":   byType,
		},
	}
}

// aliasLocalpart reduces any alias spelling to the bare localpart the
// create-room call expects.
func aliasLocalpart(alias string) string {
	alias = strings.TrimPrefix(alias, "#")
	if i := strings.Index(alias, ":"); i >= 0 {
		alias = alias[:i]
	}
	return alias
}

// ensureAliasSigil makes bare alias labels classifiable as aliases.
func ensureAliasSigil(alias string) string {
	if strings.HasPrefix(alias, "#") || strings.HasPrefix(alias, "!") {
		return alias
	}
	return "#" + alias
}
