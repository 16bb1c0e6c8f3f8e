// ABOUTME: The get phase: profile, media, device, discovery, and key queries
// ABOUTME: Results are emitted one record per item in every output mode

package run

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/solenoid-labs/mxcli/internal/addr"
	"github.com/solenoid-labs/mxcli/internal/attachment"
	"github.com/solenoid-labs/mxcli/internal/config"
	"github.com/solenoid-labs/mxcli/internal/output"
)

// getPhase runs every requested get action.
func (r *Runner) getPhase(ctx context.Context) error {
	o := r.opts
	if o.GetDisplayName {
		r.getDisplayName(ctx)
	}
	if o.GetPresence {
		r.getPresence(ctx)
	}
	for _, entry := range o.Download {
		r.download(ctx, entry)
	}
	if o.JoinedRooms {
		r.joinedRooms(ctx)
	}
	for _, room := range o.JoinedMembers {
		r.joinedMembers(ctx, room)
	}
	for _, mxc := range o.MXCToHTTP {
		r.mxcToHTTP(mxc)
	}
	if o.Devices {
		r.devices(ctx)
	}
	if o.Discovery {
		r.discovery(ctx)
	}
	if o.LoginMethods {
		r.loginMethods(ctx)
	}
	if o.RepoConfig {
		r.repoConfig(ctx)
	}
	for _, user := range o.GetAvatar {
		r.getAvatar(ctx, user)
	}
	for _, user := range o.GetProfile {
		r.getProfile(ctx, user)
	}
	for _, room := range o.RoomInfo {
		r.roomInfo(ctx, room)
	}
	if o.ClientInfo {
		r.clientInfo()
	}
	for _, entry := range o.HasPermission {
		r.hasPermission(ctx, entry)
	}
	if o.ExportKeys != "" {
		r.exportKeys(ctx, o.ExportKeys)
	}
	if o.OpenID {
		r.openID(ctx)
	}
	if o.Whoami {
		r.whoami(ctx)
	}
	return nil
}

func (r *Runner) getDisplayName(ctx context.Context) {
	resp, err := r.sess.Client.GetDisplayName(ctx, id.UserID(r.sess.Creds.UserID))
	if err != nil {
		r.fail("get display name", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"display-name", resp.DisplayName},
		Data: map[string]string{
			"action":       "get-display-name",
			"user_id":      r.sess.Creds.UserID,
			"display_name": resp.DisplayName,
		},
		Transport: resp,
	})
}

func (r *Runner) getPresence(ctx context.Context) {
	var resp struct {
		Presence  string `json:"presence"`
		StatusMsg string `json:"status_msg"`
	}
	u := r.sess.Client.BuildClientURL("v3", "presence", r.sess.Client.UserID, "status")
	if _, err := r.sess.Client.MakeRequest(ctx, http.MethodGet, u, nil, &resp); err != nil {
		r.fail("get presence", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"presence", resp.Presence},
		Data: map[string]string{
			"action":     "get-presence",
			"presence":   resp.Presence,
			"status_msg": resp.StatusMsg,
		},
	})
}

// download accepts either a bare mxc URI (plain blob) or a JSON media
// envelope (encrypted blob; the hash is checked before decryption).
func (r *Runner) download(ctx context.Context, entry string) {
	var uri id.ContentURI
	var file *event.EncryptedFileInfo
	var err error

	if strings.HasPrefix(strings.TrimSpace(entry), "{") {
		file = &event.EncryptedFileInfo{}
		if err = json.Unmarshal([]byte(entry), file); err != nil {
			r.fail("download", fmt.Errorf("bad media envelope: %w", err))
			return
		}
		if uri, err = file.URL.Parse(); err != nil {
			r.fail("download", fmt.Errorf("bad envelope url: %w", err))
			return
		}
	} else if uri, err = id.ParseContentURI(entry); err != nil {
		r.fail("download", err)
		return
	}

	dir := r.opts.DownloadDir
	if dir == "" {
		dir = "."
	}
	name := attachment.DeriveFilename(directDownloadPolicy(r.opts.FilenameMode), uri.FileID, "", time.Now())
	dest, err := attachment.Download(ctx, r.sess.Client, uri, file, dir, name, time.Time{})
	if err != nil {
		r.fail("download", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"downloaded", uri.String(), dest},
		Data: map[string]string{
			"action":   "download",
			"mxc":      uri.String(),
			"saved_as": dest,
		},
	})
}

// directDownloadPolicy maps the filename policy for downloads that have
// no originating event. The eventid policy would derive an empty stem
// there, so it falls back to the source name (the mxc file id).
func directDownloadPolicy(p config.FilenamePolicy) config.FilenamePolicy {
	if p == config.FilenameEventID {
		return config.FilenameSource
	}
	return p
}

func (r *Runner) joinedRooms(ctx context.Context) {
	resp, err := r.sess.Client.JoinedRooms(ctx)
	if err != nil {
		r.fail("joined rooms", err)
		return
	}
	for _, roomID := range resp.JoinedRooms {
		r.fmt.Emit(output.Record{
			Columns: []string{"joined-room", roomID.String()},
			Data: map[string]string{
				"action":  "joined-rooms",
				"room_id": roomID.String(),
			},
		})
	}
}

func (r *Runner) joinedMembers(ctx context.Context, room string) {
	roomID, err := addr.ResolveRoom(ctx, r.sess.Client, room, r.domain)
	if err != nil {
		r.fail("joined members", err)
		return
	}
	resp, err := r.sess.Client.JoinedMembers(ctx, roomID)
	if err != nil {
		r.fail("joined members", err)
		return
	}
	for userID, member := range resp.Joined {
		display := member.DisplayName
		r.fmt.Emit(output.Record{
			Columns: []string{"member", roomID.String(), userID.String(), display},
			Data: map[string]string{
				"action":       "joined-members",
				"room_id":      roomID.String(),
				"user_id":      userID.String(),
				"display_name": display,
			},
		})
	}
}

func (r *Runner) mxcToHTTP(mxc string) {
	uri, err := id.ParseContentURI(mxc)
	if err != nil {
		r.fail("mxc to http", err)
		return
	}
	httpURL := fmt.Sprintf("%s/_matrix/media/v3/download/%s/%s",
		strings.TrimSuffix(r.sess.Creds.Homeserver, "/"), uri.Homeserver, uri.FileID)
	r.fmt.Emit(output.Record{
		Columns: []string{"http-url", mxc, httpURL},
		Data: map[string]string{
			"action": "mxc-to-http",
			"mxc":    mxc,
			"http":   httpURL,
		},
	})
}

func (r *Runner) devices(ctx context.Context) {
	var resp struct {
		Devices []struct {
			DeviceID    string `json:"device_id"`
			DisplayName string `json:"display_name"`
			LastSeenIP  string `json:"last_seen_ip"`
			LastSeenTS  int64  `json:"last_seen_ts"`
		} `json:"devices"`
	}
	u := r.sess.Client.BuildClientURL("v3", "devices")
	if _, err := r.sess.Client.MakeRequest(ctx, http.MethodGet, u, nil, &resp); err != nil {
		r.fail("devices", err)
		return
	}
	for _, dev := range resp.Devices {
		lastSeen := ""
		if dev.LastSeenTS > 0 {
			lastSeen = time.UnixMilli(dev.LastSeenTS).UTC().Format(time.RFC3339)
		}
		r.fmt.Emit(output.Record{
			Columns: []string{"device", dev.DeviceID, dev.DisplayName, dev.LastSeenIP, lastSeen},
			Data: map[string]any{
				"action":       "devices",
				"device_id":    dev.DeviceID,
				"display_name": dev.DisplayName,
				"last_seen_ip": dev.LastSeenIP,
				"last_seen_ts": dev.LastSeenTS,
			},
		})
	}
}

func (r *Runner) discovery(ctx context.Context) {
	wellKnown, err := mautrix.DiscoverClientAPI(ctx, r.domain)
	if err != nil {
		r.fail("discovery", err)
		return
	}
	if wellKnown == nil {
		r.fail("discovery", fmt.Errorf("no .well-known client information for %s", r.domain))
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"discovery", r.domain, wellKnown.Homeserver.BaseURL},
		Data: map[string]string{
			"action":     "discovery",
			"server":     r.domain,
			"homeserver": wellKnown.Homeserver.BaseURL,
		},
		Transport: wellKnown,
	})
}

func (r *Runner) loginMethods(ctx context.Context) {
	resp, err := r.sess.Client.GetLoginFlows(ctx)
	if err != nil {
		r.fail("login methods", err)
		return
	}
	types := make([]string, 0, len(resp.Flows))
	for _, flow := range resp.Flows {
		types = append(types, string(flow.Type))
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"login-methods", strings.Join(types, ",")},
		Data: map[string]any{
			"action": "login-methods",
			"flows":  types,
		},
		Transport: resp,
	})
}

func (r *Runner) repoConfig(ctx context.Context) {
	var resp map[string]any
	u := strings.TrimSuffix(r.sess.Creds.Homeserver, "/") + "/_matrix/media/v3/config"
	if _, err := r.sess.Client.MakeRequest(ctx, http.MethodGet, u, nil, &resp); err != nil {
		r.fail("repo config", err)
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		r.fail("repo config", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"repo-config", string(raw)},
		Data: map[string]any{
			"action": "repo-config",
			"config": resp,
		},
	})
}

// profileResponse is the raw shape of the profile endpoint.
type profileResponse struct {
	DisplayName string `json:"displayname"`
	AvatarURL   string `json:"avatar_url"`
}

func (r *Runner) fetchProfile(ctx context.Context, user string) (id.UserID, *profileResponse, error) {
	userID, err := addr.NormalizeUser(user, r.domain)
	if err != nil {
		return "", nil, err
	}
	var resp profileResponse
	u := r.sess.Client.BuildClientURL("v3", "profile", userID)
	if _, err := r.sess.Client.MakeRequest(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return "", nil, err
	}
	return userID, &resp, nil
}

func (r *Runner) getAvatar(ctx context.Context, user string) {
	userID, profile, err := r.fetchProfile(ctx, user)
	if err != nil {
		r.fail("get avatar", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"avatar", userID.String(), profile.AvatarURL},
		Data: map[string]string{
			"action":  "get-avatar",
			"user_id": userID.String(),
			"mxc":     profile.AvatarURL,
		},
	})
}

func (r *Runner) getProfile(ctx context.Context, user string) {
	userID, profile, err := r.fetchProfile(ctx, user)
	if err != nil {
		r.fail("get profile", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"profile", userID.String(), profile.DisplayName, profile.AvatarURL},
		Data: map[string]string{
			"action":       "get-profile",
			"user_id":      userID.String(),
			"display_name": profile.DisplayName,
			"avatar_url":   profile.AvatarURL,
		},
	})
}

func (r *Runner) roomInfo(ctx context.Context, room string) {
	roomID, err := addr.ResolveRoom(ctx, r.sess.Client, room, r.domain)
	if err != nil {
		r.fail("room info", err)
		return
	}

	var name event.RoomNameEventContent
	_ = r.sess.Client.StateEvent(ctx, roomID, event.StateRoomName, "", &name)
	var topic event.TopicEventContent
	_ = r.sess.Client.StateEvent(ctx, roomID, event.StateTopic, "", &topic)
	var alias event.CanonicalAliasEventContent
	_ = r.sess.Client.StateEvent(ctx, roomID, event.StateCanonicalAlias, "", &alias)
	encrypted := r.sess.Client.StateEvent(ctx, roomID, event.StateEncryption, "", &event.EncryptionEventContent{}) == nil

	r.fmt.Emit(output.Record{
		Columns: []string{"room", roomID.String(), name.Name, alias.Alias.String(), topic.Topic, fmt.Sprintf("encrypted=%t", encrypted)},
		Data: map[string]any{
			"action":          "room-info",
			"room_id":         roomID.String(),
			"name":            name.Name,
			"canonical_alias": alias.Alias.String(),
			"topic":           topic.Topic,
			"encrypted":       encrypted,
		},
	})
}

func (r *Runner) clientInfo() {
	r.fmt.Emit(output.Record{
		Columns: []string{"client", r.sess.Creds.Homeserver, r.sess.Creds.UserID, r.sess.Creds.DeviceID},
		Data: map[string]string{
			"action":       "client-info",
			"homeserver":   r.sess.Creds.Homeserver,
			"user_id":      r.sess.Creds.UserID,
			"device_id":    r.sess.Creds.DeviceID,
			"default_room": r.sess.Creds.RoomID,
		},
	})
}

// hasPermission handles "ROOM KIND" pairs, where kind is one of ban,
// kick, redact, invite.
func (r *Runner) hasPermission(ctx context.Context, entry string) {
	fields := strings.Fields(entry)
	if len(fields) != 2 {
		r.fail("has permission", fmt.Errorf("want \"ROOM KIND\", got %q", entry))
		return
	}
	roomID, err := addr.ResolveRoom(ctx, r.sess.Client, fields[0], r.domain)
	if err != nil {
		r.fail("has permission", err)
		return
	}
	var levels event.PowerLevelsEventContent
	if err := r.sess.Client.StateEvent(ctx, roomID, event.StatePowerLevels, "", &levels); err != nil {
		r.fail("has permission", fmt.Errorf("power levels of %s: %w", roomID, err))
		return
	}

	var required int
	switch fields[1] {
	case "ban":
		required = levels.Ban()
	case "kick":
		required = levels.Kick()
	case "redact":
		required = levels.Redact()
	case "invite":
		required = levels.Invite()
	default:
		r.fail("has permission", fmt.Errorf("unknown permission kind %q", fields[1]))
		return
	}
	own := levels.GetUserLevel(id.UserID(r.sess.Creds.UserID))
	allowed := own >= required

	r.fmt.Emit(output.Record{
		Columns: []string{"permission", roomID.String(), fields[1], fmt.Sprintf("%t", allowed)},
		Data: map[string]any{
			"action":   "has-permission",
			"room_id":  roomID.String(),
			"kind":     fields[1],
			"allowed":  allowed,
			"own":      own,
			"required": required,
		},
	})
}

// exportKeys handles a "FILE PASSPHRASE" pair.
func (r *Runner) exportKeys(ctx context.Context, entry string) {
	file, passphrase, ok := strings.Cut(entry, " ")
	if !ok {
		r.fail("export keys", fmt.Errorf("want \"FILE PASSPHRASE\", got %q", entry))
		return
	}
	count, err := r.sess.ExportKeys(ctx, file, passphrase)
	if err != nil {
		r.fail("export keys", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"keys-exported", fmt.Sprintf("%d", count), file},
		Data: map[string]any{
			"action":   "export-keys",
			"file":     file,
			"sessions": count,
		},
	})
}

func (r *Runner) openID(ctx context.Context) {
	var resp map[string]any
	u := r.sess.Client.BuildClientURL("v3", "user", r.sess.Client.UserID, "openid", "request_token")
	if _, err := r.sess.Client.MakeRequest(ctx, http.MethodPost, u, struct{}{}, &resp); err != nil {
		r.fail("openid", err)
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		r.fail("openid", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"openid", string(raw)},
		Data: map[string]any{
			"action": "openid",
			"token":  resp,
		},
	})
}

func (r *Runner) whoami(ctx context.Context) {
	resp, err := r.sess.Client.Whoami(ctx)
	if err != nil {
		r.fail("whoami", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"whoami", resp.UserID.String(), resp.DeviceID.String()},
		Data: map[string]string{
			"action":    "whoami",
			"user_id":   resp.UserID.String(),
			"device_id": resp.DeviceID.String(),
		},
		Transport: resp,
	})
}
