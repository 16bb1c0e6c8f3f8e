// ABOUTME: The set phase: profile, presence, uploads, admin deletes, REST, devices
// ABOUTME: Device deletion re-authenticates and refuses unverified TLS

package run

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/id"

	"github.com/solenoid-labs/mxcli/internal/attachment"
	"github.com/solenoid-labs/mxcli/internal/output"
)

// setPhase runs every requested set action in the fixed order: display
// name, device name, presence, upload, delete-mxc, delete-mxc-before,
// REST, avatar, import-keys, delete-device.
func (r *Runner) setPhase(ctx context.Context) error {
	o := r.opts
	if o.SetDisplayName != "" {
		r.setDisplayName(ctx, o.SetDisplayName)
	}
	if o.SetDeviceName != "" {
		r.setDeviceName(ctx, o.SetDeviceName)
	}
	if o.SetPresence != "" {
		r.setPresence(ctx, o.SetPresence)
	}
	for _, path := range o.Upload {
		r.upload(ctx, path)
	}
	for _, mxc := range o.DeleteMXC {
		r.deleteMXC(ctx, mxc)
	}
	for _, entry := range o.DeleteMXCBefore {
		r.deleteMXCBefore(ctx, entry)
	}
	if len(o.Rest) > 0 {
		if len(o.Rest)%3 != 0 {
			r.fail("rest", fmt.Errorf("--rest needs METHOD DATA URL triples, got %d arguments", len(o.Rest)))
		} else {
			for i := 0; i < len(o.Rest); i += 3 {
				r.rest(ctx, o.Rest[i], o.Rest[i+1], o.Rest[i+2])
			}
		}
	}
	if o.SetAvatar != "" {
		r.setAvatar(ctx, o.SetAvatar)
	}
	if o.ImportKeys != "" {
		r.importKeys(ctx, o.ImportKeys)
	}
	for _, device := range o.DeleteDevice {
		r.deleteDevice(ctx, device)
	}
	return nil
}

func (r *Runner) setDisplayName(ctx context.Context, name string) {
	if err := r.sess.Client.SetDisplayName(ctx, name); err != nil {
		r.fail("set display name", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"display-name-set", name},
		Data:    map[string]string{"action": "set-display-name", "display_name": name},
	})
}

func (r *Runner) setDeviceName(ctx context.Context, name string) {
	u := r.sess.Client.BuildClientURL("v3", "devices", r.sess.Client.DeviceID)
	body := map[string]string{"display_name": name}
	if _, err := r.sess.Client.MakeRequest(ctx, http.MethodPut, u, body, nil); err != nil {
		r.fail("set device name", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"device-name-set", r.sess.Creds.DeviceID, name},
		Data: map[string]string{
			"action":      "set-device-name",
			"device_id":   r.sess.Creds.DeviceID,
			"device_name": name,
		},
	})
}

func (r *Runner) setPresence(ctx context.Context, presence string) {
	switch presence {
	case "online", "offline", "unavailable":
	default:
		r.fail("set presence", fmt.Errorf("unknown presence %q (want online, offline, or unavailable)", presence))
		return
	}
	u := r.sess.Client.BuildClientURL("v3", "presence", r.sess.Client.UserID, "status")
	body := map[string]string{"presence": presence}
	if _, err := r.sess.Client.MakeRequest(ctx, http.MethodPut, u, body, nil); err != nil {
		r.fail("set presence", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"presence-set", presence},
		Data:    map[string]string{"action": "set-presence", "presence": presence},
	})
}

// upload pushes a file to the content repository and prints the media
// envelope, the only secret that can later decrypt the blob.
func (r *Runner) upload(ctx context.Context, path string) {
	up, err := attachment.UploadFile(ctx, r.sess.Client, path, r.opts.Plain)
	if err != nil {
		r.fail("upload", err)
		return
	}
	envelope := uploadEnvelope(up)
	raw, err := json.Marshal(envelope)
	if err != nil {
		r.fail("upload", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"uploaded", path, up.URI.String(), string(raw)},
		Data: map[string]any{
			"action":   "upload",
			"file":     path,
			"mxc":      up.URI.String(),
			"envelope": envelope,
		},
	})
}

// uploadEnvelope picks the decryption envelope, or the bare URL record
// for plain uploads.
func uploadEnvelope(up *attachment.Upload) any {
	if up.File != nil {
		return up.File
	}
	return map[string]string{"url": string(up.URI.CUString())}
}

func (r *Runner) deleteMXC(ctx context.Context, mxc string) {
	uri, err := id.ParseContentURI(mxc)
	if err != nil {
		r.fail("delete mxc", err)
		return
	}
	body, err := r.admin.DeleteMedia(ctx, uri)
	if err != nil {
		r.fail("delete mxc", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"mxc-deleted", mxc},
		Data: map[string]string{
			"action":   "delete-mxc",
			"mxc":      mxc,
			"response": strings.TrimSpace(string(body)),
		},
	})
}

// deleteMXCBefore handles "TIMESTAMP SIZE" pairs: purge uploads older
// than the millisecond timestamp and larger than size bytes.
func (r *Runner) deleteMXCBefore(ctx context.Context, entry string) {
	fields := strings.Fields(entry)
	if len(fields) != 2 {
		r.fail("delete mxc before", fmt.Errorf("want \"TIMESTAMP SIZE\", got %q", entry))
		return
	}
	beforeTS, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		r.fail("delete mxc before", fmt.Errorf("bad timestamp %q: %w", fields[0], err))
		return
	}
	sizeGT, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		r.fail("delete mxc before", fmt.Errorf("bad size %q: %w", fields[1], err))
		return
	}
	body, err := r.admin.DeleteMediaBefore(ctx, beforeTS, sizeGT)
	if err != nil {
		r.fail("delete mxc before", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"mxc-deleted-before", fields[0], fields[1]},
		Data: map[string]any{
			"action":    "delete-mxc-before",
			"before_ts": beforeTS,
			"size_gt":   sizeGT,
			"response":  strings.TrimSpace(string(body)),
		},
	})
}

// rest is the generic escape hatch; the response body is printed
// verbatim, whatever the server sent.
func (r *Runner) rest(ctx context.Context, method, data, rawURL string) {
	body, err := r.admin.Rest(ctx, method, data, rawURL)
	if err != nil {
		r.fail("rest", err)
		return
	}
	r.fmt.Plain(strings.TrimSpace(string(body)))
}

func (r *Runner) setAvatar(ctx context.Context, mxc string) {
	uri, err := id.ParseContentURI(mxc)
	if err != nil {
		r.fail("set avatar", err)
		return
	}
	if err := r.sess.Client.SetAvatarURL(ctx, uri); err != nil {
		r.fail("set avatar", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"avatar-set", mxc},
		Data:    map[string]string{"action": "set-avatar", "mxc": mxc},
	})
}

// importKeys handles a "FILE PASSPHRASE" pair.
func (r *Runner) importKeys(ctx context.Context, entry string) {
	file, passphrase, ok := strings.Cut(entry, " ")
	if !ok {
		r.fail("import keys", fmt.Errorf("want \"FILE PASSPHRASE\", got %q", entry))
		return
	}
	imported, total, err := r.sess.ImportKeys(ctx, file, passphrase)
	if err != nil {
		r.fail("import keys", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"keys-imported", fmt.Sprintf("%d/%d", imported, total), file},
		Data: map[string]any{
			"action":   "import-keys",
			"file":     file,
			"imported": imported,
			"total":    total,
		},
	})
}

// deleteDevice removes one device, re-authenticating with the account
// password. The password would cross the wire, so an unverified TLS
// connection is refused.
func (r *Runner) deleteDevice(ctx context.Context, device string) {
	if r.opts.TLSSkipVerify {
		r.fail("delete device", fmt.Errorf("refusing to send a password over an unverified TLS connection"))
		return
	}
	password := r.opts.Password
	if password == "" {
		var err error
		if password, err = r.promptPassword(); err != nil {
			r.fail("delete device", err)
			return
		}
	}
	body := map[string]any{
		"auth": map[string]any{
			"type": "m.login.password",
			"identifier": map[string]string{
				"type": "m.id.user",
				"user": r.sess.Creds.UserID,
			},
			"password": password,
		},
	}
	u := r.sess.Client.BuildClientURL("v3", "devices", id.DeviceID(device))
	if _, err := r.sess.Client.MakeRequest(ctx, http.MethodDelete, u, body, nil); err != nil {
		r.fail("delete device", err)
		return
	}
	r.fmt.Emit(output.Record{
		Columns: []string{"device-deleted", device},
		Data:    map[string]string{"action": "delete-device", "device_id": device},
	})
}
