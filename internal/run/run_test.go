// ABOUTME: Tests for the fixed phase plan and small pure helpers
// ABOUTME: Phase selection must depend on the options alone

package run

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"

	"github.com/solenoid-labs/mxcli/internal/attachment"
	"github.com/solenoid-labs/mxcli/internal/config"
	"github.com/solenoid-labs/mxcli/internal/output"
)

func newTestRunner(opts *config.Options) *Runner {
	formatter := output.NewFormatter(io.Discard, output.ModeText, " ", nil)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(opts, formatter, log, bytes.NewReader(nil), io.Discard)
}

func enabledPhases(r *Runner) []string {
	var names []string
	for _, ph := range r.plan() {
		if ph.enabled {
			names = append(names, ph.name)
		}
	}
	return names
}

func TestPlan_BareInvocationIsImplicitSend(t *testing.T) {
	r := newTestRunner(&config.Options{})
	assert.Equal(t, []string{"send"}, enabledPhases(r))
}

func TestPlan_FixedOrder(t *testing.T) {
	r := newTestRunner(&config.Options{
		Verify:         true,
		RoomJoin:       []string{"#general"},
		SetDisplayName: "alice",
		Whoami:         true,
		Messages:       []string{"hi"},
		Listen:         config.ListenTail,
		Tail:           5,
		InvitePolicy:   config.InviteList,
		Logout:         "me",
	})
	assert.Equal(t,
		[]string{"verify", "room", "set", "get", "send", "invites", "listen", "logout"},
		enabledPhases(r))
}

func TestPlan_ExplicitActionDisablesImplicitSend(t *testing.T) {
	r := newTestRunner(&config.Options{Whoami: true})
	assert.Equal(t, []string{"get"}, enabledPhases(r))
}

func TestPlan_ListenOnceHandlesInvitesItself(t *testing.T) {
	r := newTestRunner(&config.Options{
		Listen:       config.ListenOnce,
		InvitePolicy: config.InviteJoin,
	})
	assert.Equal(t, []string{"listen"}, enabledPhases(r))

	r = newTestRunner(&config.Options{
		Listen:       config.ListenForever,
		InvitePolicy: config.InviteJoin,
	})
	assert.Equal(t, []string{"listen"}, enabledPhases(r))
}

func TestPlan_InviteScanWithoutListen(t *testing.T) {
	r := newTestRunner(&config.Options{
		Messages:     []string{"hi"},
		InvitePolicy: config.InviteListJoin,
	})
	assert.Equal(t, []string{"send", "invites"}, enabledPhases(r))
}

func TestFail_CountsErrors(t *testing.T) {
	r := newTestRunner(&config.Options{})
	require.Zero(t, r.errs)
	r.fail("one", assert.AnError)
	r.fail("two", assert.AnError)
	assert.Equal(t, 2, r.errs)
}

func TestStdinIsTerminal_NonFileReader(t *testing.T) {
	r := newTestRunner(&config.Options{})
	assert.False(t, r.stdinIsTerminal())
}

func TestDirectDownloadPolicy(t *testing.T) {
	// Downloads addressed by mxc URI carry no event id, so the eventid
	// policy falls back to the source name instead of an empty stem.
	assert.Equal(t, config.FilenameSource, directDownloadPolicy(config.FilenameEventID))
	assert.Equal(t, config.FilenameClean, directDownloadPolicy(config.FilenameClean))
	assert.Equal(t, config.FilenameTime, directDownloadPolicy(config.FilenameTime))
	assert.Equal(t, config.FilenameSource, directDownloadPolicy(config.FilenameSource))
}

func TestRoomStateRecord_NoSchemaPayload(t *testing.T) {
	state := mautrix.RoomStateMap{
		event.StateRoomName: {
			"": {Type: event.StateRoomName},
		},
	}
	rec := roomStateRecord("!r:h", state)
	assert.Nil(t, rec.Spec, "state records carry no schema payload")
	data, ok := rec.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "room-get-state", data["action"])
	byType, ok := data["state"].(map[string]map[string]*event.Event)
	require.True(t, ok)
	assert.Contains(t, byType, "m.room.name")
}

func TestAliasLocalpart(t *testing.T) {
	assert.Equal(t, "general", aliasLocalpart("#general:example.org"))
	assert.Equal(t, "general", aliasLocalpart("#general"))
	assert.Equal(t, "general", aliasLocalpart("general"))
}

func TestUploadEnvelope(t *testing.T) {
	plain := &attachment.Upload{}
	plain.URI.Homeserver = "example.org"
	plain.URI.FileID = "abc"
	env, ok := uploadEnvelope(plain).(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "mxc://example.org/abc", env["url"])
}
