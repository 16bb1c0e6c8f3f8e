// ABOUTME: The invite-scan and listen phases wiring listener to dispatcher
// ABOUTME: Tail and all operate on the resolved target rooms

package run

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/id"

	"github.com/solenoid-labs/mxcli/internal/config"
	"github.com/solenoid-labs/mxcli/internal/dispatch"
	"github.com/solenoid-labs/mxcli/internal/listen"
)

func (r *Runner) newListener() *listen.Listener {
	dispatcher := dispatch.New(r.sess.Client, r.fmt, r.log, dispatch.Options{
		Decrypt:       r.sess.Crypto.Machine(),
		Self:          id.UserID(r.sess.Creds.UserID),
		ListenSelf:    r.opts.ListenSelf,
		DownloadDir:   r.opts.DownloadDir,
		FilenameMode:  r.opts.FilenameMode,
		ShowEventID:   r.opts.PrintEventID,
		Invites:       r.opts.InvitePolicy,
		HomeserverURL: r.sess.Creds.Homeserver,
	})
	return listen.New(r.sess.Client, dispatcher, r.log)
}

// invitePhase scans pending invites for runs that act on invites but
// whose listen mode does not sync on its own.
func (r *Runner) invitePhase(ctx context.Context) error {
	return r.newListener().InviteScan(ctx)
}

// listenPhase consumes events in the selected mode.
func (r *Runner) listenPhase(ctx context.Context) error {
	listener := r.newListener()
	switch r.opts.Listen {
	case config.ListenOnce:
		// Resuming from the stored cursor keeps consecutive runs from
		// re-emitting the same events.
		return listener.OnceResume(ctx, r.sess.Client.Store, r.sess.Client.UserID)
	case config.ListenForever:
		return listener.Forever(ctx, r.sess.Client)
	case config.ListenTail:
		targets, err := r.ensureTargets(ctx)
		if err != nil {
			return err
		}
		return listener.Tail(ctx, targets, r.opts.Tail)
	case config.ListenAll:
		targets, err := r.ensureTargets(ctx)
		if err != nil {
			return err
		}
		return listener.All(ctx, targets)
	default:
		return fmt.Errorf("unknown listen mode %q", r.opts.Listen)
	}
}
