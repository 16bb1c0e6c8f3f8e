// ABOUTME: The verify and logout phases of the pipeline
// ABOUTME: Verification is best effort; its outcome never fails the run

package run

import (
	"context"
	"fmt"
	"time"

	"github.com/solenoid-labs/mxcli/internal/verify"
)

// verifyTimeout bounds the wait for an incoming verification request.
const verifyTimeout = 5 * time.Minute

// verifyPhase waits for another device to initiate emoji SAS
// verification and walks the operator through it. A mismatch or decline
// cancels the verification but not the run.
func (r *Runner) verifyPhase(ctx context.Context) error {
	prompter := verify.NewTerminalPrompter(r.stdin, r.stdout)
	monitor := verify.NewMonitor(prompter, r.fmt, r.log)
	if _, err := r.sess.VerificationHelper(ctx, monitor); err != nil {
		return err
	}

	// To-device verification traffic only flows while syncing.
	syncCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := r.sess.Client.SyncWithContext(syncCtx); err != nil && syncCtx.Err() == nil {
			r.log.Error("sync failed during verification", "error", err)
		}
	}()

	r.fmt.Plain("Waiting for a verification request from another device or user.")
	r.fmt.Plain("Start the verification there now; this wait gives up after " + verifyTimeout.String() + ".")
	state := monitor.Wait(ctx, verifyTimeout)
	r.fmt.Plain(fmt.Sprintf("Verification ended: %s.", state))
	return nil
}

// logoutPhase invalidates the session server-side and removes the local
// credentials and store.
func (r *Runner) logoutPhase(ctx context.Context) error {
	if r.opts.Logout == "all" {
		return r.sess.LogoutAll(ctx)
	}
	return r.sess.Logout(ctx)
}
