// ABOUTME: The send phase: text, media, raw events, stream, and keyboard input
// ABOUTME: Command-line messages go first, then piped stdin, then the keyboard

package run

import (
	"context"
	"os"

	"golang.org/x/term"

	"github.com/solenoid-labs/mxcli/internal/send"
)

// sendPhase posts everything this run should deliver. With no explicit
// send arguments (implicit send runs), the message comes from piped
// stdin, or from the keyboard when stdin is a terminal.
func (r *Runner) sendPhase(ctx context.Context) error {
	o := r.opts
	targets, err := r.ensureTargets(ctx)
	if err != nil {
		return err
	}
	sender := send.NewSender(r.sess.Client, r.fmt, r.log)
	intent := send.Intent{
		Notice:   o.Notice,
		HTML:     o.HTML,
		Markdown: o.Markdown,
		Code:     o.Code,
		Emojize:  o.Emojize,
	}

	in := send.Inputs{
		Messages: o.Messages,
		Images:   o.Images,
		Audios:   o.Audios,
		Files:    o.Files,
		Events:   o.Events,
	}
	if !o.HasSendAction() {
		if r.stdinIsTerminal() {
			r.fmt.Plain("Enter the message to send; finish with Ctrl-D.")
		}
		in.Messages = []string{"-"}
	}

	expanded, err := send.Expand(in, r.stdin, os.TempDir())
	if err != nil {
		return err
	}

	// Artefacts land in every room before any text: images, audio,
	// files, raw events, then messages.
	for _, path := range expanded.Images {
		if err := sender.Media(ctx, r.sess.Client, targets, path, o.Plain); err != nil {
			r.fail("send image", err)
		}
	}
	for _, path := range expanded.Audios {
		if err := sender.Media(ctx, r.sess.Client, targets, path, o.Plain); err != nil {
			r.fail("send audio", err)
		}
	}
	for _, path := range expanded.Files {
		if err := sender.Media(ctx, r.sess.Client, targets, path, o.Plain); err != nil {
			r.fail("send file", err)
		}
	}
	for _, raw := range expanded.Events {
		if err := sender.Raw(ctx, targets, raw); err != nil {
			r.fail("send event", err)
		}
	}
	for _, msg := range expanded.Messages {
		if err := sender.Text(ctx, targets, msg, intent); err != nil {
			r.fail("send message", err)
		}
	}
	if expanded.Stream {
		if err := sender.Stream(ctx, targets, r.stdin, intent); err != nil {
			r.fail("stream", err)
		}
	}
	return nil
}

func (r *Runner) stdinIsTerminal() bool {
	stdin, ok := r.stdin.(*os.File)
	return ok && term.IsTerminal(int(stdin.Fd()))
}
