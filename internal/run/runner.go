// ABOUTME: The orchestrator binding all phases of one invocation together
// ABOUTME: Phase order is fixed; per-item failures count errors but never abort the run

package run

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
	"maunium.net/go/mautrix/id"

	"github.com/solenoid-labs/mxcli/internal/addr"
	"github.com/solenoid-labs/mxcli/internal/adminapi"
	"github.com/solenoid-labs/mxcli/internal/config"
	"github.com/solenoid-labs/mxcli/internal/output"
	"github.com/solenoid-labs/mxcli/internal/session"
)

// Runner executes one invocation. Build it with New, then call Run once.
type Runner struct {
	opts   *config.Options
	fmt    *output.Formatter
	log    *slog.Logger
	stdin  io.Reader
	stdout io.Writer

	sess    *session.Session
	admin   *adminapi.Client
	domain  string
	targets []id.RoomID
	errs    int
}

// New creates a Runner over validated options.
func New(opts *config.Options, formatter *output.Formatter, log *slog.Logger, stdin io.Reader, stdout io.Writer) *Runner {
	return &Runner{
		opts:   opts,
		fmt:    formatter,
		log:    log,
		stdin:  stdin,
		stdout: stdout,
	}
}

// phase is one step of the fixed pipeline.
type phase struct {
	name    string
	enabled bool
	run     func(ctx context.Context) error
}

// plan returns the phases in their fixed execution order. The order
// never depends on how the flags were spelled on the command line.
func (r *Runner) plan() []phase {
	o := r.opts
	return []phase{
		{"verify", o.Verify, r.verifyPhase},
		{"room", o.HasRoomAction(), r.roomPhase},
		{"set", o.HasSetAction(), r.setPhase},
		{"get", o.HasGetAction(), r.getPhase},
		{"send", o.HasSendAction() || o.ImplicitSend(), r.sendPhase},
		{"invites", o.InvitePolicy != config.InviteIgnore &&
			o.Listen != config.ListenOnce && o.Listen != config.ListenForever, r.invitePhase},
		{"listen", o.Listen != config.ListenNever, r.listenPhase},
		{"logout", o.Logout != "", r.logoutPhase},
	}
}

// Run executes the whole invocation and returns the error count, which
// doubles as the process exit code.
func (r *Runner) Run(ctx context.Context) int {
	if err := r.bootstrap(ctx); err != nil {
		r.log.Error("session bootstrap failed", "error", err)
		return r.errs + 1
	}
	loggedOut := false
	defer func() {
		if !loggedOut && r.sess != nil {
			if err := r.sess.Close(); err != nil {
				r.log.Warn("closing session", "error", err)
			}
		}
	}()

	for _, ph := range r.plan() {
		if !ph.enabled {
			continue
		}
		r.log.Debug("entering phase", "phase", ph.name)
		if err := ph.run(ctx); err != nil {
			r.fail(ph.name, err)
		}
		if ph.name == "logout" {
			loggedOut = true
		}
	}
	return r.errs
}

// fail records one error against the exit code.
func (r *Runner) fail(what string, err error) {
	r.errs++
	r.log.Error(what+" failed", "error", err)
}

// bootstrap produces the live session: a fresh login when requested,
// otherwise a restore from the saved credentials.
func (r *Runner) bootstrap(ctx context.Context) error {
	o := r.opts
	credsPath := config.LocateCredentials(o.CredentialsFile, o.Login != "")
	storeDir := config.LocateStore(o.StoreDir)
	transport := session.TransportOptions{
		Proxy:      o.Proxy,
		SkipVerify: o.TLSSkipVerify,
		CABundle:   o.TLSCABundle,
	}

	var err error
	switch o.Login {
	case "password":
		if config.CredentialsExist(o.CredentialsFile) {
			return fmt.Errorf("credentials already exist at %s; logout first or remove the file", credsPath)
		}
		password := o.Password
		if password == "" {
			if password, err = r.promptPassword(); err != nil {
				return err
			}
		}
		r.sess, err = session.PasswordLogin(ctx, session.Options{
			Homeserver: o.Homeserver,
			User:       o.UserLogin,
			Password:   password,
			DeviceName: o.DeviceName,
			CredsPath:  credsPath,
			StoreDir:   storeDir,
			Transport:  transport,
			Debug:      o.Debug,
		}, r.log)
	case "sso":
		if config.CredentialsExist(o.CredentialsFile) {
			return fmt.Errorf("credentials already exist at %s; logout first or remove the file", credsPath)
		}
		r.sess, err = session.SSOLogin(ctx, session.Options{
			Homeserver: o.Homeserver,
			DeviceName: o.DeviceName,
			CredsPath:  credsPath,
			StoreDir:   storeDir,
			Transport:  transport,
			Debug:      o.Debug,
		}, r.stdout, r.log)
	default:
		r.sess, err = session.Restore(ctx, credsPath, storeDir, transport, o.Debug, r.log)
	}
	if err != nil {
		return err
	}

	r.domain = addr.Domain(id.UserID(r.sess.Creds.UserID))
	r.admin = adminapi.New(r.sess.Creds, r.sess.Client.Client)

	if o.Login != "" && o.DefaultRoom != "" {
		roomID, err := addr.ResolveRoom(ctx, r.sess.Client, o.DefaultRoom, r.domain)
		if err != nil {
			return fmt.Errorf("resolving default room: %w", err)
		}
		r.sess.Creds.RoomID = roomID.String()
		if err := r.sess.Creds.Save(credsPath); err != nil {
			return fmt.Errorf("saving default room: %w", err)
		}
	}
	return nil
}

// promptPassword reads the login password from the terminal without echo.
func (r *Runner) promptPassword() (string, error) {
	stdin, ok := r.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(stdin.Fd())) {
		return "", fmt.Errorf("no password given and stdin is not a terminal")
	}
	fmt.Fprintf(r.stdout, "%s ", color.New(color.Bold).Sprintf("Password for %s:", r.opts.UserLogin))
	password, err := term.ReadPassword(int(stdin.Fd()))
	fmt.Fprintln(r.stdout)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

// ensureTargets resolves the destination rooms once per run: explicit
// rooms, DM rooms for explicit users, then the stored default room.
func (r *Runner) ensureTargets(ctx context.Context) ([]id.RoomID, error) {
	if r.targets != nil {
		return r.targets, nil
	}
	var targets []id.RoomID
	for _, room := range r.opts.Rooms {
		roomID, err := addr.ResolveRoom(ctx, r.sess.Client, room, r.domain)
		if err != nil {
			return nil, err
		}
		targets = append(targets, roomID)
	}
	self := id.UserID(r.sess.Creds.UserID)
	for _, user := range r.opts.Users {
		userID, err := addr.NormalizeUser(user, r.domain)
		if err != nil {
			return nil, err
		}
		roomID, err := addr.FindDMRoom(ctx, r.sess.Client, self, userID)
		if err != nil {
			return nil, err
		}
		targets = append(targets, roomID)
	}
	if len(targets) == 0 && r.sess.Creds.RoomID != "" {
		targets = append(targets, id.RoomID(r.sess.Creds.RoomID))
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no target rooms; use --room, --user, or store a default room at login")
	}
	r.targets = targets
	return targets, nil
}
