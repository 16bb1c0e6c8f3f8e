// ABOUTME: Login, restore, and logout of the persistent Matrix session
// ABOUTME: A successful login persists credentials and creates the crypto store

package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/verificationhelper"
	"maunium.net/go/mautrix/id"

	"github.com/solenoid-labs/mxcli/internal/config"
	"github.com/solenoid-labs/mxcli/internal/verify"
)

// Options configures a fresh login.
type Options struct {
	Homeserver string
	User       string
	Password   string
	DeviceName string
	// CredsPath is where the credentials file is written on success.
	CredsPath string
	// StoreDir holds the crypto database. Created on login.
	StoreDir  string
	Transport TransportOptions
	Debug     bool
}

// Session is a live connection bound to a crypto identity.
type Session struct {
	Client *mautrix.Client
	Creds  *config.Credentials
	Crypto *CryptoManager

	log       *slog.Logger
	credsPath string
	storeDir  string
}

// PasswordLogin authenticates with m.login.password, persists the
// credentials, and initializes the crypto store. A store freshly
// created for this attempt is removed again on failure.
func PasswordLogin(ctx context.Context, opts Options, log *slog.Logger) (*Session, error) {
	client, err := newClient(opts.Homeserver, "", "", opts.Transport, opts.Debug)
	if err != nil {
		return nil, err
	}
	resp, err := client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: opts.User,
		},
		Password:                 opts.Password,
		InitialDeviceDisplayName: opts.DeviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("password login: %w", err)
	}
	return finishLogin(ctx, client, resp, opts, log)
}

// TokenLogin completes a login with an SSO login token.
func TokenLogin(ctx context.Context, opts Options, token string, log *slog.Logger) (*Session, error) {
	client, err := newClient(opts.Homeserver, "", "", opts.Transport, opts.Debug)
	if err != nil {
		return nil, err
	}
	resp, err := client.Login(ctx, &mautrix.ReqLogin{
		Type:                     mautrix.AuthTypeToken,
		Token:                    token,
		InitialDeviceDisplayName: opts.DeviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("token login: %w", err)
	}
	return finishLogin(ctx, client, resp, opts, log)
}

// finishLogin persists credentials and brings up encryption. Cleanup on
// failure only touches a store this attempt created.
func finishLogin(ctx context.Context, client *mautrix.Client, resp *mautrix.RespLogin, opts Options, log *slog.Logger) (*Session, error) {
	creds := &config.Credentials{
		Homeserver:  opts.Homeserver,
		UserID:      resp.UserID.String(),
		DeviceID:    resp.DeviceID.String(),
		AccessToken: resp.AccessToken,
	}

	freshStore := !config.StoreExists(opts.StoreDir)
	if err := config.CreateStore(opts.StoreDir); err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	cleanup := func() {
		if freshStore {
			if err := config.DeleteStore(opts.StoreDir); err != nil {
				log.Warn("store cleanup failed", "error", err)
			}
		}
	}

	cm, err := SetupCrypto(ctx, client, creds.UserID, opts.StoreDir, log)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("setting up encryption: %w", err)
	}
	if err := creds.Save(opts.CredsPath); err != nil {
		_ = cm.Close()
		cleanup()
		return nil, fmt.Errorf("saving credentials: %w", err)
	}

	log.Info("logged in", "user", creds.UserID, "device", creds.DeviceID)
	return &Session{
		Client:    client,
		Creds:     creds,
		Crypto:    cm,
		log:       log,
		credsPath: opts.CredsPath,
		storeDir:  opts.StoreDir,
	}, nil
}

// Restore rebuilds a session from saved credentials. In debug mode a
// whoami call proves the token is still live.
func Restore(ctx context.Context, credsPath, storeDir string, transport TransportOptions, debug bool, log *slog.Logger) (*Session, error) {
	creds, err := config.LoadCredentials(credsPath)
	if err != nil {
		return nil, err
	}
	client, err := newClient(creds.Homeserver, id.UserID(creds.UserID), creds.AccessToken, transport, debug)
	if err != nil {
		return nil, err
	}
	client.DeviceID = id.DeviceID(creds.DeviceID)

	cm, err := SetupCrypto(ctx, client, creds.UserID, storeDir, log)
	if err != nil {
		return nil, fmt.Errorf("setting up encryption: %w", err)
	}

	if debug {
		whoami, err := client.Whoami(ctx)
		if err != nil {
			_ = cm.Close()
			return nil, fmt.Errorf("whoami: %w", err)
		}
		log.Debug("token verified", "user", whoami.UserID.String(), "device", whoami.DeviceID.String())
	}

	return &Session{
		Client:    client,
		Creds:     creds,
		Crypto:    cm,
		log:       log,
		credsPath: credsPath,
		storeDir:  storeDir,
	}, nil
}

// VerificationHelper wires the SAS monitor into the client's to-device
// traffic and returns the initialized helper.
func (s *Session) VerificationHelper(ctx context.Context, monitor *verify.Monitor) (*verificationhelper.VerificationHelper, error) {
	// Capabilities: no QR show, no QR scan, emoji SAS only.
	helper := verificationhelper.NewVerificationHelper(
		s.Client, s.Crypto.Machine(), verificationhelper.NewInMemoryVerificationStore(), monitor, false, false, true)
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing verification helper: %w", err)
	}
	monitor.Bind(helper)
	return helper, nil
}

// Logout invalidates this device's access token on the server and
// removes the credentials file and crypto store.
func (s *Session) Logout(ctx context.Context) error {
	if _, err := s.Client.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return s.removeLocalState()
}

// LogoutAll invalidates the access tokens of every device of the
// account, then removes the local credentials and store.
func (s *Session) LogoutAll(ctx context.Context) error {
	if _, err := s.Client.LogoutAll(ctx); err != nil {
		return fmt.Errorf("logout all: %w", err)
	}
	return s.removeLocalState()
}

func (s *Session) removeLocalState() error {
	if err := s.Crypto.Close(); err != nil {
		s.log.Warn("closing crypto store", "error", err)
	}
	if err := os.Remove(s.credsPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credentials: %w", err)
	}
	if err := config.DeleteStore(s.storeDir); err != nil {
		return fmt.Errorf("removing store: %w", err)
	}
	s.log.Info("logged out", "user", s.Creds.UserID)
	return nil
}

// Close releases local resources without touching the server session.
func (s *Session) Close() error {
	return s.Crypto.Close()
}

func newClient(homeserver string, userID id.UserID, token string, transport TransportOptions, debug bool) (*mautrix.Client, error) {
	client, err := mautrix.NewClient(homeserver, userID, token)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	httpClient, err := NewHTTPClient(transport)
	if err != nil {
		return nil, err
	}
	client.Client = httpClient

	level := zerolog.WarnLevel
	if debug {
		level = zerolog.DebugLevel
	}
	client.Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).Level(level)
	return client, nil
}
