// ABOUTME: Command-line flag surface mapped onto the run options
// ABOUTME: Flags only fill the option struct; validation happens afterwards

package main

import (
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"github.com/solenoid-labs/mxcli/internal/config"
)

// cliOptions is the parsed command line plus the few knobs that never
// reach the run options.
type cliOptions struct {
	config.Options
	ConfigFile  string
	Version     bool
	listenMode  string
	invitesMode string
	filenames   string
}

// parseFlags reads the command line into options. usageOut receives the
// help text when --help is given.
func parseFlags(args []string, usageOut io.Writer) (*cliOptions, error) {
	var o cliOptions
	fs := flag.NewFlagSet("mxcli", flag.ContinueOnError)
	fs.SetOutput(usageOut)
	fs.SortFlags = false

	fs.StringVar(&o.ConfigFile, "config", "", "defaults file (TOML)")
	fs.StringVarP(&o.CredentialsFile, "credentials", "c", "", "credentials file")
	fs.StringVarP(&o.StoreDir, "store", "s", "", "encryption store directory")
	fs.BoolVar(&o.Version, "version", false, "print the version and exit")

	fs.StringVar(&o.Login, "login", "", "log in and create credentials: password or sso")
	fs.StringVar(&o.Homeserver, "homeserver", "", "homeserver URL or server name for login")
	fs.StringVar(&o.UserLogin, "user-login", "", "user ID or localpart for login")
	fs.StringVar(&o.Password, "password", "", "account password (prompted when omitted)")
	fs.StringVar(&o.DeviceName, "device", "", "device display name for login")
	fs.StringVar(&o.DefaultRoom, "room-default", "", "default room stored at login")
	fs.BoolVar(&o.Verify, "verify", false, "wait for an incoming emoji verification")
	fs.StringVar(&o.Logout, "logout", "", "log out: me or all")
	fs.BoolVarP(&o.Debug, "debug", "d", false, "debug logging")
	fs.StringVar(&o.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	fs.StringArrayVarP(&o.Rooms, "room", "r", nil, "target room (ID, alias, or localpart)")
	fs.StringArrayVarP(&o.Users, "user", "u", nil, "target user for DM delivery")

	fs.StringArrayVar(&o.RoomCreate, "room-create", nil, "create a room with this alias localpart")
	fs.StringVar(&o.RoomCreateName, "name", "", "name for created rooms")
	fs.StringVar(&o.RoomCreateTopic, "topic", "", "topic for created rooms")
	fs.StringArrayVar(&o.RoomDMCreate, "room-dm-create", nil, "create an encrypted DM room with this user")
	fs.StringArrayVar(&o.RoomJoin, "room-join", nil, "join a room")
	fs.StringArrayVar(&o.RoomLeave, "room-leave", nil, "leave a room")
	fs.StringArrayVar(&o.RoomForget, "room-forget", nil, "forget a left room")
	fs.StringArrayVar(&o.RoomInvite, "room-invite", nil, "invite the target users to this room")
	fs.StringArrayVar(&o.RoomBan, "room-ban", nil, "ban the target users from this room")
	fs.StringArrayVar(&o.RoomUnban, "room-unban", nil, "unban the target users from this room")
	fs.StringArrayVar(&o.RoomKick, "room-kick", nil, "kick the target users from this room")
	fs.StringArrayVar(&o.RoomRedact, "room-redact", nil, "redact this event in the target rooms")
	fs.StringArrayVar(&o.RoomSetAlias, "room-set-alias", nil, "publish \"ALIAS [ROOM]\"")
	fs.StringArrayVar(&o.RoomDeleteAlias, "room-delete-alias", nil, "delete a published alias")
	fs.StringArrayVar(&o.RoomResolveAlias, "room-resolve-alias", nil, "resolve an alias to a room ID")
	fs.StringArrayVar(&o.RoomGetVisibility, "room-get-visibility", nil, "print a room's directory visibility")
	fs.StringArrayVar(&o.RoomGetState, "room-get-state", nil, "print a room's full state")

	fs.StringVar(&o.SetDisplayName, "set-display-name", "", "set the account display name")
	fs.StringVar(&o.SetDeviceName, "set-device-name", "", "rename the current device")
	fs.StringVar(&o.SetPresence, "set-presence", "", "set presence: online, offline, or unavailable")
	fs.StringArrayVar(&o.Upload, "upload", nil, "upload a file to the content repository")
	fs.StringArrayVar(&o.DeleteMXC, "delete-mxc", nil, "delete an mxc URI (admin)")
	fs.StringArrayVar(&o.DeleteMXCBefore, "delete-mxc-before", nil, "delete media \"TIMESTAMP SIZE\" (admin)")
	fs.StringArrayVar(&o.Rest, "rest", nil, "raw REST call; repeat three times per call: METHOD, DATA, URL")
	fs.StringVar(&o.SetAvatar, "set-avatar", "", "set the account avatar to an mxc URI")
	fs.StringVar(&o.ImportKeys, "import-keys", "", "import Megolm keys: \"FILE PASSPHRASE\"")
	fs.StringArrayVar(&o.DeleteDevice, "delete-device", nil, "delete a device (prompts for the password)")

	fs.BoolVar(&o.GetDisplayName, "get-display-name", false, "print the account display name")
	fs.BoolVar(&o.GetPresence, "get-presence", false, "print the account presence")
	fs.StringArrayVar(&o.Download, "download", nil, "download an mxc URI or media envelope")
	fs.StringVar(&o.DownloadDir, "download-dir", "", "directory for downloaded media")
	fs.BoolVar(&o.JoinedRooms, "joined-rooms", false, "list joined rooms")
	fs.StringArrayVar(&o.JoinedMembers, "joined-members", nil, "list the members of a room")
	fs.StringArrayVar(&o.MXCToHTTP, "mxc-to-http", nil, "convert an mxc URI to an HTTP URL")
	fs.BoolVar(&o.Devices, "devices", false, "list the account's devices")
	fs.BoolVar(&o.Discovery, "discovery-info", false, "print the homeserver discovery information")
	fs.BoolVar(&o.LoginMethods, "login-methods", false, "list the homeserver's login methods")
	fs.BoolVar(&o.RepoConfig, "content-repo-config", false, "print the content repository config")
	fs.StringArrayVar(&o.GetAvatar, "get-avatar", nil, "print a user's avatar URI")
	fs.StringArrayVar(&o.GetProfile, "get-profile", nil, "print a user's profile")
	fs.StringArrayVar(&o.RoomInfo, "room-info", nil, "print a room's name, topic, alias, and encryption")
	fs.BoolVar(&o.ClientInfo, "client-info", false, "print the stored session information")
	fs.StringArrayVar(&o.HasPermission, "has-permission", nil, "check a power level: \"ROOM KIND\"")
	fs.StringVar(&o.ExportKeys, "export-keys", "", "export Megolm keys: \"FILE PASSPHRASE\"")
	fs.BoolVar(&o.OpenID, "get-openid-token", false, "request an OpenID token")
	fs.BoolVar(&o.Whoami, "whoami", false, "print the server-side view of this session")

	fs.StringArrayVarP(&o.Messages, "message", "m", nil, "send a text message ('-' stdin, '_' stream)")
	fs.StringArrayVarP(&o.Images, "image", "i", nil, "send an image file")
	fs.StringArrayVarP(&o.Audios, "audio", "a", nil, "send an audio file")
	fs.StringArrayVarP(&o.Files, "file", "f", nil, "send an arbitrary file")
	fs.StringArrayVarP(&o.Events, "event", "e", nil, "send a raw JSON event")
	fs.BoolVar(&o.Notice, "notice", false, "send messages as notices")
	fs.BoolVarP(&o.HTML, "html", "w", false, "message text is HTML")
	fs.BoolVarP(&o.Markdown, "markdown", "z", false, "message text is markdown")
	fs.BoolVarP(&o.Code, "code", "k", false, "send message text as a code block")
	fs.BoolVar(&o.Emojize, "emojize", false, "replace :shortcodes: with emoji")
	fs.BoolVar(&o.Plain, "plain", false, "skip attachment encryption")

	fs.StringVarP(&o.listenMode, "listen", "l", "", "listen mode: once, forever, tail, or all")
	fs.IntVarP(&o.Tail, "tail", "t", 0, "event count for listen mode tail")
	fs.BoolVarP(&o.ListenSelf, "listen-self", "y", false, "print own messages while listening")
	fs.BoolVar(&o.PrintEventID, "print-event-id", false, "prefix received events with their event ID")
	fs.StringVar(&o.filenames, "file-name", "", "download naming: source, clean, eventid, or time")
	fs.StringVar(&o.invitesMode, "invites", "", "pending invites: list, join, or list+join")

	fs.StringVarP(&o.Output, "output", "o", "", "output mode: text, json, json-max, or json-spec")
	fs.StringVar(&o.Separator, "separator", "", "column separator for text output")

	fs.StringVar(&o.Proxy, "proxy", "", "proxy URL (http, https, or socks5)")
	fs.BoolVar(&o.TLSSkipVerify, "tls-skip-verify", false, "skip TLS certificate verification")
	fs.StringVar(&o.TLSCABundle, "tls-ca-bundle", "", "CA bundle file for TLS verification")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if n := fs.NArg(); n > 0 {
		return nil, fmt.Errorf("unexpected positional arguments: %v", fs.Args())
	}

	o.Listen = config.ListenMode(o.listenMode)
	o.InvitePolicy = config.InvitePolicy(o.invitesMode)
	o.FilenameMode = config.FilenamePolicy(o.filenames)
	return &o, nil
}
