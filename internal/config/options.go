// ABOUTME: The full option set for one run, assembled from flags and defaults
// ABOUTME: Validated before any network I/O; incompatible combinations abort early

package config

import (
	"fmt"
	"net/url"
)

// ListenMode selects how the listener consumes events.
type ListenMode string

const (
	ListenNever   ListenMode = ""
	ListenOnce    ListenMode = "once"
	ListenForever ListenMode = "forever"
	ListenTail    ListenMode = "tail"
	ListenAll     ListenMode = "all"
)

// FilenamePolicy selects how received media files are named on disk.
type FilenamePolicy string

const (
	FilenameSource  FilenamePolicy = "source"
	FilenameClean   FilenamePolicy = "clean"
	FilenameEventID FilenamePolicy = "eventid"
	FilenameTime    FilenamePolicy = "time"
)

// InvitePolicy selects what happens to pending room invites.
type InvitePolicy string

const (
	InviteIgnore   InvitePolicy = ""
	InviteList     InvitePolicy = "list"
	InviteJoin     InvitePolicy = "join"
	InviteListJoin InvitePolicy = "list+join"
)

// Options is the complete knob set for one run. It is assembled once in
// main, validated, and then threaded read-only through the orchestrator.
type Options struct {
	// Files and store.
	CredentialsFile string
	StoreDir        string

	// Login.
	Login       string // "password" or "sso"
	Homeserver  string
	UserLogin   string
	Password    string
	DeviceName  string
	DefaultRoom string
	Verify      bool
	Logout      string // "me" or "all"
	Debug       bool
	LogLevel    string

	// Destinations.
	Rooms []string
	Users []string

	// Room actions.
	RoomCreate        []string
	RoomCreateName    string
	RoomCreateTopic   string
	RoomDMCreate      []string
	RoomJoin          []string
	RoomLeave         []string
	RoomForget        []string
	RoomInvite        []string
	RoomBan           []string
	RoomUnban         []string
	RoomKick          []string
	RoomRedact        []string
	RoomSetAlias      []string
	RoomDeleteAlias   []string
	RoomResolveAlias  []string
	RoomGetVisibility []string
	RoomGetState      []string

	// Set actions.
	SetDisplayName  string
	SetDeviceName   string
	SetPresence     string
	Upload          []string
	DeleteMXC       []string
	DeleteMXCBefore []string // "timestamp size" pairs
	Rest            []string // method,data,url triples flattened
	SetAvatar       string
	ImportKeys      string // "file passphrase"
	DeleteDevice    []string

	// Get actions.
	GetDisplayName bool
	GetPresence    bool
	Download       []string
	JoinedRooms    bool
	JoinedMembers  []string
	MXCToHTTP      []string
	Devices        bool
	Discovery      bool
	LoginMethods   bool
	RepoConfig     bool
	GetAvatar      []string
	GetProfile     []string
	RoomInfo       []string
	ClientInfo     bool
	HasPermission  []string // "room matrix-power-kind" pairs
	ExportKeys     string   // "file passphrase"
	OpenID         bool
	Whoami         bool

	// Send actions.
	Messages []string
	Images   []string
	Audios   []string
	Files    []string
	Events   []string
	Notice   bool
	HTML     bool
	Markdown bool
	Code     bool
	Emojize  bool
	Plain    bool // skip attachment encryption

	// Listen.
	Listen       ListenMode
	Tail         int
	ListenSelf   bool
	PrintEventID bool
	DownloadDir  string
	FilenameMode FilenamePolicy
	InvitePolicy InvitePolicy

	// Output.
	Output    string
	Separator string

	// Transport.
	Proxy         string
	TLSSkipVerify bool
	TLSCABundle   string
}

// HasRoomAction reports whether any room-phase action was requested.
func (o *Options) HasRoomAction() bool {
	return len(o.RoomCreate) > 0 || len(o.RoomDMCreate) > 0 || len(o.RoomJoin) > 0 ||
		len(o.RoomLeave) > 0 || len(o.RoomForget) > 0 || len(o.RoomInvite) > 0 ||
		len(o.RoomBan) > 0 || len(o.RoomUnban) > 0 || len(o.RoomKick) > 0 ||
		len(o.RoomRedact) > 0 || len(o.RoomSetAlias) > 0 || len(o.RoomDeleteAlias) > 0 ||
		len(o.RoomResolveAlias) > 0 || len(o.RoomGetVisibility) > 0 || len(o.RoomGetState) > 0
}

// HasSetAction reports whether any set-phase action was requested.
func (o *Options) HasSetAction() bool {
	return o.SetDisplayName != "" || o.SetDeviceName != "" || o.SetPresence != "" ||
		len(o.Upload) > 0 || len(o.DeleteMXC) > 0 || len(o.DeleteMXCBefore) > 0 ||
		len(o.Rest) > 0 || o.SetAvatar != "" || o.ImportKeys != "" || len(o.DeleteDevice) > 0
}

// HasGetAction reports whether any get-phase action was requested.
func (o *Options) HasGetAction() bool {
	return o.GetDisplayName || o.GetPresence || len(o.Download) > 0 || o.JoinedRooms ||
		len(o.JoinedMembers) > 0 || len(o.MXCToHTTP) > 0 || o.Devices || o.Discovery ||
		o.LoginMethods || o.RepoConfig || len(o.GetAvatar) > 0 || len(o.GetProfile) > 0 ||
		len(o.RoomInfo) > 0 || o.ClientInfo || len(o.HasPermission) > 0 ||
		o.ExportKeys != "" || o.OpenID || o.Whoami
}

// HasSendAction reports whether anything will be sent this run.
func (o *Options) HasSendAction() bool {
	return len(o.Messages) > 0 || len(o.Images) > 0 || len(o.Audios) > 0 ||
		len(o.Files) > 0 || len(o.Events) > 0
}

// ImplicitSend reports whether a run with no explicit action at all
// should read its message from stdin.
func (o *Options) ImplicitSend() bool {
	return !o.HasSendAction() && !o.HasRoomAction() && !o.HasSetAction() &&
		!o.HasGetAction() && !o.Verify && o.Listen == ListenNever &&
		o.Logout == "" && o.Login == ""
}

// Validate rejects incompatible or malformed option combinations before any
// network traffic. These are the run's only early-abort errors.
func (o *Options) Validate() error {
	switch o.Login {
	case "", "password", "sso":
	default:
		return fmt.Errorf("unknown login method %q (want password or sso)", o.Login)
	}
	switch o.Logout {
	case "", "me", "all":
	default:
		return fmt.Errorf("unknown logout target %q (want me or all)", o.Logout)
	}
	switch o.Listen {
	case ListenNever, ListenOnce, ListenForever, ListenTail, ListenAll:
	default:
		return fmt.Errorf("unknown listen mode %q", o.Listen)
	}
	if o.Listen == ListenTail && o.Tail <= 0 {
		return fmt.Errorf("tail listen mode requires a positive event count")
	}
	if o.Listen != ListenTail && o.Tail > 0 {
		return fmt.Errorf("--tail requires listen mode tail")
	}
	switch o.FilenameMode {
	case "", FilenameSource, FilenameClean, FilenameEventID, FilenameTime:
	default:
		return fmt.Errorf("unknown filename policy %q", o.FilenameMode)
	}
	switch o.InvitePolicy {
	case InviteIgnore, InviteList, InviteJoin, InviteListJoin:
	default:
		return fmt.Errorf("unknown invite policy %q", o.InvitePolicy)
	}
	if o.TLSSkipVerify && o.TLSCABundle != "" {
		return fmt.Errorf("--tls-skip-verify and --tls-ca-bundle are mutually exclusive")
	}
	if o.Proxy != "" {
		u, err := url.Parse(o.Proxy)
		if err != nil {
			return fmt.Errorf("invalid proxy URL: %w", err)
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
		case "socks4":
			return fmt.Errorf("socks4 proxies are not supported, use socks5")
		default:
			return fmt.Errorf("proxy scheme %q not supported (want http, https, or socks5)", u.Scheme)
		}
	}
	return nil
}
