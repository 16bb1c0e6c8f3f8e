// Package config holds the per-run option set, the persisted credentials
// record, and the locator logic that resolves credentials-file and
// encrypted-store paths.
//
// # Credentials
//
// Credentials are a small JSON file created at first login and read on
// every later run:
//
//	{
//	    "homeserver": "https://matrix.example.org",
//	    "user_id": "@bob:example.org",
//	    "device_id": "ABCDEFGH",
//	    "access_token": "...",
//	    "room_id": "!default:example.org"
//	}
//
// # Path Resolution
//
// The credentials path is resolved in order: an explicit path with
// directory components is used verbatim; a bare filename present in the
// working directory is used there; otherwise the XDG config directory
// under the program name is consulted. The store directory follows the
// analogous rules against the XDG data directory. Once picked for a run,
// neither path changes.
//
// # Defaults File
//
// An optional TOML defaults file can pre-seed homeserver, default room,
// proxy, and TLS policy. Values given on the command line win. ${VAR}
// references are expanded from the environment before decoding.
package config
