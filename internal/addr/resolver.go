// ABOUTME: Pure address normalisation for Matrix rooms and users
// ABOUTME: Validates syntax and appends the sender's homeserver domain where needed

package addr

import (
	"fmt"
	"strings"

	"maunium.net/go/mautrix/id"
)

// Kind tags the syntactic form of an address after classification.
type Kind int

const (
	KindInvalid Kind = iota
	KindRoomID
	KindRoomAlias
	KindShortRoomAlias
	KindUserID
	KindPartialUserID
	KindShortUserID
)

// invalidChars are rejected anywhere inside an address.
const invalidChars = "[]{}<>() \t\r\n"

// validate applies the syntax rules shared by room and user addresses:
// non-empty, no whitespace or brackets, at most one colon, no leading
// colon, and '#' only at position 0.
func validate(s string) error {
	if s == "" {
		return fmt.Errorf("empty address")
	}
	if strings.ContainsAny(s, invalidChars) {
		return fmt.Errorf("address %q contains whitespace or bracket characters", s)
	}
	if strings.Count(s, ":") > 1 {
		return fmt.Errorf("address %q contains more than one colon", s)
	}
	if strings.HasPrefix(s, ":") {
		return fmt.Errorf("address %q starts with a colon", s)
	}
	if i := strings.Index(s, "#"); i > 0 {
		return fmt.Errorf("address %q contains '#' after position 0", s)
	}
	return nil
}

// ClassifyRoom tags a room address string without resolving it.
func ClassifyRoom(s string) (Kind, error) {
	if err := validate(s); err != nil {
		return KindInvalid, err
	}
	switch {
	case strings.HasPrefix(s, "!"):
		return KindRoomID, nil
	case strings.HasPrefix(s, "#"):
		if strings.Contains(s, ":") {
			return KindRoomAlias, nil
		}
		return KindShortRoomAlias, nil
	case strings.HasPrefix(s, "@"):
		return KindInvalid, fmt.Errorf("%q is a user id, not a room", s)
	default:
		return KindShortRoomAlias, nil
	}
}

// ClassifyUser tags a user address string without resolving it.
func ClassifyUser(s string) (Kind, error) {
	if err := validate(s); err != nil {
		return KindInvalid, err
	}
	switch {
	case strings.HasPrefix(s, "!"), strings.HasPrefix(s, "#"):
		return KindInvalid, fmt.Errorf("%q is a room address, not a user", s)
	case strings.HasPrefix(s, "@"):
		if strings.Contains(s, ":") {
			return KindUserID, nil
		}
		return KindPartialUserID, nil
	default:
		return KindShortUserID, nil
	}
}

// NormalizeRoom brings a room address to its exhaustive form, appending the
// sender's homeserver domain where the input omits it. The result is either
// a full room id or a full room alias; aliases still need server-side
// resolution before use.
func NormalizeRoom(s, domain string) (string, Kind, error) {
	kind, err := ClassifyRoom(s)
	if err != nil {
		return "", KindInvalid, err
	}
	switch kind {
	case KindRoomID:
		if !strings.Contains(s, ":") {
			s = s + ":" + domain
		}
		return s, KindRoomID, nil
	case KindRoomAlias:
		return s, KindRoomAlias, nil
	case KindShortRoomAlias:
		label := strings.TrimPrefix(s, "#")
		if label == "" {
			return "", KindInvalid, fmt.Errorf("empty room alias label")
		}
		return "#" + label + ":" + domain, KindRoomAlias, nil
	default:
		return "", KindInvalid, fmt.Errorf("unclassifiable room address %q", s)
	}
}

// NormalizeUser brings a user address to a full Matrix user id, appending
// the sender's homeserver domain where the input omits it. Normalisation is
// idempotent: a fully-qualified id passes through unchanged.
func NormalizeUser(s, domain string) (id.UserID, error) {
	kind, err := ClassifyUser(s)
	if err != nil {
		return "", err
	}
	switch kind {
	case KindUserID:
		return id.UserID(s), nil
	case KindPartialUserID:
		return id.UserID(s + ":" + domain), nil
	case KindShortUserID:
		return id.UserID("@" + s + ":" + domain), nil
	default:
		return "", fmt.Errorf("unclassifiable user address %q", s)
	}
}

// Domain extracts the server part of a Matrix user id.
func Domain(userID id.UserID) string {
	_, homeserver, err := userID.Parse()
	if err != nil {
		return ""
	}
	return homeserver
}
