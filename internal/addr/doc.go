// Package addr validates and normalises Matrix addresses. It maps the six
// accepted input forms (room id, room alias, short alias, user id, partial
// user id, bare localpart) onto fully-qualified identifiers, and discovers
// direct-message rooms for user destinations.
package addr
