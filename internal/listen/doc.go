// Package listen consumes events from the homeserver in four modes: a
// single bounded sync (once), an indefinite long-poll loop (forever), the
// last N timeline entries per room (tail), and the full room history
// (all). Pagination, read-marker advancement, and duplicate suppression
// live here; rendering is delegated to the dispatcher.
package listen
