// Package run drives one invocation end to end. The orchestrator owns
// the fixed phase order (login or restore, verify, room actions, set
// actions, get actions, send, listen, logout) independent of the order
// the flags were given in. Every action failure increments the run's
// error counter and control returns to the orchestrator; the counter
// becomes the process exit code.
package run
