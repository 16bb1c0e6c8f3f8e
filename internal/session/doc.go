// Package session binds the persistent crypto identity to a live
// homeserver connection. It covers password and SSO login, restoring a
// previous login from saved credentials, the encrypted Olm/Megolm store
// underneath, Megolm key import/export, logout, and the TLS and proxy
// policy of the underlying HTTP transport.
package session
