// Package verify runs interactive emoji SAS device verification. The
// wire protocol (to-device messages, key agreement, MAC checks) is
// handled by the mautrix verification helper; this package supplies the
// operator side: accepting incoming requests, showing the emoji pair,
// reading the Y/N/C decision, and tracking the session state until it
// reaches verified or cancelled.
package verify
