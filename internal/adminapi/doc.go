// Package adminapi wraps the Synapse admin endpoints that sit outside the
// client-server API (content-repo deletion) and provides a generic REST
// escape hatch with credential placeholder substitution.
package adminapi
