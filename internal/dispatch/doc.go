// Package dispatch classifies incoming Matrix events, renders them as
// display lines or JSON, triggers media downloads on the receive path, and
// handles pending room invites.
package dispatch
