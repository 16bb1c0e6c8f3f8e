// ABOUTME: Persisted credentials record created at first login
// ABOUTME: Read-once on every later run, never mutated afterwards

package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Credentials binds an access token to a homeserver, user, and device. The
// default room is the destination used when a run names no other target.
type Credentials struct {
	Homeserver  string `json:"homeserver"`
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
	AccessToken string `json:"access_token"`
	RoomID      string `json:"room_id"`
}

// LoadCredentials reads and validates a credentials file.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials file %s: %w", path, err)
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("credentials file %s: %w", path, err)
	}
	return &creds, nil
}

// Save writes the credentials file with owner-only permissions.
func (c *Credentials) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

// Validate checks the fields required to restore a session.
func (c *Credentials) Validate() error {
	if c.Homeserver == "" {
		return fmt.Errorf("homeserver is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if c.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("access_token is required")
	}
	return nil
}
