// ABOUTME: Raw HTTP calls against Synapse admin and arbitrary REST endpoints
// ABOUTME: Substitutes __placeholder__ credential fields before issuing requests

package adminapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"maunium.net/go/mautrix/id"

	"github.com/solenoid-labs/mxcli/internal/config"
)

// Client issues non-SDK HTTP calls with the run's credentials and transport.
type Client struct {
	creds *config.Credentials
	http  *http.Client
}

// New creates an admin REST client sharing the run's HTTP transport, so the
// TLS policy and proxy apply here too.
func New(creds *config.Credentials, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{creds: creds, http: httpClient}
}

// DeleteMedia removes one uploaded blob through the Synapse admin API.
func (c *Client) DeleteMedia(ctx context.Context, mxc id.ContentURI) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/_synapse/admin/v1/media/%s/%s",
		strings.TrimSuffix(c.creds.Homeserver, "/"),
		url.PathEscape(mxc.Homeserver), url.PathEscape(mxc.FileID))
	return c.do(ctx, http.MethodDelete, endpoint, "")
}

// DeleteMediaBefore removes uploads older than the given timestamp (ms) and
// larger than sizeGT bytes.
func (c *Client) DeleteMediaBefore(ctx context.Context, beforeTS int64, sizeGT int64) ([]byte, error) {
	host, err := serverName(c.creds.UserID)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/_synapse/admin/v1/media/%s/delete?before_ts=%d&size_gt=%d",
		strings.TrimSuffix(c.creds.Homeserver, "/"), url.PathEscape(host), beforeTS, sizeGT)
	return c.do(ctx, http.MethodPost, endpoint, "")
}

// Rest issues one generic REST call. The URL and data may contain
// __homeserver__, __hostname__, __access_token__, __user_id__,
// __device_id__, and __room_id__ placeholders, substituted from the
// credentials. A body on a bodyless method is rejected.
func (c *Client) Rest(ctx context.Context, method, data, rawURL string) ([]byte, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	switch method {
	case http.MethodGet, http.MethodHead:
		if data != "" {
			return nil, fmt.Errorf("method %s cannot carry a request body", method)
		}
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodOptions:
	default:
		return nil, fmt.Errorf("unsupported REST method %q", method)
	}

	endpoint, err := c.Substitute(rawURL)
	if err != nil {
		return nil, err
	}
	body, err := c.Substitute(data)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, method, endpoint, body)
}

// placeholders maps the documented tokens onto credential fields.
func (c *Client) placeholders() (map[string]string, error) {
	host, err := serverName(c.creds.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"__homeserver__":   strings.TrimSuffix(c.creds.Homeserver, "/"),
		"__hostname__":     host,
		"__access_token__": c.creds.AccessToken,
		"__user_id__":      c.creds.UserID,
		"__device_id__":    c.creds.DeviceID,
		"__room_id__":      c.creds.RoomID,
	}, nil
}

// Substitute replaces every known placeholder in s.
func (c *Client) Substitute(s string) (string, error) {
	repl, err := c.placeholders()
	if err != nil {
		return "", err
	}
	for token, value := range repl {
		s = strings.ReplaceAll(s, token, value)
	}
	return s, nil
}

// do performs the request and returns the body verbatim. Non-2xx responses
// are errors carrying the body for inspection. Error strings carry the
// redacted endpoint: a substituted URL may embed the access token.
func (c *Client) do(ctx context.Context, method, endpoint, body string) ([]byte, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, c.redact(endpoint), err)
	}
	req.Header.Set("Authorization", "Bearer "+c.creds.AccessToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error repeats the full request URL, so the wrapped message
		// needs redacting too.
		return nil, fmt.Errorf("%s %s: %s", method, c.redact(endpoint), c.redact(err.Error()))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response of %s %s: %w", method, c.redact(endpoint), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return respBody, fmt.Errorf("%s %s returned %s: %s",
			method, c.redact(endpoint), resp.Status, c.redact(strings.TrimSpace(string(respBody))))
	}
	return respBody, nil
}

// redact strips the access token from strings destined for errors.
func (c *Client) redact(s string) string {
	if c.creds.AccessToken == "" {
		return s
	}
	return strings.ReplaceAll(s, c.creds.AccessToken, "***")
}

// serverName extracts the homeserver domain from a Matrix user id.
func serverName(userID string) (string, error) {
	_, host, err := id.UserID(userID).Parse()
	if err != nil {
		return "", fmt.Errorf("cannot derive server name from %q: %w", userID, err)
	}
	return host, nil
}
