// ABOUTME: SSO login via a loopback redirect listener on an ephemeral port
// ABOUTME: Waits for the browser to deliver the login token, then exchanges it

package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ssoTimeout bounds the wait for the browser redirect.
const ssoTimeout = 5 * time.Minute

const ssoDonePage = `<!DOCTYPE html><html><body>
<p>Login accepted. You can close this tab and return to the terminal.</p>
</body></html>`

// SSOLogin drives the single-sign-on flow: it serves a one-shot
// loopback redirect target, points the operator's browser at the
// homeserver's SSO page, and exchanges the returned login token.
func SSOLogin(ctx context.Context, opts Options, out io.Writer, log *slog.Logger) (*Session, error) {
	token, err := waitForSSOToken(ctx, opts.Homeserver, out, log)
	if err != nil {
		return nil, err
	}
	return TokenLogin(ctx, opts, token, log)
}

func waitForSSOToken(ctx context.Context, homeserver string, out io.Writer, log *slog.Logger) (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("opening redirect listener: %w", err)
	}
	defer listener.Close()

	// Random path so stray requests to the port cannot inject a token.
	state := uuid.NewString()
	redirect := fmt.Sprintf("http://%s/%s", listener.Addr().String(), state)
	ssoURL := strings.TrimRight(homeserver, "/") +
		"/_matrix/client/v3/login/sso/redirect?redirectUrl=" + url.QueryEscape(redirect)

	tokens := make(chan string, 1)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+state {
			http.NotFound(w, r)
			return
		}
		token := r.URL.Query().Get("loginToken")
		if token == "" {
			http.Error(w, "missing loginToken parameter", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, ssoDonePage)
		select {
		case tokens <- token:
		default:
		}
	})}
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Debug("redirect listener stopped", "error", err)
		}
	}()
	defer srv.Close()

	fmt.Fprintf(out, "Complete the login in your browser:\n%s\n", ssoURL)
	openBrowser(ssoURL, log)

	select {
	case token := <-tokens:
		return token, nil
	case <-time.After(ssoTimeout):
		return "", fmt.Errorf("timed out after %s waiting for the SSO redirect", ssoTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// openBrowser is best effort; the URL is printed either way.
func openBrowser(target string, log *slog.Logger) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	if err := cmd.Start(); err != nil {
		log.Debug("could not launch browser", "error", err)
	}
}
