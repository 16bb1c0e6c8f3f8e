// ABOUTME: Tests for admin endpoints and REST placeholder substitution
// ABOUTME: Uses httptest servers to assert method, path, auth, and error surfaces

package adminapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/solenoid-labs/mxcli/internal/config"
)

func testCreds(homeserver string) *config.Credentials {
	return &config.Credentials{
		Homeserver:  homeserver,
		UserID:      "@bob:example.org",
		DeviceID:    "DEV01",
		AccessToken: "syt_secret",
		RoomID:      "!default:example.org",
	}
}

func TestSubstitute(t *testing.T) {
	c := New(testCreds("https://hs.example.org/"), nil)

	got, err := c.Substitute("__homeserver__/x?u=__user_id__&d=__device_id__&h=__hostname__&r=__room_id__&t=__access_token__")
	require.NoError(t, err)
	assert.Equal(t,
		"https://hs.example.org/x?u=@bob:example.org&d=DEV01&h=example.org&r=!default:example.org&t=syt_secret",
		got)
}

func TestRest_GetWithPlaceholderURL(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"versions":["r0.6.1"]}`))
	}))
	defer srv.Close()

	c := New(testCreds(srv.URL), srv.Client())
	body, err := c.Rest(context.Background(), "GET", "", "__homeserver__/_matrix/client/versions")
	require.NoError(t, err)
	assert.Equal(t, "/_matrix/client/versions", gotPath)
	assert.Equal(t, "Bearer syt_secret", gotAuth)
	assert.JSONEq(t, `{"versions":["r0.6.1"]}`, string(body))
}

func TestRest_BodyRejectedOnGet(t *testing.T) {
	c := New(testCreds("https://hs"), nil)
	_, err := c.Rest(context.Background(), "GET", `{"x":1}`, "https://hs/path")
	assert.Error(t, err)
}

func TestRest_UnsupportedMethod(t *testing.T) {
	c := New(testCreds("https://hs"), nil)
	_, err := c.Rest(context.Background(), "TRACE", "", "https://hs/path")
	assert.Error(t, err)
}

func TestRest_PostSubstitutesBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(testCreds(srv.URL), srv.Client())
	_, err := c.Rest(context.Background(), "post", `{"user":"__user_id__"}`, srv.URL+"/x")
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":"@bob:example.org"}`, gotBody)
}

func TestRest_NonOKIsErrorWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errcode":"M_FORBIDDEN"}`))
	}))
	defer srv.Close()

	c := New(testCreds(srv.URL), srv.Client())
	body, err := c.Rest(context.Background(), "GET", "", srv.URL+"/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "M_FORBIDDEN")
	assert.Contains(t, string(body), "M_FORBIDDEN")
}

func TestRest_ErrorRedactsAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errcode":"M_UNKNOWN_TOKEN"}`))
	}))
	defer srv.Close()

	c := New(testCreds(srv.URL), srv.Client())
	_, err := c.Rest(context.Background(), "GET", "", srv.URL+"/x?access_token=__access_token__")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "syt_secret")
	assert.Contains(t, err.Error(), "access_token=***")
}

func TestRest_TransportErrorRedactsAccessToken(t *testing.T) {
	c := New(testCreds("http://127.0.0.1:1"), nil)
	_, err := c.Rest(context.Background(), "GET", "", "http://127.0.0.1:1/x?access_token=__access_token__")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "syt_secret")
}

func TestDeleteMedia(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(testCreds(srv.URL), srv.Client())
	_, err := c.DeleteMedia(context.Background(), id.ContentURI{Homeserver: "example.org", FileID: "abcDEF"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/_synapse/admin/v1/media/example.org/abcDEF", gotPath)
}

func TestDeleteMediaBefore(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(testCreds(srv.URL), srv.Client())
	_, err := c.DeleteMediaBefore(context.Background(), 1700000000000, 1048576)
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "before_ts=1700000000000")
	assert.Contains(t, gotQuery, "size_gt=1048576")
}
