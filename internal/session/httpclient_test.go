// ABOUTME: Tests for TLS policy and proxy selection on the HTTP transport
// ABOUTME: Generates a throwaway self-signed certificate for the CA bundle case

package session

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transportOf(t *testing.T, client *http.Client) *http.Transport {
	t.Helper()
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	return transport
}

func TestNewHTTPClient_Default(t *testing.T) {
	client, err := NewHTTPClient(TransportOptions{})
	require.NoError(t, err)
	transport := transportOf(t, client)
	assert.Nil(t, transport.TLSClientConfig)
}

func TestNewHTTPClient_SkipVerify(t *testing.T) {
	client, err := NewHTTPClient(TransportOptions{SkipVerify: true})
	require.NoError(t, err)
	transport := transportOf(t, client)
	require.NotNil(t, transport.TLSClientConfig)
	assert.True(t, transport.TLSClientConfig.InsecureSkipVerify)
}

func TestNewHTTPClient_CABundle(t *testing.T) {
	path := writeTestCert(t)
	client, err := NewHTTPClient(TransportOptions{CABundle: path})
	require.NoError(t, err)
	transport := transportOf(t, client)
	require.NotNil(t, transport.TLSClientConfig)
	assert.NotNil(t, transport.TLSClientConfig.RootCAs)
	assert.False(t, transport.TLSClientConfig.InsecureSkipVerify)
}

func TestNewHTTPClient_BadCABundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))
	_, err := NewHTTPClient(TransportOptions{CABundle: path})
	assert.ErrorContains(t, err, "no certificates")
}

func TestNewHTTPClient_HTTPProxy(t *testing.T) {
	client, err := NewHTTPClient(TransportOptions{Proxy: "http://proxy.example:3128"})
	require.NoError(t, err)
	assert.NotNil(t, transportOf(t, client).Proxy)
}

func TestNewHTTPClient_SOCKS5Proxy(t *testing.T) {
	client, err := NewHTTPClient(TransportOptions{Proxy: "socks5://127.0.0.1:1080"})
	require.NoError(t, err)
	transport := transportOf(t, client)
	assert.Nil(t, transport.Proxy)
	assert.NotNil(t, transport.DialContext)
}

func TestNewHTTPClient_UnsupportedProxyScheme(t *testing.T) {
	_, err := NewHTTPClient(TransportOptions{Proxy: "socks4://127.0.0.1:1080"})
	assert.ErrorContains(t, err, "unsupported proxy scheme")
}

func writeTestCert(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test ca"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ca.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))
	return path
}
