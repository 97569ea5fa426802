package exporter

import (
	"context"
	"crypto/tls"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/phasetime/pkg/timing"
)

func writeTestCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	dir := t.TempDir()
	certFile = filepath.Join(dir, "server.crt")
	keyFile = filepath.Join(dir, "server.key")
	require.NoError(t, GenerateSelfSigned(certFile, keyFile, "phasetime-test", "10.0.0.1", "metrics.local"))
	return certFile, keyFile
}

func startTLSServer(t *testing.T, cfg *tls.Config) *Server {
	t.Helper()
	s := NewServer(ServerConfig{
		Addr:     "127.0.0.1:0",
		Gatherer: prometheus.NewRegistry(),
		Tracker:  timing.New(),
		TLS:      cfg,
	})
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func TestGenerateSelfSigned(t *testing.T) {
	certFile, keyFile := writeTestCert(t)

	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)
	require.NotEmpty(t, pair.Certificate)

	pool, err := loadCertPool(certFile)
	require.NoError(t, err)
	assert.NotNil(t, pool)

	_, err = LoadServerTLS(certFile, filepath.Join(t.TempDir(), "missing.key"), "")
	assert.Error(t, err)

	_, err = loadCertPool(keyFile)
	assert.Error(t, err)
}

func TestServerTLS(t *testing.T) {
	certFile, keyFile := writeTestCert(t)
	cfg, err := LoadServerTLS(certFile, keyFile, "")
	require.NoError(t, err)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)

	s := startTLSServer(t, cfg)

	pool, err := loadCertPool(certFile)
	require.NoError(t, err)
	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}},
	}

	resp, err := client.Get("https://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = http.Get("https://" + s.Addr() + "/health")
	assert.Error(t, err, "untrusted certificate must be rejected")
}

func TestServerMutualTLS(t *testing.T) {
	certFile, keyFile := writeTestCert(t)
	cfg, err := LoadServerTLS(certFile, keyFile, certFile)
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)

	s := startTLSServer(t, cfg)

	pool, err := loadCertPool(certFile)
	require.NoError(t, err)
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)

	anonymous := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}},
	}
	_, err = anonymous.Get("https://" + s.Addr() + "/health")
	assert.Error(t, err)

	authenticated := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{
			RootCAs:      pool,
			Certificates: []tls.Certificate{pair},
		}},
	}
	resp, err := authenticated.Get("https://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
