// Package utils provides fixtures shared by the integration and e2e tests.
package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"github.com/wesleyemery/k8s-metrics-tables/internal/config"
	"github.com/wesleyemery/k8s-metrics-tables/internal/server"
	"github.com/wesleyemery/k8s-metrics-tables/internal/store"
	"github.com/wesleyemery/k8s-metrics-tables/pkg/metrics"
)

// ServerFixture is one fully wired server on an ephemeral port, with its
// saved-view store in a temporary directory.
type ServerFixture struct {
	BaseURL string
	Store   *store.Store

	httpServer *httptest.Server
	tmpDir     string
}

// FixtureConfig returns the configuration the test fixtures run with.
func FixtureConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:               8080,
			AllowedOrigins:     []string{"*"},
			RequestTimeoutSec:  30,
			ShutdownTimeoutSec: 15,
		},
		Metrics: config.MetricsConfig{
			Source:     config.SourceMock,
			TimeoutSec: 30,
		},
		Tables: config.TablesConfig{
			DefaultPageSize:    10,
			MaxPageSize:        100,
			DefaultIntervalSec: 60,
			DefaultWindowSec:   3600,
			SeriesLimit:        2000,
		},
		Store:   config.StoreConfig{Path: "unused"},
		Logging: config.LoggingConfig{Level: "info", Format: "json"},
	}
}

// StartServer wires a server around the given querier and starts listening.
// Callers must Close the fixture when done.
func StartServer(querier metrics.Querier) (*ServerFixture, error) {
	tmpDir, err := os.MkdirTemp("", "metrics-tables-test-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	st, err := store.Open(filepath.Join(tmpDir, "views.db"), logr.Discard())
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	srv := server.New(FixtureConfig(), querier, st, server.NewTelemetry(), logr.Discard())
	httpServer := httptest.NewServer(srv.Handler())

	return &ServerFixture{
		BaseURL:    httpServer.URL,
		Store:      st,
		httpServer: httpServer,
		tmpDir:     tmpDir,
	}, nil
}

// Close stops the listener and removes the temporary store.
func (f *ServerFixture) Close() {
	f.httpServer.Close()
	f.Store.Close()
	os.RemoveAll(f.tmpDir)
}

// WebSocketURL rewrites the fixture's base URL to the ws scheme.
func (f *ServerFixture) WebSocketURL(path string) string {
	return "ws" + strings.TrimPrefix(f.BaseURL, "http") + path
}

// GetJSON fetches the URL and decodes the response body into out. A nil
// out discards the body.
func GetJSON(url string, out any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// SendJSON issues a request with a JSON body and decodes the JSON answer
// into out when it is non-nil.
func SendJSON(method, url string, body any, out any) (int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequest(method, url, bytes.NewReader(encoded))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Delete issues a DELETE and reports the status code.
func Delete(url string) (int, error) {
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
