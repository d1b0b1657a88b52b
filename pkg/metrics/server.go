// Prometheus scrape endpoint for the motor host
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// MetricsServer exposes a MotorMetrics instance over HTTP. /metrics
// serves the Prometheus text rendering, /health and /ready serve the
// usual probes, and / is a landing page listing the endpoints. Scrape
// requests may be gated behind basic auth.
type MetricsServer struct {
	mm   *MotorMetrics
	addr string

	server *http.Server
	mux    *http.ServeMux

	username string
	password string

	mu         sync.RWMutex
	running    bool
	startTime  time.Time
	scrapes    uint64
	lastScrape time.Time
}

// MetricsServerConfig carries the listen and auth settings.
type MetricsServerConfig struct {
	// Address is the listen address, e.g. ":9102".
	Address string

	// Username/Password enable basic auth on /metrics when both or
	// either is non-empty.
	Username string
	Password string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultMetricsServerConfig returns the host defaults: port 9102,
// no auth.
func DefaultMetricsServerConfig() MetricsServerConfig {
	return MetricsServerConfig{
		Address:      ":9102",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewMetricsServer creates a server on addr with the default config.
func NewMetricsServer(mm *MotorMetrics, addr string) *MetricsServer {
	cfg := DefaultMetricsServerConfig()
	cfg.Address = addr
	return NewMetricsServerWithConfig(mm, cfg)
}

// NewMetricsServerWithConfig creates a server from an explicit config.
func NewMetricsServerWithConfig(mm *MotorMetrics, cfg MetricsServerConfig) *MetricsServer {
	ms := &MetricsServer{
		mm:       mm,
		addr:     cfg.Address,
		mux:      http.NewServeMux(),
		username: cfg.Username,
		password: cfg.Password,
	}

	for _, route := range []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"/metrics", ms.handleMetrics},
		{"/health", ms.handleHealth},
		{"/ready", ms.handleReady},
		{"/", ms.handleRoot},
	} {
		ms.mux.HandleFunc(route.pattern, route.handler)
	}

	ms.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      ms.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return ms
}

// Start serves until Shutdown is called or the listener fails.
func (ms *MetricsServer) Start() error {
	ms.mu.Lock()
	ms.running = true
	ms.startTime = time.Now()
	ms.mu.Unlock()

	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// StartAsync runs Start in a goroutine. The returned channel delivers
// a listener failure and is closed when the server stops.
func (ms *MetricsServer) StartAsync() chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := ms.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops accepting requests and drains in-flight ones.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	ms.mu.Lock()
	ms.running = false
	ms.mu.Unlock()
	return ms.server.Shutdown(ctx)
}

func (ms *MetricsServer) IsRunning() bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.running
}

func (ms *MetricsServer) GetAddress() string {
	return ms.addr
}

func (ms *MetricsServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !ms.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="PARMCO Metrics"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ms.mu.Lock()
	ms.scrapes++
	ms.lastScrape = time.Now()
	ms.mu.Unlock()

	body := ms.mm.Gather()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		return
	}
	_, _ = w.Write([]byte(body))
}

func (ms *MetricsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (ms *MetricsServer) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if ms.IsRunning() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready\n"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("Not Ready\n"))
}

func (ms *MetricsServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<html><head><title>PARMCO Motor Host</title></head>
<body><h1>PARMCO Motor Host</h1><pre>
<a href="/metrics">/metrics</a>  Prometheus metrics
<a href="/health">/health</a>   liveness probe
<a href="/ready">/ready</a>    readiness probe
</pre></body></html>
`)
}

// authorized checks basic auth against the configured credentials
// in constant time.
func (ms *MetricsServer) authorized(r *http.Request) bool {
	if ms.username == "" && ms.password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(ms.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(ms.password)) == 1
	return userOK && passOK
}

// GetStatus reports listener state plus scrape activity, for the
// diagnostics log and the monitor status page.
func (ms *MetricsServer) GetStatus() map[string]any {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	status := map[string]any{
		"address": ms.addr,
		"running": ms.running,
		"scrapes": ms.scrapes,
	}
	if ms.running {
		status["uptime"] = time.Since(ms.startTime).Seconds()
	}
	if !ms.lastScrape.IsZero() {
		status["last_scrape"] = ms.lastScrape.Format(time.RFC3339)
	}
	return status
}
