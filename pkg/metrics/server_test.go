// Unit tests for metrics HTTP server
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// serve routes one synthetic request through the server's mux.
func serve(s *MetricsServer, method, path string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for _, fn := range mutate {
		fn(req)
	}
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func TestServerConstruction(t *testing.T) {
	server := NewMetricsServer(NewMotorMetrics(), ":0")
	if server.IsRunning() {
		t.Error("fresh server reports running")
	}
	if !strings.Contains(server.GetAddress(), ":") {
		t.Errorf("GetAddress() = %q, want a listen address", server.GetAddress())
	}

	cfg := MetricsServerConfig{
		Address:      ":9200",
		Username:     "admin",
		Password:     "secret",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	if got := NewMetricsServerWithConfig(NewMotorMetrics(), cfg).GetAddress(); got != ":9200" {
		t.Errorf("configured address = %q, want :9200", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultMetricsServerConfig()
	if cfg.Address != ":9102" {
		t.Errorf("default address = %q, want :9102", cfg.Address)
	}
	if cfg.ReadTimeout != 10*time.Second || cfg.WriteTimeout != 10*time.Second {
		t.Errorf("default timeouts = %v/%v, want 10s/10s", cfg.ReadTimeout, cfg.WriteTimeout)
	}
}

func TestEndpointStatusCodes(t *testing.T) {
	server := NewMetricsServer(NewMotorMetrics(), ":0")

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodHead, "/metrics", http.StatusOK},
		{http.MethodPost, "/metrics", http.StatusMethodNotAllowed},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusServiceUnavailable}, // not started
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/nonexistent", http.StatusNotFound},
	}
	for _, tt := range tests {
		if got := serve(server, tt.method, tt.path).Code; got != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestMetricsExposition(t *testing.T) {
	mm := NewMotorMetrics()
	mm.SetSpeed(1520, 1480, 1500)
	mm.SetMotorState(true, 1, 62)
	server := NewMetricsServer(mm, ":0")

	resp := serve(server, http.MethodGet, "/metrics").Result()
	body, _ := io.ReadAll(resp.Body)

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	mustContain(t, string(body),
		"parmco_rpm_smoothed 1480",
		"parmco_drive_percent 62",
		"parmco_master_enabled 1",
	)
}

func TestHeadMetricsHasNoBody(t *testing.T) {
	server := NewMetricsServer(NewMotorMetrics(), ":0")

	body, _ := io.ReadAll(serve(server, http.MethodHead, "/metrics").Result().Body)
	if len(body) != 0 {
		t.Errorf("HEAD body has %d bytes", len(body))
	}
}

func TestHealthBody(t *testing.T) {
	server := NewMetricsServer(NewMotorMetrics(), ":0")

	body, _ := io.ReadAll(serve(server, http.MethodGet, "/health").Result().Body)
	if string(body) != "OK\n" {
		t.Errorf("health body = %q, want OK", body)
	}
}

func TestLandingPageLinksMetrics(t *testing.T) {
	server := NewMetricsServer(NewMotorMetrics(), ":0")

	body, _ := io.ReadAll(serve(server, http.MethodGet, "/").Result().Body)
	if !strings.Contains(string(body), "/metrics") {
		t.Error("landing page does not mention /metrics")
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := DefaultMetricsServerConfig()
	cfg.Username = "prometheus"
	cfg.Password = "scrapeme"
	server := NewMetricsServerWithConfig(NewMotorMetrics(), cfg)

	withAuth := func(user, pass string) func(*http.Request) {
		return func(r *http.Request) { r.SetBasicAuth(user, pass) }
	}

	if got := serve(server, http.MethodGet, "/metrics").Code; got != http.StatusUnauthorized {
		t.Errorf("no credentials = %d, want 401", got)
	}
	if got := serve(server, http.MethodGet, "/metrics", withAuth("prometheus", "wrong")).Code; got != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", got)
	}
	if got := serve(server, http.MethodGet, "/metrics", withAuth("prometheus", "scrapeme")).Code; got != http.StatusOK {
		t.Errorf("correct credentials = %d, want 200", got)
	}
}

func TestScrapeAccounting(t *testing.T) {
	server := NewMetricsServer(NewMotorMetrics(), ":9102")

	status := server.GetStatus()
	if status["address"] != ":9102" || status["running"] != false {
		t.Errorf("fresh status = %v", status)
	}
	if status["scrapes"] != uint64(0) {
		t.Errorf("fresh scrapes = %v, want 0", status["scrapes"])
	}
	if _, ok := status["last_scrape"]; ok {
		t.Error("last_scrape present before any hit")
	}

	for i := 0; i < 3; i++ {
		serve(server, http.MethodGet, "/metrics")
	}

	status = server.GetStatus()
	if status["scrapes"] != uint64(3) {
		t.Errorf("scrapes = %v, want 3", status["scrapes"])
	}
	if _, ok := status["last_scrape"]; !ok {
		t.Error("last_scrape missing after hits")
	}
}
