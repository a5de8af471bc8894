package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/23skdu/longbow-s2s/internal/metrics"
)

// Version is overridden at build time with -ldflags "-X ...server.Version=".
var Version = "0.1.0"

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Decoded   int64             `json:"decoded_chars"`
	Checks    map[string]Status `json:"checks"`
}

type Status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
}

var startTime = time.Now()

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now(),
			Version:   Version,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			Decoded:   metrics.TotalChars(),
			Checks:    s.checks(),
		}
		for _, c := range status.Checks {
			if c.Status != "healthy" {
				status.Status = "degraded"
				break
			}
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK\n"))
	}
}

func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := s.checks()
		for _, c := range checks {
			if c.Status != "healthy" {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"status": "not ready",
					"checks": checks,
				})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready\n"))
	}
}

func VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VersionInfo{Version: Version, GoVersion: runtime.Version()})
	}
}

func (s *Server) checks() map[string]Status {
	return map[string]Status{
		"translator": s.checkTranslator(),
		"memory":     checkMemory(),
		"goroutines": checkGoroutines(),
	}
}

func (s *Server) checkTranslator() Status {
	if !s.ready.Load() {
		return Status{Status: "unavailable", Message: "translator not loaded or shutting down"}
	}
	return Status{Status: "healthy"}
}

func checkMemory() Status {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Alloc > 1<<30 {
		return Status{Status: "warning", Message: "High memory usage"}
	}
	return Status{Status: "healthy"}
}

func checkGoroutines() Status {
	if runtime.NumGoroutine() > 10000 {
		return Status{Status: "warning", Message: "High number of goroutines"}
	}
	return Status{Status: "healthy"}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
