package server

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/23skdu/longbow-s2s/internal/logger"
	"github.com/23skdu/longbow-s2s/internal/metrics"
)

type LoggingMiddleware struct {
	log       *logger.Logger
	skipPaths map[string]bool
}

func NewLoggingMiddleware(log *logger.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{
		log: log,
		skipPaths: map[string]bool{
			"/health":  true,
			"/healthz": true,
			"/readyz":  true,
			"/metrics": true,
		},
	}
}

// unmatchedEndpoint labels requests no route serves.
const unmatchedEndpoint = "unmatched"

// Middleware tags every request with an X-Request-ID, counts it by route
// pattern and status, and logs it unless it is a probe.
func (m *LoggingMiddleware) Middleware(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, route := mux.Handler(r)
		if route == "" {
			route = unmatchedEndpoint
		}

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		if m.skipPaths[r.URL.Path] {
			mux.ServeHTTP(rec, r)
			metrics.RecordHTTPRequest(route, strconv.Itoa(rec.code))
			return
		}

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		mux.ServeHTTP(rec, r)
		metrics.RecordHTTPRequest(route, strconv.Itoa(rec.code))

		m.log.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code,
			"bytes", rec.bytes,
			"duration_ms", float64(time.Since(start).Microseconds())/1000,
			"client_ip", r.RemoteAddr,
		)
	})
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b)
}

// statusRecorder keeps the status code and body size while still letting
// handlers flush (SSE) and hijack (websocket) the connection.
type statusRecorder struct {
	http.ResponseWriter
	code        int
	bytes       int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.code = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
