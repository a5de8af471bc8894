package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/23skdu/longbow-s2s/internal/entity"
	"github.com/23skdu/longbow-s2s/internal/metrics"
)

type TranslateRequest struct {
	Text string `json:"text"`
}

type TranslateResponse struct {
	Text       string         `json:"text"`
	Raw        string         `json:"raw"`
	Entities   []entity.Found `json:"entities"`
	Steps      int            `json:"steps"`
	StopReason string         `json:"stop_reason"`
	DurationMs float64        `json:"duration_ms"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (s *Server) TranslateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		req, code, err := s.decodeRequest(w, r)
		if err != nil {
			writeError(w, code, err)
			return
		}

		ctx, cancel := s.requestContext(r.Context())
		defer cancel()

		res, err := s.tr.TranslateDetailed(ctx, req.Text)
		if err != nil {
			writeError(w, StatusFor(err), err)
			return
		}

		found := res.Entities
		if found == nil {
			found = []entity.Found{}
		}
		writeJSON(w, http.StatusOK, TranslateResponse{
			Text:       res.Text,
			Raw:        res.Raw,
			Entities:   found,
			Steps:      res.Steps,
			StopReason: string(res.StopReason),
			DurationMs: float64(res.Duration.Microseconds()) / 1000,
		})
	}
}

// StreamHandler sends one "data" event per decoded character, then a
// "done" event carrying the reinjected text, or an "error" event.
func (s *Server) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
			return
		}
		req, code, err := s.decodeRequest(w, r)
		if err != nil {
			writeError(w, code, err)
			return
		}

		ctx, cancel := s.requestContext(r.Context())
		defer cancel()

		metrics.ActiveStreams.Inc()
		defer metrics.ActiveStreams.Dec()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		text, err := s.tr.Stream(ctx, req.Text, func(c rune) error {
			if err := writeEvent(w, "", map[string]string{"char": string(c)}); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		})
		if err != nil {
			s.log.Warn("stream failed", "err", err)
			writeEvent(w, "error", ErrorResponse{Error: err.Error(), Code: StatusFor(err)})
			flusher.Flush()
			return
		}
		writeEvent(w, "done", map[string]string{"text": text})
		flusher.Flush()
	}
}

// decodeRequest reads the JSON body, bounded by MaxInputBytes.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (TranslateRequest, int, error) {
	var req TranslateRequest
	body := r.Body
	if s.cfg.MaxInputBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.MaxInputBytes)
	}
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return req, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooBig.Limit)
		}
		return req, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err)
	}
	return req, 0, nil
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error(), Code: code})
}
