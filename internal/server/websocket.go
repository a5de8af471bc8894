package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/23skdu/longbow-s2s/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WSMessage is every server to client frame. Type is "char", "done" or
// "error".
type WSMessage struct {
	Type  string `json:"type"`
	Char  string `json:"char,omitempty"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
	Code  int    `json:"code,omitempty"`
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// WebSocketHandler serves translations over one connection: each text frame
// {"text": "..."} is answered with a "char" frame per decoded character and
// a final "done" frame. Requests on a connection run one at a time.
func (s *Server) WebSocketHandler() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return NewCORSMiddleware(s.cfg.AllowedOrigins).isOriginAllowed(origin)
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", "err", err)
			return
		}
		c := &wsConn{conn: conn}
		defer conn.Close()

		metrics.ActiveStreams.Inc()
		defer metrics.ActiveStreams.Dec()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go s.pingLoop(ctx, c)

		if s.cfg.MaxInputBytes > 0 {
			conn.SetReadLimit(s.cfg.MaxInputBytes)
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Warn("websocket read failed", "err", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(wsPongWait))

			var req TranslateRequest
			if err := json.Unmarshal(data, &req); err != nil {
				if c.send(WSMessage{Type: "error", Error: "invalid JSON", Code: http.StatusBadRequest}) != nil {
					return
				}
				continue
			}
			if err := s.serveWS(ctx, c, req); err != nil {
				s.log.Debug("websocket write failed", "err", err)
				return
			}
		}
	}
}

// serveWS runs one translation. It returns an error only when the
// connection can no longer be written to.
func (s *Server) serveWS(ctx context.Context, c *wsConn, req TranslateRequest) error {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	var writeErr error
	text, err := s.tr.Stream(ctx, req.Text, func(r rune) error {
		writeErr = c.send(WSMessage{Type: "char", Char: string(r)})
		return writeErr
	})
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		return c.send(WSMessage{Type: "error", Error: err.Error(), Code: StatusFor(err)})
	}
	return c.send(WSMessage{Type: "done", Text: text})
}

func (s *Server) pingLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
