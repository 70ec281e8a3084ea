package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/telewake/relay-service/internal/domain/registry"
)

const (
	// writeWait bounds every frame write, control frames included.
	writeWait = 10 * time.Second

	// pongWait is how long the peer may stay silent before the
	// connection is considered dead; pings go out early enough to
	// refresh it.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxFrameBytes caps ingress frames. Payloads are small encrypted
	// blobs; anything near this limit is abuse.
	maxFrameBytes = 1 << 20
)

// wsStream wraps a websocket connection into the registry's stream
// contract. A dedicated goroutine owns all reads and feeds the frames
// channel, so the handler can wait for a frame, a deadline, or context
// cancellation in one select without corrupting the connection's read
// state. Writes are serialized by a mutex because the relay engine
// sends from other goroutines.
type wsStream struct {
	conn *websocket.Conn

	mu     sync.Mutex // guards writes
	once   sync.Once
	done   chan struct{}
	frames chan []byte
}

// Interface guard
var _ registry.Stream = (*wsStream)(nil)

func newStream(conn *websocket.Conn) *wsStream {
	s := &wsStream{
		conn:   conn,
		done:   make(chan struct{}),
		frames: make(chan []byte, 1),
	}

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.readLoop()
	go s.keepalive()
	return s
}

// Frames is the ingress channel. It closes when the peer disconnects
// or the stream shuts down.
func (s *wsStream) Frames() <-chan []byte { return s.frames }

func (s *wsStream) readLoop() {
	defer close(s.frames)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case s.frames <- data:
		case <-s.done:
			return
		}
	}
}

func (s *wsStream) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Send writes one text frame. Safe for concurrent use.
func (s *wsStream) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *wsStream) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Send(data)
}

// Close performs an orderly shutdown. The registry calls it when the
// connection is evicted, the handler calls it on exit; both paths are
// safe to race.
func (s *wsStream) Close() error {
	s.shutdown(websocket.CloseNormalClosure)
	return nil
}

// CloseCode shuts the stream down with a specific close code, used for
// policy violations during the handshake.
func (s *wsStream) CloseCode(code int) {
	s.shutdown(code)
}

func (s *wsStream) shutdown(code int) {
	s.once.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(code, "")
		s.mu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
		s.mu.Unlock()
		_ = s.conn.Close()
	})
}
