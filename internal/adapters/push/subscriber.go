// Package push keeps a websocket subscription to the backend's event channel
// open and hands every text frame to a handler.
package push

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultBaseDelay    = 1 * time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 60 * time.Second
	writeTimeout        = 10 * time.Second
)

// Options tunes reconnect and keepalive timing. Zero values use defaults.
type Options struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
	// OnReconnect runs after every connect except the first. Events sent
	// while disconnected are lost, so callers usually invalidate their cache.
	OnReconnect func()
	Dialer      *websocket.Dialer
}

// Subscriber is a reconnecting websocket client.
type Subscriber struct {
	url    string
	token  string
	handle func([]byte) bool
	opts   Options

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn

	connects atomic.Int64
	frames   atomic.Int64
}

// NewSubscriber creates a subscriber for url. handle receives each frame;
// its return value only feeds the logs.
func NewSubscriber(url, token string, handle func([]byte) bool, opts Options) *Subscriber {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaultPongTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Subscriber{url: url, token: token, handle: handle, opts: opts}
}

// Run connects and reads until ctx ends, reconnecting with exponential
// backoff after every failure.
// POST: Returns nil once ctx is done
func (s *Subscriber) Run(ctx context.Context) error {
	delay := s.opts.BaseDelay
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := s.dial(ctx)
		if err != nil {
			slog.Warn("push_dial_failed", "error", err, "retry_in", delay)
			if !sleep(ctx, delay) {
				return nil
			}
			delay = min(delay*2, s.opts.MaxDelay)
			continue
		}
		delay = s.opts.BaseDelay

		n := s.connects.Add(1)
		slog.Info("push_connected", "connects", n)
		if n > 1 && s.opts.OnReconnect != nil {
			s.opts.OnReconnect()
		}

		err = s.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("push_disconnected", "error", err, "retry_in", delay)
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

func (s *Subscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, resp, err := s.opts.Dialer.DialContext(ctx, s.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// serve owns conn until the read loop fails or ctx ends.
func (s *Subscriber) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close()
	}()

	// Closing the connection is the only way to unblock ReadMessage.
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()
	go s.pingLoop(connCtx, conn)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})
	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.frames.Add(1)
		if !s.handle(data) {
			slog.Warn("push_frame_not_queued", "bytes", len(data))
		}
	}
}

func (s *Subscriber) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Connected reports whether a connection is currently open.
func (s *Subscriber) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Stats reports how many times the subscriber connected and how many frames
// it received.
func (s *Subscriber) Stats() (connects, frames int64) {
	return s.connects.Load(), s.frames.Load()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
