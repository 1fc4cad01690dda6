// Package transport implements the two venue-agnostic wire carriers
// every connector is built on: a reconnecting WebSocket stream and a
// rate-limited, retrying REST client. Venue packages speak their own
// message dialect on top of these; transport only owns connection
// lifecycle, reconnection, and delivery.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval     = 50 * time.Second
	defaultReadTimeout      = 90 * time.Second
	defaultMaxReconnectWait = 30 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// StreamTransport is a long-lived, self-reconnecting message channel. A
// venue's Price or Trade Connector supplies OnMessage/OnConnect
// callbacks and lets the transport own dial, backoff, and keep-alive.
type StreamTransport interface {
	// Run dials url and reads until ctx is cancelled, reconnecting with
	// exponential backoff whenever the connection drops. OnConnect is
	// invoked after every successful dial, including reconnects, so the
	// caller can re-subscribe. OnMessage is invoked for every frame read.
	Run(ctx context.Context, url string, onConnect func(Sender) error, onMessage func([]byte)) error
	// Send writes v as a JSON text frame on the current connection.
	Send(v any) error
	// SendRaw writes data as a text frame on the current connection.
	SendRaw(data []byte) error
	// Close tears down the current connection, if any.
	Close() error
}

// Sender is the subset of StreamTransport an OnConnect callback needs to
// issue its initial subscription.
type Sender interface {
	Send(v any) error
	SendRaw(data []byte) error
}

// WSStream is the gorilla/websocket-backed StreamTransport every venue
// package uses. It is the generalisation of the market/user WebSocket
// feed pairing the reference implementation hand-rolled per venue.
type WSStream struct {
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	MaxReconnectWait time.Duration
	WriteTimeout     time.Duration
	PingPayload      []byte

	// OnReconnect, if set, is invoked every time the read loop has to
	// redial after a drop or a failed dial (not before the first dial).
	// Composition roots use this to feed a reconnect counter without transport depending on a
	// metrics library directly.
	OnReconnect func()

	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewWSStream constructs a WSStream with the reference implementation's
// keep-alive timings as defaults.
func NewWSStream(logger *slog.Logger) *WSStream {
	return &WSStream{
		PingInterval:     defaultPingInterval,
		ReadTimeout:      defaultReadTimeout,
		MaxReconnectWait: defaultMaxReconnectWait,
		WriteTimeout:     defaultWriteTimeout,
		PingPayload:      []byte("PING"),
		logger:           logger,
	}
}

// Run implements StreamTransport.
func (s *WSStream) Run(ctx context.Context, url string, onConnect func(Sender) error, onMessage func([]byte)) error {
	backoff := time.Second

	for {
		err := s.connectAndRead(ctx, url, onConnect, onMessage)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		s.logger.Warn("stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.MaxReconnectWait {
			backoff = s.MaxReconnectWait
		}
	}
}

func (s *WSStream) connectAndRead(ctx context.Context, url string, onConnect func(Sender) error, onMessage func([]byte)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if onConnect != nil {
		if err := onConnect(s); err != nil {
			return fmt.Errorf("on-connect: %w", err)
		}
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		onMessage(msg)
	}
}

func (s *WSStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SendRaw(s.PingPayload); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

// Send implements StreamTransport.
func (s *WSStream) Send(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("transport: stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	return s.conn.WriteJSON(v)
}

// SendRaw implements StreamTransport.
func (s *WSStream) SendRaw(data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("transport: stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements StreamTransport.
func (s *WSStream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
