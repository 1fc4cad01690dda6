package transport

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestTokenBucketRefillsAndBlocks(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(2, 100) // 2 burst, 100/sec refill

	ctx := context.Background()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("second wait (burst): %v", err)
	}

	start := time.Now()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("third wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("third token should have required a refill wait, took %v", elapsed)
	}
}

func TestTokenBucketRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 0.001) // effectively never refills within the test window
	tb.Wait(context.Background())  // drain the only token

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := tb.Wait(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestWSStreamRoundTrip(t *testing.T) {
	t.Parallel()
	upgrader := websocket.Upgrader{}
	received := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(msg)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"echo"}`))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	stream := NewWSStream(slog.Default())
	stream.PingInterval = time.Hour // don't interfere with the test

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got := make(chan []byte, 1)
	go stream.Run(ctx, wsURL,
		func(s Sender) error { return s.SendRaw([]byte("hello")) },
		func(msg []byte) { got <- msg },
	)

	select {
	case msg := <-received:
		if msg != "hello" {
			t.Errorf("server received %q, want hello", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received the on-connect message")
	}

	select {
	case msg := <-got:
		if string(msg) != `{"type":"echo"}` {
			t.Errorf("client received %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("client never received the echo")
	}
}
