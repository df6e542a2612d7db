package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"
)

var upgrader = websocket.Upgrader{}

// echoServer upgrades every request and echoes text frames back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialSendReceive(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := echoServer(t)
	defer srv.Close()

	tr, err := Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatal(err)
	}

	if err := tr.Send([]byte(`{"hello":"node"}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case frame := <-tr.Frames():
		if string(frame) != `{"hello":"node"}` {
			t.Fatalf("unexpected echo: %s", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	tr.Close()

	// Frame channel must drain to closed after shutdown.
	select {
	case _, ok := <-tr.Frames():
		if ok {
			t.Fatal("unexpected frame after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel not closed after Close")
	}
}

func TestDialUnreachable(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/")
	if err == nil {
		t.Fatal("expect connect error")
	}

	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("expect *ConnectError, got %T", err)
	}
	if connErr.Addr != "ws://127.0.0.1:1/" {
		t.Fatalf("unexpected addr in error: %s", connErr.Addr)
	}
}

func TestSendAfterClose(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr, err := Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatal(err)
	}

	// Close is idempotent.
	tr.Close()
	tr.Close()

	err = tr.Send([]byte("late"))
	if err == nil {
		t.Fatal("expect send error after close")
	}
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expect *SendError, got %T", err)
	}
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
}

func TestPeerDisconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop the connection without a close frame.
		conn.Close()
	}))
	defer srv.Close()

	tr, err := Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	select {
	case _, ok := <-tr.Frames():
		if ok {
			t.Fatal("unexpected frame from dropping peer")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel not closed after peer disconnect")
	}

	if tr.Err() == nil {
		t.Fatal("expect terminal read error after abnormal disconnect")
	}
}

func TestConcurrentSenders(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr, err := Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	const n = 20
	for i := 0; i < n; i++ {
		go func() {
			_ = tr.Send([]byte(`{"n":1}`))
		}()
	}

	// Every frame must come back intact — interleaved writes would corrupt
	// the JSON.
	for i := 0; i < n; i++ {
		select {
		case frame := <-tr.Frames():
			if string(frame) != `{"n":1}` {
				t.Fatalf("corrupted frame: %s", frame)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d frames echoed", i, n)
		}
	}
}
