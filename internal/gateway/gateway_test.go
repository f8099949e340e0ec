package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relatim/backend/internal/chat"
	"github.com/relatim/backend/internal/realtime"
)

func newTestGateway(t *testing.T) (*realtime.Registry, *httptest.Server) {
	t.Helper()
	registry := realtime.NewRegistry()
	sessionGateway, err := New(registry, nil)
	if err != nil {
		t.Fatalf("failed to construct gateway: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(sessionGateway.Handle))
	t.Cleanup(server.Close)
	return registry, server
}

func dialGateway(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial gateway: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

func TestGatewayRegistersOnAuthFrame(t *testing.T) {
	registry, server := newTestGateway(t)
	conn := dialGateway(t, server)

	if err := conn.WriteJSON(map[string]string{"type": "auth", "userId": "user-1"}); err != nil {
		t.Fatalf("failed to send auth frame: %v", err)
	}

	waitFor(t, "registration", func() bool {
		_, ok := registry.Lookup("user-1")
		return ok
	})
}

func TestGatewayIgnoresFramesBeforeAuth(t *testing.T) {
	registry, server := newTestGateway(t)
	conn := dialGateway(t, server)

	// None of these may bind an identity or kill the connection.
	frames := []string{
		`not json at all`,
		`{"type":"typing"}`,
		`{"type":"auth","userId":"   "}`,
	}
	for _, frame := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("failed to send frame %q: %v", frame, err)
		}
	}

	time.Sleep(100 * time.Millisecond)
	if registry.Count() != 0 {
		t.Fatalf("expected no registrations, got %d", registry.Count())
	}

	// The connection is still usable: a valid auth frame succeeds.
	if err := conn.WriteJSON(map[string]string{"type": "auth", "userId": "user-1"}); err != nil {
		t.Fatalf("failed to send auth frame: %v", err)
	}
	waitFor(t, "registration after garbage frames", func() bool {
		_, ok := registry.Lookup("user-1")
		return ok
	})
}

func TestGatewayPushesEnqueuedEvents(t *testing.T) {
	registry, server := newTestGateway(t)
	conn := dialGateway(t, server)

	if err := conn.WriteJSON(map[string]string{"type": "auth", "userId": "user-1"}); err != nil {
		t.Fatalf("failed to send auth frame: %v", err)
	}
	waitFor(t, "registration", func() bool {
		_, ok := registry.Lookup("user-1")
		return ok
	})

	channel, _ := registry.Lookup("user-1")
	if !channel.Enqueue(realtime.Event{
		Type:    realtime.EventNewMessage,
		Message: &chat.Message{ID: 7, SenderID: "user-2", RecipientID: "user-1", Text: "hi"},
	}) {
		t.Fatal("expected enqueue to succeed")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read pushed event: %v", err)
	}

	var event struct {
		Type    string `json:"type"`
		Message struct {
			ID          int64  `json:"id"`
			SenderID    string `json:"sender_id"`
			RecipientID string `json:"recipient_id"`
			Text        string `json:"text"`
		} `json:"message"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if event.Type != realtime.EventNewMessage {
		t.Fatalf("expected %s event, got %s", realtime.EventNewMessage, event.Type)
	}
	if event.Message.ID != 7 || event.Message.Text != "hi" || event.Message.SenderID != "user-2" {
		t.Fatalf("unexpected event payload: %+v", event.Message)
	}
}

func TestGatewayUnregistersOnClose(t *testing.T) {
	registry, server := newTestGateway(t)
	conn := dialGateway(t, server)

	if err := conn.WriteJSON(map[string]string{"type": "auth", "userId": "user-1"}); err != nil {
		t.Fatalf("failed to send auth frame: %v", err)
	}
	waitFor(t, "registration", func() bool {
		_, ok := registry.Lookup("user-1")
		return ok
	})

	_ = conn.Close()

	waitFor(t, "unregistration after close", func() bool {
		_, ok := registry.Lookup("user-1")
		return !ok
	})
}

func TestGatewaySecondChannelSupersedesFirst(t *testing.T) {
	registry, server := newTestGateway(t)

	firstConn := dialGateway(t, server)
	if err := firstConn.WriteJSON(map[string]string{"type": "auth", "userId": "user-1"}); err != nil {
		t.Fatalf("failed to auth first channel: %v", err)
	}
	waitFor(t, "first registration", func() bool {
		_, ok := registry.Lookup("user-1")
		return ok
	})
	firstChannel, _ := registry.Lookup("user-1")

	secondConn := dialGateway(t, server)
	if err := secondConn.WriteJSON(map[string]string{"type": "auth", "userId": "user-1"}); err != nil {
		t.Fatalf("failed to auth second channel: %v", err)
	}
	waitFor(t, "supersession", func() bool {
		channel, ok := registry.Lookup("user-1")
		return ok && channel != firstChannel
	})

	// The stale channel closing afterwards must not evict the new one.
	_ = firstConn.Close()
	time.Sleep(100 * time.Millisecond)
	if _, ok := registry.Lookup("user-1"); !ok {
		t.Fatal("closing the superseded channel removed the live registration")
	}
}
