package wsadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/haasonsaas/orchestra/internal/bus"
	"github.com/haasonsaas/orchestra/pkg/models"
)

func TestAdapter_ServeHTTP_MessageFrameBecomesUserMessageEvent(t *testing.T) {
	commands := bus.NewCommandBus()
	adapter := New(commands, nil)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adapter.ServeHTTP(w, r, "chat-1")
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(server.URL), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.CloseNow()

	frame, _ := json.Marshal(inboundFrame{Type: "message", Text: "hello"})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	evt, err := commands.Receive(ctx)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if evt.Type != models.EventUserMessage {
		t.Fatalf("expected user_message event, got %s", evt.Type)
	}
	if evt.Payload["chat_id"] != "chat-1" || evt.Payload["text"] != "hello" {
		t.Fatalf("unexpected payload: %+v", evt.Payload)
	}
}

func TestAdapter_ServeHTTP_ApprovalFrameBecomesUserApprovalEvent(t *testing.T) {
	commands := bus.NewCommandBus()
	adapter := New(commands, nil)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adapter.ServeHTTP(w, r, "chat-2")
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(server.URL), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.CloseNow()

	frame, _ := json.Marshal(inboundFrame{Type: "approval", Approved: true})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	evt, err := commands.Receive(ctx)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if evt.Type != models.EventUserApproval {
		t.Fatalf("expected user_approval event, got %s", evt.Type)
	}
	if evt.Payload["approved"] != true {
		t.Fatalf("unexpected payload: %+v", evt.Payload)
	}
}

// TestSession_Stream_FlushesImmediatelyOnPermissionRequest drives Session.Stream
// against a real *websocket.Conn (no mock of the coder/websocket API): the
// server handler builds a Session around its own connection and streams a
// single permission_request chunk, which must reach the client without
// waiting for gateway.ThrottleInterval to tick.
func TestSession_Stream_FlushesImmediatelyOnPermissionRequest(t *testing.T) {
	chunks := make(chan models.StreamChunk, 1)
	chunks <- models.StreamChunk{PermissionRequest: []models.ToolCall{{ID: "1", Name: "fail"}}}
	close(chunks)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		session := NewSession(conn, nil)
		session.Stream(r.Context(), chunks)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(server.URL), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.CloseNow()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("expected an immediate frame for permission_request, got error: %v", err)
	}
	var frame outboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if len(frame.PermissionRequest) != 1 {
		t.Fatalf("expected 1 pending permission request, got %+v", frame)
	}
}

// TestSession_Stream_CoalescesRapidChunks sends several chunks faster than
// gateway.ThrottleInterval with no permission_request or terminal chunk among
// them, and expects only the last one to ever be written - the others are
// coalesced away rather than flooding the client.
func TestSession_Stream_CoalescesRapidChunks(t *testing.T) {
	chunks := make(chan models.StreamChunk, 3)
	chunks <- models.StreamChunk{Content: "a"}
	chunks <- models.StreamChunk{Content: "b"}
	chunks <- models.StreamChunk{Content: "c"}

	serverDone := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		session := NewSession(conn, nil)
		session.Stream(r.Context(), chunks)
		close(serverDone)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(server.URL), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.CloseNow()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("expected a coalesced frame within the throttle tick, got error: %v", err)
	}
	var frame outboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if frame.Content != "c" {
		t.Fatalf("expected only the last chunk ('c') to survive coalescing, got %q", frame.Content)
	}

	close(chunks)
	cancel()
	<-serverDone
}

func wsURL(httpURL string) string {
	return "ws" + httpURL[len("http"):]
}
