// Package wsadapter is the reference Gateway Adapter (C13): one websocket
// connection per chat, using github.com/coder/websocket. It is deliberately
// the only concrete adapter in the tree - no Telegram, Discord, or Slack
// client - per spec.md's Gateway Adapters Non-goal.
package wsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/haasonsaas/orchestra/internal/bus"
	"github.com/haasonsaas/orchestra/internal/gateway"
	"github.com/haasonsaas/orchestra/pkg/models"
)

// inboundFrame is the wire shape a client sends: either a chat message or a
// resolution to a pending permission request.
type inboundFrame struct {
	Type     string `json:"type"` // "message" or "approval"
	Text     string `json:"text,omitempty"`
	Approved bool   `json:"approved,omitempty"`
}

// outboundFrame is the wire shape rendered back to the client for one
// StreamChunk-derived UI update.
type outboundFrame struct {
	Content            string            `json:"content,omitempty"`
	ToolCall           *models.ToolCall  `json:"tool_call,omitempty"`
	ToolResult         *models.ToolResult `json:"tool_result,omitempty"`
	PermissionRequest  []models.ToolCall `json:"permission_request,omitempty"`
	FinishReason       string            `json:"finish_reason,omitempty"`
}

// Adapter serves one websocket connection per HTTP upgrade request,
// forwarding inbound frames onto a Command Bus as user_message/user_approval
// Events, and throttling outbound StreamChunks to gateway.ThrottleInterval.
type Adapter struct {
	commands *bus.CommandBus
	logger   *slog.Logger
}

// New builds an Adapter that publishes inbound Events onto commands.
func New(commands *bus.CommandBus, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default().With("component", "wsadapter")
	}
	return &Adapter{commands: commands, logger: logger}
}

// ServeHTTP upgrades the request to a websocket and blocks, reading inbound
// frames until the connection closes or the request context is cancelled.
// chatID identifies the session this connection belongs to; callers
// typically derive it from a path parameter or query string.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request, chatID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		a.logger.Error("websocket accept failed", "chat_id", chatID, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Debug("websocket read ended", "chat_id", chatID, "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			a.logger.Warn("dropping malformed inbound frame", "chat_id", chatID, "error", err)
			continue
		}

		switch frame.Type {
		case "approval":
			a.commands.Send(gateway.NewUserApprovalEvent(chatID, frame.Approved))
		default:
			a.commands.Send(gateway.NewUserMessageEvent(chatID, frame.Text, "websocket"))
		}
	}
}

// Session renders one agent run's StreamChunks back over conn, throttled to
// at most one frame per gateway.ThrottleInterval. Chunks arriving faster than
// that are coalesced: only the latest pending chunk survives to the next
// tick, except permission_request and the terminal chunk, which always flush
// immediately since the client cannot act on a coalesced-away approval
// prompt or miss the end of a run.
type Session struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

// NewSession wraps conn for outbound rendering.
func NewSession(conn *websocket.Conn, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default().With("component", "wsadapter")
	}
	return &Session{conn: conn, logger: logger}
}

// Stream reads chunks until the channel closes or ctx is done, writing at
// most one coalesced frame per ThrottleInterval tick; permission_request and
// finish chunks are flushed at once. It blocks until it returns.
func (s *Session) Stream(ctx context.Context, chunks <-chan models.StreamChunk) {
	ticker := time.NewTicker(gateway.ThrottleInterval)
	defer ticker.Stop()

	var pending *outboundFrame
	flush := func() {
		if pending == nil {
			return
		}
		s.write(ctx, *pending)
		pending = nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				flush()
				return
			}
			frame := toFrame(chunk)
			pending = &frame
			if len(chunk.PermissionRequest) > 0 || chunk.FinishReason != "" {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Session) write(ctx context.Context, frame outboundFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("failed to marshal outbound frame", "error", err)
		return
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
	}
}

func toFrame(chunk models.StreamChunk) outboundFrame {
	return outboundFrame{
		Content:           chunk.Content,
		ToolCall:          chunk.ToolCall,
		ToolResult:        chunk.ToolResult,
		PermissionRequest: chunk.PermissionRequest,
		FinishReason:      chunk.FinishReason,
	}
}

// Close ends the underlying connection with a normal closure.
func (s *Session) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "session ended")
}

var _ gateway.Outbound = (*syncRenderer)(nil)

// syncRenderer adapts a Session to the gateway.Outbound interface for
// callers that render one chunk at a time outside of Stream's ticker loop
// (e.g. tests, or a synchronous CLI-attached console adapter).
type syncRenderer struct {
	session *Session
}

func (r *syncRenderer) Render(chatID string, chunk models.StreamChunk) error {
	if r.session == nil {
		return fmt.Errorf("wsadapter: no session for chat %q", chatID)
	}
	r.session.write(context.Background(), toFrame(chunk))
	return nil
}
