// Package gateway defines the inbound/outbound contract every channel
// adapter implements (C13). This package ships no channel-specific code -
// no Telegram, Discord, or Slack client - only the shapes and the throttling
// helper a concrete adapter (e.g. internal/gateway/wsadapter) builds on.
package gateway

import (
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/orchestra/pkg/models"
)

// Inbound translates a raw message from one external channel into the
// canonical Event the Command Bus carries: user_message or user_approval.
type Inbound interface {
	// Translate converts a single piece of external input (a chat message,
	// a websocket frame, an HTTP request body) into an Event. raw is the
	// adapter-specific payload; chatID identifies the conversation/session
	// it belongs to.
	Translate(chatID string, raw []byte) (models.Event, error)
}

// Outbound renders an agent's StreamChunks back to one external channel,
// throttled so the channel never receives more than one UI update per
// ThrottleInterval even if the agent produces chunks faster than that.
type Outbound interface {
	// Render delivers chunk to chatID. Implementations that batch partial
	// content between throttle ticks still call Render once per UI update,
	// not once per chunk.
	Render(chatID string, chunk models.StreamChunk) error
}

// ThrottleInterval is the minimum gap between UI updates spec.md §4.13
// requires (at least one update per second is allowed through; any faster
// stream of chunks between ticks is coalesced by the adapter).
const ThrottleInterval = time.Second

// NewUserMessageEvent builds the user_message Event every Inbound adapter
// converges on: payload.chat_id / payload.text, optionally payload.source
// naming which channel it came from.
func NewUserMessageEvent(chatID, text, source string) models.Event {
	payload := map[string]any{"chat_id": chatID, "text": text}
	if source != "" {
		payload["source"] = source
	}
	return models.Event{ID: uuid.NewString(), Type: models.EventUserMessage, Payload: payload, Timestamp: time.Now()}
}

// NewUserApprovalEvent builds the user_approval Event an Outbound's
// approve/deny affordance resolves to.
func NewUserApprovalEvent(chatID string, approved bool) models.Event {
	return models.Event{
		ID:        uuid.NewString(),
		Type:      models.EventUserApproval,
		Payload:   map[string]any{"chat_id": chatID, "approved": approved},
		Timestamp: time.Now(),
	}
}
