package agent

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/haasonsaas/orchestra/pkg/models"
)

// LLMProvider is the contract every model backend implements (C4). Both
// operations take the full conversation history and the tools currently
// available to the agent; neither operation mutates history itself.
//
// Concrete bindings (OpenAI, Anthropic, local models, ...) live outside this
// module's scope — callers supply an LLMProvider implementation.
type LLMProvider interface {
	// Name identifies the provider for logging and metrics labels.
	Name() string

	// Generate runs one non-streaming completion over history given the
	// supplied tool definitions.
	Generate(ctx context.Context, history []models.Message, tools []LLMTool) (*models.AgentResponse, error)

	// Stream runs the same operation as Generate but delivers the response
	// incrementally. The returned channel is closed when the turn completes
	// (successfully or not); a send on the channel never blocks past ctx
	// cancellation.
	Stream(ctx context.Context, history []models.Message, tools []LLMTool) (<-chan models.StreamChunk, error)
}

// SynthesizeToolCallID produces a stable, deterministic tool call ID for
// providers that omit one, by hashing turnIndex, positionInTurn and toolName.
// The loop passes its step counter as turnIndex, which starts at 0 on every
// Stream call; positionInTurn is the tool call's position within that turn's
// tool_calls list. The same three inputs always give the same ID.
func SynthesizeToolCallID(turnIndex, positionInTurn int, toolName string) string {
	h := sha1.New()
	fmt.Fprintf(h, "%d:%d:%s", turnIndex, positionInTurn, toolName)
	sum := h.Sum(nil)
	return "call_" + hex.EncodeToString(sum[:8])
}
