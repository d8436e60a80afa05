package agent

import (
	"context"
	"fmt"

	"github.com/haasonsaas/orchestra/pkg/models"
)

// EchoProvider is the in-memory LLMProvider fake the Non-goal around real
// SDKs (OpenAI, Anthropic, ...) leaves in its place: it never calls out to
// anything, always completes the turn with no tool calls, and exists so the
// rest of the system (loop, plan director, CLI default wiring) has a
// concrete provider to run against without a network or an API key.
type EchoProvider struct {
	// Prefix is prepended to the echoed reply, e.g. "echo: ".
	Prefix string
}

// NewEchoProvider builds an EchoProvider with the given reply prefix.
func NewEchoProvider(prefix string) *EchoProvider {
	return &EchoProvider{Prefix: prefix}
}

func (p *EchoProvider) Name() string { return "echo" }

func (p *EchoProvider) Generate(ctx context.Context, history []models.Message, tools []LLMTool) (*models.AgentResponse, error) {
	return &models.AgentResponse{Content: p.reply(history)}, nil
}

func (p *EchoProvider) Stream(ctx context.Context, history []models.Message, tools []LLMTool) (<-chan models.StreamChunk, error) {
	ch := make(chan models.StreamChunk, 1)
	ch <- models.StreamChunk{Content: p.reply(history), FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func (p *EchoProvider) reply(history []models.Message) string {
	last := lastUserContent(history)
	return fmt.Sprintf("%s%s", p.Prefix, last)
}

func lastUserContent(history []models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Content
		}
	}
	return ""
}
