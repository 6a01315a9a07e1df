package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/taleweaver/internal/assembler"
	"github.com/MrWong99/taleweaver/pkg/provider/llm"
)

// recapPrompt is the system instruction sent to the LLM when condensing a
// finished session into a recap.
const recapPrompt = `Summarise the following D&D play session between a player and the DM.
Preserve: key decisions, revealed information, NPCs met, promises made, and any
game-mechanical outcomes (dice rolls, damage, item exchanges).
Be concise but preserve all narratively important details.`

// Summariser condenses a session's exchanges into a recap string.
type Summariser interface {
	Summarise(ctx context.Context, exchanges []assembler.Exchange) (string, error)
}

// LLMSummariser uses a generation provider to summarise sessions.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

var _ Summariser = (*LLMSummariser)(nil)

// Summarise formats the exchanges into a transcript and asks the model for a
// condensed recap. An empty exchange list yields an empty recap and no call.
func (s *LLMSummariser) Summarise(ctx context.Context, exchanges []assembler.Exchange) (string, error) {
	if len(exchanges) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, e := range exchanges {
		fmt.Fprintf(&sb, "[%s]: %s\n", e.Role, e.Text)
	}

	resp, err := s.llm.Generate(ctx, llm.Request{
		System:      recapPrompt,
		Prompt:      sb.String(),
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("session: summarise: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Text), nil
}
