package trust

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Turn is one message of an assistant conversation.
type Turn struct {
	Role string `json:"role"` // "user" or "model"
	Text string `json:"text"`
}

// AssistantContext identifies who is asking.
type AssistantContext struct {
	Role     string `json:"role"`
	Category string `json:"category"`
}

const (
	assistantSimulationReply = "EcoAssistant (Simulation): Please configure an API Key to enable my neural response engine. Currently I can only simulate responses."
	assistantEmptyReply      = "I apologize, but I am unable to formulate a response at this moment."
	assistantFailureReply    = "My neural pathways are temporarily saturated. Please re-submit your query in a few moments."
)

// Ask answers a sustainability question in the context of the caller's role
// and sector. Like Analyze it degrades to a canned reply instead of failing.
func (g *GeminiAnalyzer) Ask(ctx context.Context, message string, history []Turn, who AssistantContext) string {
	if g.cfg.APIKey == "" {
		return assistantSimulationReply
	}

	contents := make([]content, 0, len(history)+1)
	for _, t := range history {
		role := "model"
		if t.Role == "user" {
			role = "user"
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: t.Text}}})
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: message}}})

	system := fmt.Sprintf(`You are EcoAssistant, an expert AI specialized in industrial supply chain sustainability and blockchain transparency.
Current Context:
- User Role: %s
- Sector: %s
Provide professional, concise, and technically accurate advice on carbon footprint reduction and data integrity.`, who.Role, who.Category)

	text, err := g.generate(ctx, generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: system}}},
		Contents:          contents,
	})
	if err != nil {
		g.logger.Warn("gemini: assistant failed", zap.Error(err))
		return assistantFailureReply
	}
	if strings.TrimSpace(text) == "" {
		return assistantEmptyReply
	}
	return text
}
