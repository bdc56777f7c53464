package prompt

import (
	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/agency-assistant/internal/models"
)

const imageMarker = "[imagem]"

// History converts stored messages into chat messages, keeping the newest
// ones whose estimated size fits in budget tokens. The newest message is
// always kept. Order is chronological.
func History(messages []*models.ChatMessage, budget int) []openai.ChatCompletionMessage {
	var kept []openai.ChatCompletionMessage
	used := 0
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		content := m.Content
		if m.Image != "" {
			if content == "" {
				content = imageMarker
			} else {
				content = imageMarker + " " + content
			}
		}
		if content == "" {
			continue
		}

		cost := EstimateTokens(content) + 4
		if len(kept) > 0 && used+cost > budget {
			break
		}
		used += cost
		kept = append(kept, openai.ChatCompletionMessage{
			Role:    chatRole(m.Role),
			Content: content,
		})
	}

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// RecentUserTexts returns up to n of the latest user utterances, oldest first.
func RecentUserTexts(messages []*models.ChatMessage, n int) []string {
	var out []string
	for i := len(messages) - 1; i >= 0 && len(out) < n; i-- {
		if messages[i].Role == models.RoleUser && messages[i].Content != "" {
			out = append(out, messages[i].Content)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func chatRole(r models.Role) string {
	if r == models.RoleAssistant {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}
