package openai

import (
	"fmt"
	"strings"

	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
)

type inputItem struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type responsesRequest struct {
	Model        string      `json:"model"`
	Instructions string      `json:"instructions,omitempty"`
	Input        []inputItem `json:"input"`
	Temperature  *float64    `json:"temperature,omitempty"`
	Stream       bool        `json:"stream,omitempty"`
}

type responsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string         `json:"refusal,omitempty"`
	Usage   responsesUsage `json:"usage,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

// buildInput flattens the conversation into Responses API input items.
// Reasoning is never replayed; tool invocations are summarized as text.
func buildInput(history []*domain.Message) []inputItem {
	out := make([]inputItem, 0, len(history))
	for _, m := range history {
		if m == nil {
			continue
		}
		switch m.Role {
		case domain.RoleUser:
			content := userContent(m.Parts)
			if len(content) > 0 {
				out = append(out, inputItem{Role: "user", Content: content})
			}
		case domain.RoleAssistant, domain.RoleSystem:
			if text := flattenText(m.Parts); text != "" {
				out = append(out, inputItem{Role: string(m.Role), Content: text})
			}
		}
	}
	return out
}

func userContent(parts domain.Parts) []contentItem {
	out := []contentItem{}
	for _, p := range parts {
		switch v := p.(type) {
		case domain.TextPart:
			out = append(out, contentItem{Type: "input_text", Text: v.Text})
		case domain.AttachmentRefPart:
			if strings.HasPrefix(strings.ToLower(v.ContentType), "image/") {
				out = append(out, contentItem{Type: "input_image", ImageURL: v.URL})
				continue
			}
			out = append(out, contentItem{Type: "input_text", Text: fmt.Sprintf("[attachment %s: %s]", v.Name, v.URL)})
		case domain.ReasoningPart, domain.ToolInvocationPart:
		}
	}
	return out
}

func flattenText(parts domain.Parts) string {
	var b strings.Builder
	for _, p := range parts {
		switch v := p.(type) {
		case domain.TextPart:
			b.WriteString(v.Text)
		case domain.ToolInvocationPart:
			if v.State == domain.ToolStateResult {
				fmt.Fprintf(&b, "\n[tool %s returned %s]\n", v.ToolName, string(v.Result))
			}
		case domain.AttachmentRefPart:
			fmt.Fprintf(&b, "\n[attachment %s]\n", v.URL)
		case domain.ReasoningPart:
		}
	}
	return strings.TrimSpace(b.String())
}
