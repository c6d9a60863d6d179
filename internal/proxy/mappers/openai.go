// Package mappers holds the OpenAI wire shapes the relay accepts and
// emits, plus the translation between the multi-turn message list and the
// single flattened prompt the upstream session takes.
package mappers

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChatRequest is the inbound /v1/chat/completions payload. Sampling knobs
// are accepted for compatibility but the upstream has its own parameter
// surface, so they are not forwarded 1:1.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	N           *int      `json:"n,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// ImagePart is an image reference from a multimodal turn: either a data:
// URI with inline base64 or a remote http(s) URL.
type ImagePart struct {
	URL string
}

// Message is one role-tagged turn. Content arrives either as a plain
// string or as the multimodal parts array; both decode into Text plus the
// extracted image references.
type Message struct {
	Role   string
	Text   string
	Images []ImagePart
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	m.Role = alias.Role

	var strContent string
	if err := json.Unmarshal(alias.Content, &strContent); err == nil {
		m.Text = strContent
		return nil
	}

	var parts []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL struct {
			URL string `json:"url"`
		} `json:"image_url"`
	}
	if err := json.Unmarshal(alias.Content, &parts); err != nil {
		return fmt.Errorf("message content is neither string nor parts array: %w", err)
	}

	var texts []string
	for _, part := range parts {
		switch part.Type {
		case "text":
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		case "image_url":
			if part.ImageURL.URL != "" {
				m.Images = append(m.Images, ImagePart{URL: part.ImageURL.URL})
			}
		}
	}
	m.Text = strings.Join(texts, "\n")
	return nil
}

// FlattenPrompt concatenates the turn list into the single role-labelled
// prompt the upstream accepts, and collects every image reference in turn
// order. Each image contributes an "[Image]" placeholder in the text.
func FlattenPrompt(messages []Message) (string, []ImagePart) {
	var sb strings.Builder
	var images []ImagePart

	for _, msg := range messages {
		label := capitalize(msg.Role)
		sb.WriteString(label)
		sb.WriteString(": ")
		if msg.Text != "" {
			sb.WriteString(msg.Text)
			sb.WriteString("\n")
		}
		for range msg.Images {
			sb.WriteString("[Image]\n")
		}
		images = append(images, msg.Images...)
	}
	return sb.String(), images
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Response envelopes.

type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int              `json:"index"`
	Message      *ResponseMessage `json:"message,omitempty"`
	Delta        *Delta           `json:"delta,omitempty"`
	FinishReason *string          `json:"finish_reason"`
}

type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Delta struct {
	Content string `json:"content,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type StreamChunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// EstimateTokens approximates a token count from output length (len/4).
// The upstream reports no usage, so this is a documented approximation,
// not a tokenizer.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// NewCompletionID returns a synthetic completion identifier.
func NewCompletionID() string {
	return "chatcmpl-" + uuid.New().String()
}

// NewChatResponse builds the non-streaming completion envelope.
func NewChatResponse(model, text string) ChatResponse {
	stop := "stop"
	est := EstimateTokens(text)
	return ChatResponse{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      &ResponseMessage{Role: "assistant", Content: text},
			FinishReason: &stop,
		}},
		Usage: Usage{
			PromptTokens:     0,
			CompletionTokens: est,
			TotalTokens:      est,
		},
	}
}

// NewStreamChunk builds one delta event. Empty content with a finish
// reason forms the terminal stop-marker chunk.
func NewStreamChunk(id string, created int64, model, content string, finishReason *string) StreamChunk {
	delta := &Delta{}
	if content != "" {
		delta.Content = content
	}
	return StreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
}

// ChunkRunes splits text into fixed-size rune chunks for simulated
// incremental delivery. Rune-based so multi-byte characters never split
// across SSE events.
func ChunkRunes(text string, size int) []string {
	if size < 1 || text == "" {
		return nil
	}
	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// Image endpoints.

type ImageRequest struct {
	Prompt         string `json:"prompt"`
	Model          string `json:"model,omitempty"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"` // "url" or "b64_json"
	User           string `json:"user,omitempty"`
}

type ImageData struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt"`
}

type ImageResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

// Model listing.

type ModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type ModelList struct {
	Object string       `json:"object"`
	Data   []ModelEntry `json:"data"`
}
