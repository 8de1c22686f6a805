package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message roles. Capture rejects anything else.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session groups the messages of one coding interaction.
type Session struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	ProjectPath string            `json:"project_path,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	EndedAt     time.Time         `json:"ended_at,omitzero"`
}

// Message is one conversational turn. Immutable after capture.
type Message struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Thinking       string     `json:"thinking,omitempty"`
	ThinkingTokens int        `json:"thinking_tokens"`
	Model          string     `json:"model,omitempty"`
	InputTokens    int        `json:"input_tokens"`
	OutputTokens   int        `json:"output_tokens"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ToolCall records one external action invoked during a turn.
// Embedded in its message, read-only after capture.
type ToolCall struct {
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     string          `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS *int64          `json:"duration_ms,omitempty"`
}

// CaptureInput is the wire shape accepted on the capture path. Clients name
// the thinking text and token count inconsistently; Normalize reconciles the
// aliases into the canonical Message fields so nothing downstream ever sees
// the alternate names.
type CaptureInput struct {
	ID        string     `json:"id,omitempty"`
	SessionID string     `json:"session_id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Model     string     `json:"model,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitzero"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Thinking text aliases, first non-empty wins.
	ThinkingContent string `json:"thinking_content,omitempty"`
	ThinkingText    string `json:"thinking_text,omitempty"`
	Thinking        string `json:"thinking,omitempty"`
	Thoughts        string `json:"thoughts,omitempty"`

	// Thinking token aliases, first non-nil wins. Defaults to 0.
	ThinkingTokens     *int `json:"thinking_tokens,omitempty"`
	ThinkingTokenCount *int `json:"thinking_token_count,omitempty"`
	ThoughtsTokenCount *int `json:"thoughts_token_count,omitempty"`
}

// Normalize builds the canonical Message from a capture input, generating an
// id and timestamp when the client supplied none.
func (in *CaptureInput) Normalize() *Message {
	msg := &Message{
		ID:           in.ID,
		SessionID:    in.SessionID,
		Role:         in.Role,
		Content:      in.Content,
		Model:        in.Model,
		InputTokens:  in.InputTokens,
		OutputTokens: in.OutputTokens,
		ToolCalls:    in.ToolCalls,
		CreatedAt:    in.CreatedAt,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	for _, alias := range []string{in.ThinkingContent, in.ThinkingText, in.Thinking, in.Thoughts} {
		if alias != "" {
			msg.Thinking = alias
			break
		}
	}
	for _, alias := range []*int{in.ThinkingTokens, in.ThinkingTokenCount, in.ThoughtsTokenCount} {
		if alias != nil {
			msg.ThinkingTokens = *alias
			break
		}
	}
	return msg
}

// ValidRole reports whether role is one of the three fixed values.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
