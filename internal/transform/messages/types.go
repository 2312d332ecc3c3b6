// Package messages implements the Anthropic Messages wire format: a
// content-block model for unary replies and a block-lifecycle SSE state
// machine (message_start/content_block_start/_delta/_stop/message_delta/
// message_stop) for streaming, the most state-heavy format after Responses.
package messages

import "encoding/json"

// Request is the body of POST /v1/messages.
type Request struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      json.RawMessage `json:"system,omitempty"` // string or []ContentBlock
	Messages    []Message       `json:"messages"`
	Tools       []Tool          `json:"tools,omitempty"`
	ToolChoice  *ToolChoice     `json:"tool_choice,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Thinking    *ThinkingConfig `json:"thinking,omitempty"`
}

// ThinkingConfig requests an extended-thinking budget.
type ThinkingConfig struct {
	Type         string `json:"type"` // "enabled" | "disabled"
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// ToolChoice selects how the model may invoke tools.
type ToolChoice struct {
	Type string `json:"type"` // "auto" | "none" | "any" | "tool"
	Name string `json:"name,omitempty"`
}

// Message is one turn; Anthropic allows only "user" and "assistant" roles
// and rejects two consecutive messages of the same role.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"` // string or []ContentBlock
}

// ContentBlock is one tagged element of a message's content array.
type ContentBlock struct {
	Type string `json:"type"` // "text" | "thinking" | "tool_use" | "tool_result" | "image"

	// type=text
	Text         string          `json:"text,omitempty"`
	CacheControl *CacheControl   `json:"cache_control,omitempty"`

	// type=thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// type=tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type=tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"` // string or []ContentBlock, tool_result only
	IsError   bool            `json:"is_error,omitempty"`

	// type=image
	Source *ImageSource `json:"source,omitempty"`
}

// CacheControl is an opaque cache-breakpoint marker echoed verbatim.
type CacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

// ImageSource is the nested object of an image content block.
type ImageSource struct {
	Type      string `json:"type"` // "base64" | "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Tool describes one tool available to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Response is the non-streaming reply body.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"` // "message"
	Role         string         `json:"role"` // "assistant"
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// Usage holds token counts in Anthropic's cache-aware shape.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	ThinkingTokens           int `json:"thinkingTokens,omitempty"`
}

// StreamEvent is one SSE event in the block-lifecycle streaming protocol.
// Only the fields relevant to its Type are populated.
type StreamEvent struct {
	Type string `json:"type"`

	// message_start
	Message *Response `json:"message,omitempty"`

	// content_block_start / content_block_stop
	Index        *int          `json:"index,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`

	// content_block_delta
	Delta *StreamDelta `json:"delta,omitempty"`

	// message_delta
	Usage *Usage `json:"usage,omitempty"`
}

// StreamDelta is the delta payload of a content_block_delta or
// message_delta event; which fields are set depends on Type.
type StreamDelta struct {
	Type string `json:"type,omitempty"` // "text_delta" | "input_json_delta" | "thinking_delta" | "signature_delta"

	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`

	// message_delta
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}
