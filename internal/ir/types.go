// Package ir defines the unified intermediate representation that every
// wire-format transformer produces and consumes. Nothing in this package
// knows about OpenAI, Anthropic, or Gemini — it is the Esperanto the rest
// of the gateway speaks.
package ir

// Role is the sender of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason is why the model stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
)

// ToolChoiceMode selects how the model is allowed to use tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceNamed    ToolChoiceMode = "named"
)

// ToolChoice is auto/none/required, or a named-function pin.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string // populated when Mode == ToolChoiceNamed
}

// ResponseFormatType constrains the shape of the model's reply.
type ResponseFormatType string

const (
	ResponseFormatText       ResponseFormatType = "text"
	ResponseFormatJSONObject ResponseFormatType = "json_object"
	ResponseFormatJSONSchema ResponseFormatType = "json_schema"
)

// ResponseFormat is an optional constraint on the reply shape.
type ResponseFormat struct {
	Type   ResponseFormatType
	Schema map[string]any // populated when Type == ResponseFormatJSONSchema
}

// ReasoningEffort is a coarse dial on how much the model should think before
// answering. Not every provider honors every value.
type ReasoningEffort string

const (
	ReasoningNone   ReasoningEffort = "none"
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

// Reasoning is the request-side hint for how much thinking budget to allow.
type Reasoning struct {
	Effort    ReasoningEffort
	MaxTokens int
	Enabled   bool
}

// PartType tags the variant of a Part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one tagged piece of message content. Exactly one of the
// type-specific fields is meaningful, selected by Type.
type Part struct {
	Type PartType

	// PartText
	Text string
	// CacheControl is an opaque pass-through tag (e.g. Anthropic's
	// ephemeral cache_control marker). The core never interprets it.
	CacheControl *string

	// PartImage
	URL         string // set when the image is referenced by URL
	InlineData  string // set when the image is inlined as base64
	MediaType   string
}

// Thinking carries a model's chain-of-thought alongside its visible reply.
// Signature is an opaque, provider-specific token that must be echoed back
// verbatim on a later turn; the core never inspects it.
type Thinking struct {
	Content   string
	Signature string
}

// ToolCall is a single invocation the assistant asked for.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-serialized arguments
}

// Content is the body of a Message: nil, a single string, or an ordered
// list of Parts. Exactly one of Text/Parts is meaningful; both empty and
// nil Text means "no content" (distinguish via HasParts/IsNull as needed
// by callers — the zero value is a safe "empty string").
type Content struct {
	// IsNull marks explicit JSON null content (e.g. an assistant message
	// that only carries tool calls).
	IsNull bool
	Text   string
	Parts  []Part
}

// HasParts reports whether Content is the structured-parts variant rather
// than a plain string.
func (c Content) HasParts() bool { return len(c.Parts) > 0 }

// Message is one turn in the conversation.
type Message struct {
	Role    Role
	Content Content

	// Assistant-only fields.
	Thinking  *Thinking
	ToolCalls []ToolCall

	// Tool-only fields.
	ToolCallID string
	ToolName   string // optional echo of the tool name for tool-role messages
}

// Request is the provider-neutral chat completion request.
//
// Invariant: at most one system message, and if present it is Messages[0].
// Invariant: every tool-role message's ToolCallID matches an earlier
// assistant message's tool call ID.
type Request struct {
	Model          string
	Messages       []Message
	Tools          []ToolDefinition
	ToolChoice     *ToolChoice
	ResponseFormat *ResponseFormat
	Reasoning      *Reasoning
	MaxTokens      int
	Temperature    *float64
	Stream         bool
	Metadata       map[string]any // opaque pass-through, never interpreted by the core
}

// ToolDefinition describes one tool exposed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// Usage is the normalized token accounting for one request/response.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	TotalTokens         int
	ReasoningTokens     int
	CachedTokens        int
	CacheCreationTokens int
}

// Add returns the element-wise sum of two Usage records.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:         u.InputTokens + o.InputTokens,
		OutputTokens:        u.OutputTokens + o.OutputTokens,
		TotalTokens:         u.TotalTokens + o.TotalTokens,
		ReasoningTokens:     u.ReasoningTokens + o.ReasoningTokens,
		CachedTokens:        u.CachedTokens + o.CachedTokens,
		CacheCreationTokens: u.CacheCreationTokens + o.CacheCreationTokens,
	}
}

// URLCitation is an annotation pointing at a source the model cited.
type URLCitation struct {
	URL   string
	Title string
}

// Response is the complete, non-streaming reply in unified form.
type Response struct {
	ID               string
	Model            string
	Created          int64 // unix seconds, 0 if unknown
	Content          *string
	ReasoningContent string
	Thinking         *Thinking
	ToolCalls        []ToolCall
	Citations        []URLCitation
	FinishReason     FinishReason
	Usage            Usage

	// Bypass mode: ingress format == egress format, so the untransformed
	// upstream payload rides along instead of (or alongside) the fields
	// above.
	Bypass      bool
	RawResponse []byte
}

// ToolCallDelta is one incremental fragment of a tool call, identified by
// its position among the tool calls in this turn.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string // fragment to append (or, for some providers, replace)
}

// Delta is the incremental content carried by one StreamChunk.
type Delta struct {
	Role              Role
	ContentDelta      string
	HasContentDelta   bool
	ReasoningDelta     string
	HasReasoningDelta  bool
	ThinkingDelta      *Thinking // may carry only Content, only Signature, or both
	ToolCallDeltas     []ToolCallDelta
}

// StreamChunk is one unit of a lazy, finite, single-pass IR stream.
type StreamChunk struct {
	ID           string
	Model        string
	Created      int64
	Delta        Delta
	FinishReason FinishReason
	HasFinish    bool
	Usage        *Usage

	// Bypass mode: the raw upstream SSE frame this chunk was tapped from.
	Bypass      bool
	RawStream []byte
}
