// Package responses implements the OpenAI Responses wire format: a
// multi-item output (message, reasoning, function_call), each with its
// own creation/completion lifecycle, and a streaming protocol whose every
// event carries a monotonically increasing sequence_number.
package responses

import "encoding/json"

// Request is the body of POST /v1/responses.
type Request struct {
	Model           string           `json:"model"`
	Input           json.RawMessage  `json:"input,omitempty"` // string or []Item
	Instructions    string           `json:"instructions,omitempty"`
	Tools           []Tool           `json:"tools,omitempty"`
	ToolChoice      json.RawMessage  `json:"tool_choice,omitempty"`
	MaxOutputTokens int              `json:"max_output_tokens,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	Stream          bool             `json:"stream,omitempty"`
	Reasoning       *ReasoningConfig `json:"reasoning,omitempty"`
}

// ReasoningConfig is the request-side reasoning-effort hint.
type ReasoningConfig struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Item is one element of the input array, and also the shape of one
// element of a finished response's output array. Which fields are
// meaningful is selected by Type.
type Item struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Role      string          `json:"role,omitempty"`     // message
	Content   json.RawMessage `json:"content,omitempty"`  // message: string or []ContentPart
	CallID    string          `json:"call_id,omitempty"`  // function_call, function_call_output
	Name      string          `json:"name,omitempty"`     // function_call
	Arguments string          `json:"arguments,omitempty"` // function_call
	Output    string          `json:"output,omitempty"`   // function_call_output
	Summary   []SummaryPart   `json:"summary,omitempty"`  // reasoning
}

// SummaryPart is one paragraph of a reasoning item's lossy text summary.
type SummaryPart struct {
	Type string `json:"type"` // "summary_text"
	Text string `json:"text"`
}

// ContentPart is one element of a message item's content array.
type ContentPart struct {
	Type     string `json:"type"` // "input_text" | "output_text" | "input_image"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Tool describes one function exposed to the model. The Responses API
// represents tools flat, unlike Chat Completions' nested function object.
type Tool struct {
	Type        string          `json:"type"` // "function"
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Response is the non-streaming reply body, and also embedded in the
// streaming protocol's response.created/response.completed events.
type Response struct {
	ID        string `json:"id"`
	Object    string `json:"object"` // "response"
	CreatedAt int64  `json:"created_at"`
	Model     string `json:"model"`
	Status    string `json:"status"` // "in_progress" | "completed" | "incomplete"
	Output    []Item `json:"output"`
	Usage     *Usage `json:"usage,omitempty"`
}

// Usage holds token counts in the Responses API's nested-details shape.
type Usage struct {
	InputTokens         int                  `json:"input_tokens"`
	InputTokensDetails  *InputTokensDetails  `json:"input_tokens_details,omitempty"`
	OutputTokens        int                  `json:"output_tokens"`
	OutputTokensDetails *OutputTokensDetails `json:"output_tokens_details,omitempty"`
	TotalTokens         int                  `json:"total_tokens"`
}

// InputTokensDetails breaks the input token count down further.
type InputTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

// OutputTokensDetails breaks the output token count down further.
type OutputTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}

// eventBase is embedded in every streaming event so "type" and
// "sequence_number" flatten into the same JSON object as the event's own
// fields.
type eventBase struct {
	Type           string `json:"type"`
	SequenceNumber int    `json:"sequence_number"`
}

type createdEvent struct {
	eventBase
	Response Response `json:"response"`
}

type inProgressEvent struct {
	eventBase
	Response Response `json:"response"`
}

type outputItemAddedEvent struct {
	eventBase
	OutputIndex int  `json:"output_index"`
	Item        Item `json:"item"`
}

type outputItemDoneEvent struct {
	eventBase
	OutputIndex int  `json:"output_index"`
	Item        Item `json:"item"`
}

type contentPartAddedEvent struct {
	eventBase
	ItemID       string      `json:"item_id"`
	OutputIndex  int         `json:"output_index"`
	ContentIndex int         `json:"content_index"`
	Part         ContentPart `json:"part"`
}

type contentPartDoneEvent struct {
	eventBase
	ItemID       string      `json:"item_id"`
	OutputIndex  int         `json:"output_index"`
	ContentIndex int         `json:"content_index"`
	Part         ContentPart `json:"part"`
}

type outputTextDeltaEvent struct {
	eventBase
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

type outputTextDoneEvent struct {
	eventBase
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Text         string `json:"text"`
}

type functionCallArgumentsDeltaEvent struct {
	eventBase
	ItemID      string `json:"item_id"`
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
}

type functionCallArgumentsDoneEvent struct {
	eventBase
	ItemID      string `json:"item_id"`
	OutputIndex int    `json:"output_index"`
	Arguments   string `json:"arguments"`
}

type completedEvent struct {
	eventBase
	Response Response `json:"response"`
}

// wireEvent is the generic shape used to decode any Responses stream
// event without a priori knowledge of its kind; fields that don't apply
// to a given "type" are simply absent.
type wireEvent struct {
	Type        string   `json:"type"`
	Response    *Response `json:"response,omitempty"`
	Delta       string    `json:"delta,omitempty"`
	Item        *Item     `json:"item,omitempty"`
	OutputIndex int       `json:"output_index,omitempty"`
	ItemID      string    `json:"item_id,omitempty"`
}
