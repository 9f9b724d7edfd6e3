// Package translate converts between Anthropic's Messages wire format
// and the OpenAI-compatible Chat Completions wire format, for both
// unary responses and Server-Sent Event streams.
package translate

// StreamState tracks the running translation of one OpenAI-wire SSE
// stream into a sequence of Anthropic Messages events. One instance
// lives for the duration of a single upstream response.
type StreamState struct {
	MessageStartSent bool
	MessageID        string
	Model            string
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int

	ContentBlocks map[int]*ContentBlockState
	CurrentIndex  int

	// openIndex is the index of the one content block still accepting
	// deltas, if any. OpenAI-wire streams emit one delta stream at a
	// time (text, then a tool call, then the next), so at most one
	// block is ever open; switching kind closes it first.
	openIndex    int
	hasOpenBlock bool

	// Cancelled is set when the client disconnected mid-stream so the
	// orchestrator's finalize step can report accurate telemetry.
	Cancelled bool

	// PendingThoughtSignatures accumulates tool_call_id -> signature
	// pairs surfaced mid-stream, for the Thought-Signature middleware
	// to commit to the cache once the stream completes.
	PendingThoughtSignatures map[string]string
}

func NewStreamState() *StreamState {
	return &StreamState{
		ContentBlocks: make(map[int]*ContentBlockState),
	}
}

// ContentBlockState is the accumulator for a single Anthropic content
// block (text or tool_use) being built up from OpenAI delta fragments.
type ContentBlockState struct {
	Type          string // "text" | "tool_use"
	StartSent     bool
	StopSent      bool
	ToolCallID    string
	ToolCallIndex int
	ToolName      string
	Arguments     string // raw JSON fragment accumulated so far
}

// AnthropicEvent is a single decoded SSE event on the client-facing
// side: event name plus JSON-encoded payload.
type AnthropicEvent struct {
	Event string
	Data  []byte
}
