// ABOUTME: Canonical message and response envelopes all adapters normalize to
// ABOUTME: Channel-native formats never cross the engine boundary

package session

// MessageType classifies the content of a canonical message or response.
type MessageType string

const (
	TypeText   MessageType = "text"
	TypeVoice  MessageType = "voice"
	TypeImage  MessageType = "image"
	TypeFile   MessageType = "file"
	TypeAction MessageType = "action"
)

// Message is the canonical, channel-independent inbound envelope. Adapters
// produce exactly this shape from their channel-native payloads; Metadata is
// adapter-populated (detected language, capture method, validation notes).
type Message struct {
	Type     MessageType    `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Response is the canonical outbound envelope. Metadata carries generation
// details (confidence, agents used, generation time); Suggestions and
// Alternatives are optional prompts the channel may render.
type Response struct {
	Type          MessageType    `json:"type"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	RequiresInput bool           `json:"requires_input"`
	Suggestions   []string       `json:"suggestions,omitempty"`
	Alternatives  []string       `json:"alternatives,omitempty"`
}

// Meta returns the metadata map, allocating it on first use.
func (r *Response) Meta() map[string]any {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	return r.Metadata
}

// Chunk is one element of a streamed response sequence. Chunks arrive in
// generation order; exactly one chunk has IsFinal set and it is the last.
type Chunk struct {
	Content string `json:"content"`
	IsFinal bool   `json:"is_final"`
}
