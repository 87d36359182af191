package events

const (
	// KindStart identifies the opening of a reply stream.
	KindStart Kind = "stream.start"
	// KindChunk identifies a reply text fragment.
	KindChunk Kind = "stream.chunk"
	// KindAudio identifies an encoded speech segment.
	KindAudio Kind = "stream.audio"
	// KindUsage identifies token usage for the reply.
	KindUsage Kind = "stream.usage"
	// KindEnd identifies the end of a reply stream.
	KindEnd Kind = "stream.end"
)

// StreamEvent is one decoded message from the streaming chat channel.
type StreamEvent interface {
	Event
	streamEvent()
}

type Start struct{ Base }

func NewStart() Start { return Start{Base: NewBase(KindStart)} }

func (Start) streamEvent() {}

// Chunk carries a reply text fragment in arrival order.
type Chunk struct {
	Base
	Text string
}

func NewChunk(text string) Chunk { return Chunk{Base: NewBase(KindChunk), Text: text} }

func (Chunk) streamEvent() {}

// Audio carries one encoded speech segment. Payload is never empty.
type Audio struct {
	Base
	Payload []byte
}

func NewAudio(payload []byte) Audio { return Audio{Base: NewBase(KindAudio), Payload: payload} }

func (Audio) streamEvent() {}

// Usage carries the raw token counts reported for the reply.
type Usage struct {
	Base
	PromptTokens    int
	CandidateTokens int
	TotalTokens     int
}

func NewUsage(prompt, candidate, total int) Usage {
	return Usage{
		Base:            NewBase(KindUsage),
		PromptTokens:    prompt,
		CandidateTokens: candidate,
		TotalTokens:     total,
	}
}

func (Usage) streamEvent() {}

type End struct{ Base }

func NewEnd() End { return End{Base: NewBase(KindEnd)} }

func (End) streamEvent() {}
