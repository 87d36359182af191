package orchestration

import (
	"context"
	"iter"
	"time"

	"github.com/koscakluka/ema-client/core/agent"
	"github.com/koscakluka/ema-client/core/audio"
	"github.com/koscakluka/ema-client/core/events"
	"github.com/koscakluka/ema-client/core/speechtotext"
)

type SessionOption func(*Session)

// StreamingChat opens reply streams on the agent service.
type StreamingChat interface {
	OpenStream(ctx context.Context, req agent.StreamRequest) (agent.MessageStream, error)
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, mode string) ([]byte, error)
}

// AudioOutput plays encoded segments. onDone must be called exactly once per
// accepted segment, with audio.ErrPlaybackStopped when Stop cut it short.
type AudioOutput interface {
	Play(segment audio.Segment, onDone func(error)) error
	Stop()
}

// SpeechCapture produces one capture pass per call. The sequence ends when
// the pass ends; cancelling ctx ends it early.
type SpeechCapture interface {
	Capture(ctx context.Context) iter.Seq2[speechtotext.Transcript, error]
}

func WithSpeechSynthesizer(synthesizer SpeechSynthesizer) SessionOption {
	return func(s *Session) { s.synthesizer = synthesizer }
}

func WithAudioOutput(output AudioOutput) SessionOption {
	return func(s *Session) { s.audioOutput = output }
}

func WithSpeechCapture(capture SpeechCapture) SessionOption {
	return func(s *Session) { s.speechCapture = capture }
}

func WithInitialMode(mode TTSMode) SessionOption {
	return func(s *Session) { s.mode = newModeController(mode) }
}

func WithMicEnabled(enabled bool) SessionOption {
	return func(s *Session) { s.micEnabled = enabled }
}

// WithStreamIdleTimeout fails a reply stream that stays silent for longer
// than timeout. Zero disables the check.
func WithStreamIdleTimeout(timeout time.Duration) SessionOption {
	return func(s *Session) { s.streamIdleTimeout = timeout }
}

// Callbacks run on the session's dispatch loop, in order. They must not
// block and must not call back into the Session synchronously.
type sessionCallbacks struct {
	onStateChanged    func(SessionState)
	onStatus          func(Status)
	onResponse        func(string)
	onResponseEnd     func(string)
	onUsage           func(events.Usage)
	onSpeakingChanged func(bool)
	onTranscript      func(speechtotext.Transcript)
	onMicStateChanged func(MicState)
	onModeChanged     func(TTSMode)
	onError           func(error)
}

func WithStateCallback(callback func(SessionState)) SessionOption {
	return func(s *Session) { s.callbacks.onStateChanged = callback }
}

func WithStatusCallback(callback func(Status)) SessionOption {
	return func(s *Session) { s.callbacks.onStatus = callback }
}

// WithResponseCallback is called with every reply text fragment.
func WithResponseCallback(callback func(chunk string)) SessionOption {
	return func(s *Session) { s.callbacks.onResponse = callback }
}

// WithResponseEndCallback is called with the full reply text once the stream
// ends.
func WithResponseEndCallback(callback func(response string)) SessionOption {
	return func(s *Session) { s.callbacks.onResponseEnd = callback }
}

func WithUsageCallback(callback func(events.Usage)) SessionOption {
	return func(s *Session) { s.callbacks.onUsage = callback }
}

func WithSpeakingStateCallback(callback func(speaking bool)) SessionOption {
	return func(s *Session) { s.callbacks.onSpeakingChanged = callback }
}

// WithTranscriptCallback is called with every transcript accepted while the
// session is idle and quiet.
func WithTranscriptCallback(callback func(speechtotext.Transcript)) SessionOption {
	return func(s *Session) { s.callbacks.onTranscript = callback }
}

func WithMicStateCallback(callback func(MicState)) SessionOption {
	return func(s *Session) { s.callbacks.onMicStateChanged = callback }
}

func WithModeCallback(callback func(TTSMode)) SessionOption {
	return func(s *Session) { s.callbacks.onModeChanged = callback }
}

func WithErrorCallback(callback func(error)) SessionOption {
	return func(s *Session) { s.callbacks.onError = callback }
}
