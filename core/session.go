package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-client/core/agent"
	"github.com/koscakluka/ema-client/core/audio"
	"github.com/koscakluka/ema-client/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrStreamClosed is reported when the agent service closes a reply
	// stream without sending its end.
	ErrStreamClosed      = errors.New("reply stream closed before end")
	ErrStreamIdleTimeout = errors.New("reply stream idle timeout")
	// ErrOutputBusy is returned when spoken output is refused because stream
	// audio holds the output.
	ErrOutputBusy        = errors.New("audio output busy with stream audio")
	ErrNoSynthesizer     = errors.New("no speech synthesizer configured")
	ErrSessionNotRunning = errors.New("session not running")
	// ErrCaptureFailed wraps the error a speech capture pass ended with.
	ErrCaptureFailed = errors.New("speech capture failed")

	errAborted = errors.New("reply aborted")
	errClosed  = errors.New("session closed")
)

// Session is one conversation with the agent service. It runs at most one
// reply stream at a time, plays streamed speech in order and keeps voice
// capture paused while it is busy or speaking.
//
// All state is owned by a single dispatch loop started with Start. The
// exported methods are safe for concurrent use; they hand their work to the
// loop and wait for it.
type Session struct {
	chat          StreamingChat
	synthesizer   SpeechSynthesizer
	audioOutput   AudioOutput
	speechCapture SpeechCapture
	micEnabled    bool

	streamIdleTimeout time.Duration
	callbacks         sessionCallbacks
	metrics           sessionMetrics

	runtime      *sessionRuntime
	shutdownOnce sync.Once
	baseContext  context.Context

	output  *outputChannel
	queue   *playbackQueue
	tts     *ttsDispatcher
	capture *voiceCapture
	mode    modeController

	state        SessionState
	status       Status
	response     strings.Builder
	pendingImage string
	speaking     bool
	mic          MicState
	streamID     uint64
	stream       *activeStream

	snapshot atomic.Pointer[Snapshot]
}

// activeStream is the reply stream currently owned by the session.
type activeStream struct {
	id     uint64
	mode   TTSMode
	handle agent.MessageStream
	cancel context.CancelCauseFunc
	span   trace.Span

	audioEvents int
}

func NewSession(chat StreamingChat, opts ...SessionOption) *Session {
	s := &Session{
		chat:    chat,
		runtime: newSessionRuntime(),
		mode:    newModeController(ModeLocal),
		status:  StatusOnline,
	}
	for _, opt := range opts {
		opt(s)
	}

	metrics, err := newSessionMetrics(meter)
	if err != nil {
		logger.Warn("failed to create session metrics", "error", err)
		metrics = noopSessionMetrics()
	}
	s.metrics = metrics

	post := func(event loopEvent) { s.runtime.post(event) }
	s.baseContext = s.runtime.baseContext
	s.output = newOutputChannel(s.audioOutput, post)
	s.queue = newPlaybackQueue(s.output, s.metrics)
	s.tts = newTTSDispatcher(s.baseContext, s.synthesizer, s.output, post, s.metrics)
	s.capture = newVoiceCapture(s.baseContext, s.speechCapture, post)
	s.capture.setEnabled(s.micEnabled)
	s.mic = s.capture.state()
	s.publish()

	return s
}

func (s *Session) rebase(ctx context.Context) {
	s.baseContext = ctx
	s.tts.baseContext = ctx
	s.capture.baseContext = ctx
}

// Submit sends text, with imageRef or else the pending image, as a new user
// turn. It reports false when there is nothing to send, a reply is already
// in progress, or the session is not running.
func (s *Session) Submit(text, imageRef string) bool {
	accepted := false
	ok := s.do(func() { accepted = s.submit(text, imageRef) })
	return ok && accepted
}

// Abort drops the reply in progress: it closes the stream, discards the
// partial text and silences playback. It reports false when no reply is in
// progress. The agent service is not told.
func (s *Session) Abort() bool {
	aborted := false
	ok := s.do(func() { aborted = s.abort() })
	return ok && aborted
}

// CycleMode advances the speech mode and returns the new one.
func (s *Session) CycleMode() TTSMode {
	var mode TTSMode
	if !s.do(func() {
		mode = s.mode.cycle()
		notify("mode", s.callbacks.onModeChanged, mode)
	}) {
		return s.Mode()
	}
	return mode
}

func (s *Session) Mode() TTSMode {
	return s.Snapshot().Mode
}

func (s *Session) SetMicEnabled(enabled bool) bool {
	return s.do(func() { s.capture.setEnabled(enabled) })
}

// AttachImage sets the image reference sent with the next submitted turn.
func (s *Session) AttachImage(imageRef string) bool {
	return s.do(func() { s.pendingImage = strings.TrimSpace(imageRef) })
}

func (s *Session) ClearImage() bool {
	return s.do(func() { s.pendingImage = "" })
}

// Replay speaks text in the current mode outside of any reply stream. It is
// a no-op in SILENT mode and fails with ErrOutputBusy while stream audio is
// playing.
func (s *Session) Replay(text string) error {
	var err error
	if !s.do(func() { err = s.tts.synthesizeAndPlay(text, s.mode.current(), originReplay, 0) }) {
		return ErrSessionNotRunning
	}
	return err
}

// Snapshot returns the session state as of the last processed event.
func (s *Session) Snapshot() Snapshot {
	if snapshot := s.snapshot.Load(); snapshot != nil {
		return *snapshot
	}
	return Snapshot{}
}

func (s *Session) process(event loopEvent) {
	switch ev := event.(type) {
	case userCommand:
		ev.run()
		close(ev.done)
	case streamOpened:
		s.streamOpened(ev)
	case streamMessage:
		s.streamMessage(ev)
	case streamFailed:
		if s.isCurrentStream(ev.streamID) {
			s.failStream(ev.err)
		}
	case streamClosed:
		if s.isCurrentStream(ev.streamID) {
			s.failStream(ErrStreamClosed)
		}
	case playbackFinished:
		switch ev.owner {
		case ownerQueue:
			s.queue.finished(ev)
		case ownerSpeech:
			s.tts.playbackFinished(ev)
		}
	case synthesisFinished:
		err := s.tts.finished(ev, func(request *synthesisRequest) bool {
			if request.origin != originFallback {
				return true
			}
			return request.streamID == s.streamID && !s.state.IsBusy() && s.mode.current() != ModeSilent
		})
		if err != nil {
			s.reportError(err)
		}
	case transcriptReceived:
		s.transcriptReceived(ev)
	case capturePassEnded:
		if err := s.capture.passEnded(ev); err != nil {
			s.reportError(fmt.Errorf("%w: %w", ErrCaptureFailed, err))
		}
	case captureRetry:
		s.capture.retry(ev)
	}

	s.settle()
}

// settle derives the speaking state, gates capture on it and publishes a
// fresh snapshot. It runs after every event.
func (s *Session) settle() {
	speaking := s.queue.active() || s.tts.active()
	if speaking != s.speaking {
		s.speaking = speaking
		notify("speaking", s.callbacks.onSpeakingChanged, speaking)
	}

	s.capture.reconcile(s.state.IsBusy(), s.speaking)
	if mic := s.capture.state(); mic != s.mic {
		s.mic = mic
		notify("mic state", s.callbacks.onMicStateChanged, mic)
	}

	s.publish()
}

func (s *Session) publish() {
	s.snapshot.Store(&Snapshot{
		State:          s.state,
		Status:         s.status,
		Response:       s.response.String(),
		Mode:           s.mode.current(),
		Speaking:       s.speaking,
		Mic:            s.mic,
		QueuedSegments: s.queue.len(),
		PendingImage:   s.pendingImage,
	})
}

func (s *Session) setState(state SessionState) {
	if s.state == state {
		return
	}
	s.state = state
	notify("state", s.callbacks.onStateChanged, state)
}

func (s *Session) setStatus(status Status) {
	s.status = status
	notify("status", s.callbacks.onStatus, status)
}

func (s *Session) reportError(err error) {
	notify("error", s.callbacks.onError, err)
}

func (s *Session) submit(text, imageRef string) bool {
	text = strings.TrimSpace(text)
	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" {
		imageRef = s.pendingImage
	}
	if text == "" && imageRef == "" {
		return false
	}
	if s.state.IsBusy() || s.chat == nil {
		return false
	}

	s.pendingImage = ""
	s.response.Reset()
	s.queue.clear()

	s.streamID++
	mode := s.mode.current()
	ctx, cancel := context.WithCancelCause(s.baseContext)
	ctx, span := tracer.Start(ctx, "stream chat")
	span.SetAttributes(
		attribute.Int64("stream.id", int64(s.streamID)),
		attribute.String("stream.mode", string(mode)),
		attribute.Bool("stream.has_image", imageRef != ""),
	)
	s.stream = &activeStream{id: s.streamID, mode: mode, cancel: cancel, span: span}

	s.setState(StateRequesting)
	s.setStatus(StatusThinking)

	go s.readStream(ctx, cancel, s.streamID, agent.StreamRequest{Text: text, Mode: string(mode), ImageRef: imageRef})
	return true
}

// readStream opens the stream and forwards every raw message to the loop.
// It owns nothing: the handle is passed to the loop, which decides whether
// to keep or close it.
func (s *Session) readStream(ctx context.Context, cancel context.CancelCauseFunc, streamID uint64, req agent.StreamRequest) {
	var idle *time.Timer
	if s.streamIdleTimeout > 0 {
		idle = time.AfterFunc(s.streamIdleTimeout, func() { cancel(ErrStreamIdleTimeout) })
		defer idle.Stop()
	}

	stream, err := s.chat.OpenStream(ctx, req)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			err = fmt.Errorf("%w: %w", err, cause)
		}
		s.runtime.post(streamOpened{streamID: streamID, err: fmt.Errorf("open reply stream: %w", err)})
		return
	}
	if !s.runtime.post(streamOpened{streamID: streamID, stream: stream}) {
		stream.Close()
		return
	}

	for raw, err := range stream.Messages(ctx) {
		if idle != nil {
			idle.Reset(s.streamIdleTimeout)
		}
		if err != nil {
			if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
				err = fmt.Errorf("%w: %w", err, cause)
			}
			s.runtime.post(streamFailed{streamID: streamID, err: err})
			return
		}
		if !s.runtime.post(streamMessage{streamID: streamID, raw: raw}) {
			return
		}
	}

	if cause := context.Cause(ctx); cause != nil {
		s.runtime.post(streamFailed{streamID: streamID, err: fmt.Errorf("read reply stream: %w", cause)})
		return
	}
	s.runtime.post(streamClosed{streamID: streamID})
}

func (s *Session) isCurrentStream(streamID uint64) bool {
	return s.stream != nil && s.stream.id == streamID
}

func (s *Session) streamOpened(ev streamOpened) {
	if !s.isCurrentStream(ev.streamID) {
		if ev.stream != nil {
			ev.stream.Close()
		}
		return
	}
	if ev.err != nil {
		s.failStream(ev.err)
		return
	}
	s.stream.handle = ev.stream
	s.stream.span.AddEvent("stream opened")
}

func (s *Session) streamMessage(ev streamMessage) {
	if !s.isCurrentStream(ev.streamID) {
		return
	}

	event, err := events.Decode(ev.raw)
	if err != nil {
		s.metrics.decodeFailures.Add(s.baseContext, 1)
		var remoteErr *events.RemoteError
		if errors.As(err, &remoteErr) {
			logger.Warn("agent service reported an error", "stream_id", ev.streamID, "error", remoteErr.Message)
			s.stream.span.AddEvent("remote error", trace.WithAttributes(attribute.String("error", remoteErr.Message)))
			s.reportError(err)
			return
		}
		logger.Warn("failed to decode stream message", "stream_id", ev.streamID, "error", err)
		return
	}
	s.metrics.eventsDecoded.Add(s.baseContext, 1, metricKind(event.Kind()))

	if s.state == StateRequesting {
		s.beginStreaming()
		if _, ok := event.(events.Start); ok {
			return
		}
	}

	switch e := event.(type) {
	case events.Start:
		logger.Debug("ignoring repeated stream start", "stream_id", ev.streamID)
	case events.Chunk:
		s.response.WriteString(e.Text)
		notify("response", s.callbacks.onResponse, e.Text)
	case events.Audio:
		s.stream.audioEvents++
		// The live mode mutes; the mode captured at submit only decides
		// whether a text-only reply falls back to synthesis.
		if s.mode.current() == ModeSilent {
			logger.Debug("dropping stream audio in silent mode", "stream_id", ev.streamID)
			return
		}
		s.queue.enqueue(audio.NewSegment(e.Payload))
	case events.Usage:
		s.stream.span.SetAttributes(
			attribute.Int("usage.prompt", e.PromptTokens),
			attribute.Int("usage.candidates", e.CandidateTokens),
			attribute.Int("usage.total", e.TotalTokens),
		)
		notify("usage", s.callbacks.onUsage, e)
	case events.End:
		s.finishStream()
	}
}

// beginStreaming opens the reply: the first event of a stream counts as its
// start whether or not it is a Start.
func (s *Session) beginStreaming() {
	s.response.Reset()
	s.queue.clear()
	s.stream.audioEvents = 0
	s.stream.span.AddEvent("reply started")
	s.setState(StateStreaming)
}

func (s *Session) finishStream() {
	stream := s.stream
	text := s.response.String()
	s.closeStream(nil)

	s.setState(StateIdle)
	s.setStatus(StatusOnline)
	notify("response end", s.callbacks.onResponseEnd, text)

	// Speak the reply ourselves only when the stream brought no audio.
	if stream.mode == ModeLocal && text != "" && stream.audioEvents == 0 {
		if err := s.tts.synthesizeAndPlay(text, stream.mode, originFallback, stream.id); err != nil {
			logger.Warn("fallback speech not started", "stream_id", stream.id, "error", err)
			s.reportError(err)
		}
	}
}

func (s *Session) failStream(err error) {
	logger.Warn("reply stream failed", "stream_id", s.stream.id, "error", err)
	s.closeStream(err)

	s.setState(StateErrored)
	s.setState(StateIdle)
	s.setStatus(StatusError)
	s.reportError(err)
}

func (s *Session) abort() bool {
	if !s.state.IsBusy() {
		return false
	}

	s.closeStream(errAborted)
	s.response.Reset()
	s.queue.clear()
	s.tts.stop()

	s.setState(StateAborted)
	s.setState(StateIdle)
	s.setStatus(StatusAborted)
	return true
}

// closeStream releases the current stream on every exit path. A nil err
// marks a clean end.
func (s *Session) closeStream(err error) {
	stream := s.stream
	if stream == nil {
		return
	}
	s.stream = nil

	cause := err
	if cause == nil {
		cause = context.Canceled
	}
	stream.cancel(cause)
	if stream.handle != nil {
		if closeErr := stream.handle.Close(); closeErr != nil {
			logger.Debug("failed to close reply stream", "stream_id", stream.id, "error", closeErr)
		}
	}

	stream.span.SetAttributes(attribute.Int("stream.audio_events", stream.audioEvents))
	switch {
	case err == nil:
	case errors.Is(err, errAborted), errors.Is(err, errClosed):
		stream.span.AddEvent(err.Error())
	default:
		stream.span.RecordError(err)
		stream.span.SetStatus(codes.Error, "reply stream failed")
	}
	stream.span.End()
}

func (s *Session) transcriptReceived(ev transcriptReceived) {
	if !s.capture.current(ev.passID) {
		return
	}
	if s.state.IsBusy() || s.speaking {
		logger.Debug("discarding transcript while busy or speaking", "final", ev.transcript.IsFinal)
		return
	}

	notify("transcript", s.callbacks.onTranscript, ev.transcript)
	if ev.transcript.IsFinal {
		s.submit(ev.transcript.Text, "")
	}
}

// shutdown runs once when the session closes.
func (s *Session) shutdown() {
	s.closeStream(errClosed)
	if s.state.IsBusy() {
		s.setState(StateIdle)
	}
	s.queue.clear()
	s.tts.stop()
	s.capture.setEnabled(false)
	s.capture.stop()
	s.speaking = false
	s.mic = s.capture.state()
	s.publish()
}
