package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-client/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

type speechOrigin int

const (
	// originFallback speaks a finished reply whose stream carried no audio.
	originFallback speechOrigin = iota
	// originReplay speaks arbitrary text on request.
	originReplay
)

func (o speechOrigin) String() string {
	if o == originReplay {
		return "replay"
	}
	return "fallback"
}

type synthesisRequest struct {
	id       uint64
	origin   speechOrigin
	streamID uint64
	cancel   context.CancelFunc
}

// ttsDispatcher turns text into speech through the agent service and plays
// it on the shared output channel, bypassing the playback queue. Only the
// latest request is kept; a newer one cancels the older.
type ttsDispatcher struct {
	synthesizer SpeechSynthesizer
	out         *outputChannel
	post        func(loopEvent)
	metrics     sessionMetrics

	baseContext context.Context
	requestID   uint64
	pending     *synthesisRequest
}

func newTTSDispatcher(ctx context.Context, synthesizer SpeechSynthesizer, out *outputChannel, post func(loopEvent), metrics sessionMetrics) *ttsDispatcher {
	return &ttsDispatcher{
		synthesizer: synthesizer,
		out:         out,
		post:        post,
		metrics:     metrics,
		baseContext: ctx,
	}
}

// synthesizeAndPlay requests speech for text. SILENT mode and blank text are
// no-ops. A replay is refused while stream audio holds the output channel.
func (d *ttsDispatcher) synthesizeAndPlay(text string, mode TTSMode, origin speechOrigin, streamID uint64) error {
	if mode == ModeSilent || strings.TrimSpace(text) == "" {
		return nil
	}
	if d.synthesizer == nil {
		return ErrNoSynthesizer
	}
	if origin == originReplay && d.out.heldBy(ownerQueue) {
		return ErrOutputBusy
	}

	d.cancelPending()
	d.requestID++
	ctx, cancel := context.WithCancel(d.baseContext)
	request := &synthesisRequest{id: d.requestID, origin: origin, streamID: streamID, cancel: cancel}
	d.pending = request

	d.metrics.synthesisRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("speech.origin", origin.String())))
	go func() {
		ctx, span := tracer.Start(ctx, "synthesize speech")
		defer span.End()
		span.SetAttributes(
			attribute.String("speech.origin", origin.String()),
			attribute.String("speech.mode", string(mode)),
			attribute.Int("speech.text_length", len(text)),
		)

		speech, err := d.synthesizer.Synthesize(ctx, text, string(mode))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "synthesis failed")
		}
		d.post(synthesisFinished{requestID: request.id, audio: speech, err: err})
	}()

	return nil
}

// finished plays a completed synthesis unless it is stale or accept rejects
// it. The returned error is meant for the session's error callback.
func (d *ttsDispatcher) finished(ev synthesisFinished, accept func(*synthesisRequest) bool) error {
	request := d.pending
	if request == nil || request.id != ev.requestID {
		return nil
	}
	d.pending = nil
	request.cancel()

	if ev.err != nil {
		if errors.Is(ev.err, context.Canceled) {
			return nil
		}
		logger.Warn("speech synthesis failed", "origin", request.origin.String(), "error", ev.err)
		return fmt.Errorf("synthesize speech: %w", ev.err)
	}
	if len(ev.audio) == 0 {
		return nil
	}
	if accept != nil && !accept(request) {
		logger.Debug("dropping stale synthesized speech", "origin", request.origin.String())
		return nil
	}
	if d.out.heldBy(ownerQueue) {
		logger.Info("dropping synthesized speech, stream audio is playing", "origin", request.origin.String())
		return fmt.Errorf("play synthesized speech: %w", ErrOutputBusy)
	}

	d.out.stop(ownerSpeech)
	segment := audio.NewSegment(ev.audio)
	if err := d.out.play(ownerSpeech, segment); err != nil {
		d.metrics.playbackFailures.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("failure.stage", "speech")))
		logger.Warn("failed to play synthesized speech", "segment_id", segment.ID, "error", err)
		return fmt.Errorf("play synthesized speech: %w", err)
	}
	return nil
}

func (d *ttsDispatcher) playbackFinished(ev playbackFinished) {
	if !d.out.finished(ev) {
		return
	}
	if ev.err != nil && !errors.Is(ev.err, audio.ErrPlaybackStopped) {
		d.metrics.playbackFailures.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("failure.stage", "speech")))
		logger.Warn("spoken output failed", "error", ev.err)
	}
}

func (d *ttsDispatcher) cancelPending() {
	if d.pending != nil {
		d.pending.cancel()
		d.pending = nil
	}
}

// stop cancels any pending synthesis and silences spoken output.
func (d *ttsDispatcher) stop() {
	d.cancelPending()
	d.out.stop(ownerSpeech)
}

func (d *ttsDispatcher) active() bool {
	return d.pending != nil || d.out.heldBy(ownerSpeech)
}
