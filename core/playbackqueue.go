package orchestration

import (
	"context"
	"errors"

	"github.com/koscakluka/ema-client/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// playbackQueue plays stream audio segments strictly in arrival order, one
// at a time. The queue wins the shared output channel: starting a segment
// stops any fallback or replayed speech.
type playbackQueue struct {
	out     *outputChannel
	metrics sessionMetrics

	pending []audio.Segment
	current *audio.Segment
}

func newPlaybackQueue(out *outputChannel, metrics sessionMetrics) *playbackQueue {
	return &playbackQueue{out: out, metrics: metrics}
}

func (q *playbackQueue) enqueue(segment audio.Segment) {
	q.pending = append(q.pending, segment)
	if q.current == nil {
		q.playNext()
	}
}

func (q *playbackQueue) playNext() {
	for len(q.pending) > 0 {
		segment := q.pending[0]
		q.pending[0] = audio.Segment{}
		q.pending = q.pending[1:]

		if q.out.stop(ownerSpeech) {
			logger.Debug("stream audio pre-empted spoken output", "segment_id", segment.ID)
		}

		if err := q.out.play(ownerQueue, segment); err != nil {
			q.metrics.playbackFailures.Add(context.Background(), 1)
			logger.Warn("failed to play audio segment", "segment_id", segment.ID, "error", err)
			continue
		}

		q.current = &segment
		return
	}

	q.pending = nil
}

// finished handles the completion of a queue play. Failed segments are
// dropped and the queue advances.
func (q *playbackQueue) finished(ev playbackFinished) {
	if q.current == nil || !q.out.finished(ev) {
		return
	}
	segment := *q.current
	q.current = nil

	switch {
	case ev.err == nil:
		q.metrics.segmentsPlayed.Add(context.Background(), 1)
	case errors.Is(ev.err, audio.ErrPlaybackStopped):
	default:
		q.metrics.playbackFailures.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("failure.stage", "playback")))
		logger.Warn("audio segment playback failed", "segment_id", segment.ID, "error", ev.err)
	}

	q.playNext()
}

// clear drops every unplayed segment and stops the one playing.
func (q *playbackQueue) clear() {
	q.pending = nil
	if q.current != nil {
		q.current = nil
		q.out.stop(ownerQueue)
	}
}

func (q *playbackQueue) active() bool {
	return q.current != nil || len(q.pending) > 0
}

func (q *playbackQueue) len() int {
	n := len(q.pending)
	if q.current != nil {
		n++
	}
	return n
}
