package orchestration

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type MicState struct {
	Enabled   bool
	Capturing bool
}

type capturePass struct {
	id     uint64
	cancel context.CancelFunc
}

// captureRetryDelay is how long capture waits before replacing a pass that
// failed.
const captureRetryDelay = 250 * time.Millisecond

// voiceCapture keeps a capture pass running exactly while the microphone is
// enabled and the session is neither busy nor speaking. A pass that ends on
// its own is replaced right away; one that fails is replaced after
// captureRetryDelay.
type voiceCapture struct {
	capture     SpeechCapture
	post        func(loopEvent)
	baseContext context.Context

	enabled bool
	backoff bool
	passID  uint64
	pass    *capturePass

	lastBusy     bool
	lastSpeaking bool
}

func newVoiceCapture(ctx context.Context, capture SpeechCapture, post func(loopEvent)) *voiceCapture {
	return &voiceCapture{capture: capture, post: post, baseContext: ctx}
}

func (c *voiceCapture) setEnabled(enabled bool) {
	c.enabled = enabled
	c.backoff = false
}

func (c *voiceCapture) reconcile(busy, speaking bool) {
	if busy != c.lastBusy || speaking != c.lastSpeaking {
		c.backoff = false
		c.lastBusy, c.lastSpeaking = busy, speaking
	}

	want := c.enabled && c.capture != nil && !busy && !speaking && !c.backoff
	switch {
	case want && c.pass == nil:
		c.start()
	case !want && c.pass != nil:
		c.stop()
	}
}

func (c *voiceCapture) start() {
	c.passID++
	ctx, cancel := context.WithCancel(c.baseContext)
	pass := &capturePass{id: c.passID, cancel: cancel}
	c.pass = pass

	go func() {
		ctx, span := tracer.Start(ctx, "capture speech")
		defer span.End()
		span.SetAttributes(attribute.Int64("capture.pass_id", int64(pass.id)))

		transcripts := 0
		var passErr error
		for transcript, err := range c.capture.Capture(ctx) {
			if err != nil {
				passErr = err
				break
			}
			transcripts++
			c.post(transcriptReceived{passID: pass.id, transcript: transcript})
		}
		span.SetAttributes(attribute.Int("capture.transcripts", transcripts))
		if passErr != nil && ctx.Err() == nil {
			span.RecordError(passErr)
			span.SetStatus(codes.Error, "capture pass failed")
		}
		c.post(capturePassEnded{passID: pass.id, err: passErr})
	}()
}

func (c *voiceCapture) stop() {
	if c.pass == nil {
		return
	}
	c.pass.cancel()
	c.pass = nil
}

func (c *voiceCapture) current(passID uint64) bool {
	return c.pass != nil && c.pass.id == passID
}

// passEnded records the end of the current pass and returns the error it
// failed with. The next reconcile restarts capture if it is still wanted,
// after captureRetryDelay when the pass failed.
func (c *voiceCapture) passEnded(ev capturePassEnded) error {
	if !c.current(ev.passID) {
		return nil
	}
	c.pass.cancel()
	c.pass = nil

	if ev.err == nil || errors.Is(ev.err, context.Canceled) {
		return nil
	}

	logger.Warn("speech capture pass failed", "pass_id", ev.passID, "error", ev.err)
	c.backoff = true
	passID := ev.passID
	time.AfterFunc(captureRetryDelay, func() { c.post(captureRetry{passID: passID}) })
	return ev.err
}

// retry ends the back-off unless another pass has started since.
func (c *voiceCapture) retry(ev captureRetry) {
	if ev.passID == c.passID {
		c.backoff = false
	}
}

func (c *voiceCapture) state() MicState {
	return MicState{Enabled: c.enabled, Capturing: c.pass != nil}
}
