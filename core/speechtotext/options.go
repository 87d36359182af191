package speechtotext

import (
	"context"

	"github.com/koscakluka/ema-client/core/audio"
)

// Transcript is one recognition result. Interim results may be revised by
// later ones; a final result closes the utterance.
type Transcript struct {
	Text    string
	IsFinal bool
}

// AudioSource delivers raw microphone audio to a recognizer.
type AudioSource interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
	EncodingInfo() audio.EncodingInfo
}

type CaptureOptions struct {
	Language string
	Model    string

	// InterimResults makes a capture pass yield non-final transcripts too.
	InterimResults bool
	// SingleUtterance ends the capture pass after its first final
	// transcript.
	SingleUtterance bool

	EncodingInfo audio.EncodingInfo
}

func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{
		Language:     "ja",
		Model:        "nova-2",
		EncodingInfo: audio.GetDefaultEncodingInfo(),
	}
}

type CaptureOption func(*CaptureOptions)

func WithLanguage(language string) CaptureOption {
	return func(o *CaptureOptions) {
		if language != "" {
			o.Language = language
		}
	}
}

func WithModel(model string) CaptureOption {
	return func(o *CaptureOptions) {
		if model != "" {
			o.Model = model
		}
	}
}

func WithInterimResults() CaptureOption {
	return func(o *CaptureOptions) {
		o.InterimResults = true
	}
}

func WithSingleUtterance() CaptureOption {
	return func(o *CaptureOptions) {
		o.SingleUtterance = true
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) CaptureOption {
	return func(o *CaptureOptions) {
		o.EncodingInfo = encodingInfo
	}
}
