package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type speakRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode,omitempty"`
}

type speakResponse struct {
	Audio string `json:"audio"`
}

// Synthesize asks the agent service to speak text in the given mode and
// returns the encoded audio it produced (WAV for local synthesis, MP3 for
// cloud synthesis).
func (c *Client) Synthesize(ctx context.Context, text, mode string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.mode", mode),
		attribute.Int("request.text_length", len(text)),
	)

	if strings.TrimSpace(text) == "" {
		span.RecordError(ErrEmptyText)
		span.SetStatus(codes.Error, "empty text")
		return nil, ErrEmptyText
	}

	var resp speakResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/speak", nil, speakRequest{Text: text, Mode: mode}, &resp); err != nil {
		err = fmt.Errorf("synthesize speech: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return nil, err
	}

	audio, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		err = fmt.Errorf("synthesize speech: decode audio: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return nil, err
	}
	if len(audio) == 0 {
		span.RecordError(ErrEmptyAudio)
		span.SetStatus(codes.Error, "synthesis failed")
		return nil, fmt.Errorf("synthesize speech: %w", ErrEmptyAudio)
	}

	span.SetAttributes(attribute.Int("response.audio_bytes", len(audio)))
	return audio, nil
}
