package agent

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// StreamRequest is one user turn sent to the streaming chat endpoint.
type StreamRequest struct {
	Text string
	// Mode is the speech mode the agent should synthesize with, or empty for
	// the service default.
	Mode     string
	ImageRef string
}

// MessageStream is a live reply stream. Messages yields each raw message
// payload; Close releases the transport and may be called at any time, from
// any goroutine, any number of times.
type MessageStream interface {
	Messages(ctx context.Context) iter.Seq2[[]byte, error]
	Close() error
}

// OpenStream starts a reply for req and returns once the agent service has
// accepted the request.
func (c *Client) OpenStream(ctx context.Context, req StreamRequest) (MessageStream, error) {
	ctx, span := tracer.Start(ctx, "open chat stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.mode", req.Mode),
		attribute.Bool("request.has_image", req.ImageRef != ""),
	)

	if strings.TrimSpace(req.Text) == "" && req.ImageRef == "" {
		span.RecordError(ErrEmptyText)
		span.SetStatus(codes.Error, "empty request")
		return nil, ErrEmptyText
	}

	query := url.Values{}
	query.Set("text", req.Text)
	if req.Mode != "" {
		query.Set("mode", req.Mode)
	}
	if req.ImageRef != "" {
		query.Set("image_id", req.ImageRef)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.endpoint("/api/stream_chat", query), nil)
	if err != nil {
		cancel()
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "open stream failed")
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	// ctx bounds only the handshake; the stream itself lives until Close.
	stopOpenBound := context.AfterFunc(ctx, cancel)
	resp, err := c.httpClient.Do(httpReq)
	if !stopOpenBound() && err == nil {
		resp.Body.Close()
		err = context.Cause(ctx)
	}
	if err != nil {
		cancel()
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "open stream failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		err := &StatusError{Endpoint: "/api/stream_chat", HTTPStatus: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		span.RecordError(err)
		span.SetStatus(codes.Error, "open stream failed")
		return nil, err
	}

	return &Stream{body: resp.Body, cancel: cancel}, nil
}

// Stream is the SSE reply stream returned by Client.OpenStream.
type Stream struct {
	body   io.ReadCloser
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// Messages yields the data payload of every server-sent event. Iteration ends
// without an error when the agent service closes the stream; it ends with an
// error when the transport fails or ctx is cancelled.
func (s *Stream) Messages(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		stop := context.AfterFunc(ctx, func() { s.Close() })
		defer stop()

		for ev, err := range readEvents(s.body) {
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = context.Cause(ctx)
				}
				yield(nil, fmt.Errorf("read chat stream: %w", err))
				return
			}
			if ev.Data == "" {
				continue
			}
			if !yield([]byte(ev.Data), nil) {
				return
			}
		}
		if ctx.Err() != nil {
			yield(nil, fmt.Errorf("read chat stream: %w", context.Cause(ctx)))
		}
	}
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
