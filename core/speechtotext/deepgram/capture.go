package deepgram

import (
	"context"
	"fmt"
	"iter"
	"log"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-client/core/speechtotext"
)

// Capture runs one capture pass: it opens a transcription socket, streams
// microphone audio into it and yields recognized transcripts until ctx is
// cancelled, the service closes the socket, or (with SingleUtterance) the
// first final transcript arrives. Cancellation and a normal close end the
// sequence without an error.
func (c *Client) Capture(ctx context.Context) iter.Seq2[speechtotext.Transcript, error] {
	return func(yield func(speechtotext.Transcript, error) bool) {
		encoding, err := convertEncoding(c.options.EncodingInfo)
		if err != nil {
			yield(speechtotext.Transcript{}, fmt.Errorf("invalid encoding: %w", err))
			return
		}

		target, err := c.connectionURL(*encoding)
		if err != nil {
			yield(speechtotext.Transcript{}, err)
			return
		}

		conn, _, err := c.dialer.DialContext(ctx, target, c.authHeader())
		if err != nil {
			yield(speechtotext.Transcript{}, fmt.Errorf("failed to open socket connection to deepgram: %w", err))
			return
		}

		pass := &capturePass{conn: conn, lastAudio: time.Now()}
		defer pass.close()
		unblockRead := context.AfterFunc(ctx, pass.abort)
		defer unblockRead()

		if err := c.source.StartCapture(ctx, pass.sendAudio); err != nil {
			yield(speechtotext.Transcript{}, fmt.Errorf("failed to start audio capture: %w", err))
			return
		}
		defer func() {
			if err := c.source.StopCapture(); err != nil {
				log.Println("Failed to stop audio capture", "error", err)
			}
		}()

		keepAliveCtx, stopKeepAlive := context.WithCancel(ctx)
		defer stopKeepAlive()
		go pass.keepAlive(keepAliveCtx, c.keepAliveInterval)

		var accumulator transcriptAccumulator
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return
				}
				yield(speechtotext.Transcript{}, fmt.Errorf("failed to read deepgram message: %w", err))
				return
			}
			if msgType == websocket.BinaryMessage {
				continue
			}

			transcript, ok, err := accumulator.process(msg)
			if err != nil {
				log.Println("Failed to process deepgram message", "error", err)
				continue
			}
			if !ok || (!transcript.IsFinal && !c.options.InterimResults) {
				continue
			}
			if !yield(transcript, nil) {
				return
			}
			if transcript.IsFinal && c.options.SingleUtterance {
				return
			}
		}
	}
}

type capturePass struct {
	conn *websocket.Conn

	mu        sync.Mutex
	lastAudio time.Time
	closed    bool
}

func (p *capturePass) sendAudio(audio []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.lastAudio = time.Now()
	if err := p.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		log.Println("Failed to write to deepgram client", "error", err)
	}
}

func (p *capturePass) keepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			if !p.closed && time.Since(p.lastAudio) >= interval {
				if err := p.conn.WriteJSON(struct {
					Type string `json:"type"`
				}{Type: "KeepAlive"}); err != nil {
					log.Println("Failed to write to deepgram client", "error", err)
				}
			}
			p.mu.Unlock()
		}
	}
}

// close asks the service to flush and close the stream, then drops the
// socket.
func (p *capturePass) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true

	if err := p.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		log.Println("Failed to close deepgram stream", "error", err)
	}
	p.conn.Close()
}

// abort drops the socket without the close handshake, unblocking a pending
// read.
func (p *capturePass) abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.conn.Close()
}
