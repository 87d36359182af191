package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-client/core/audio"
	"github.com/koscakluka/ema-client/core/speechtotext"
)

func resultsMessage(transcript string, isFinal, speechFinal bool) string {
	return fmt.Sprintf(`{"type":"Results","channel":{"alternatives":[{"transcript":%q}]},"is_final":%t,"speech_final":%t}`,
		transcript, isFinal, speechFinal)
}

func TestAccumulatorJoinsSegmentsUntilSpeechFinal(t *testing.T) {
	var accumulator transcriptAccumulator

	steps := []struct {
		msg      string
		ok       bool
		expected speechtotext.Transcript
	}{
		{msg: `{"type":"SpeechStarted"}`},
		{msg: resultsMessage("hello", false, false), ok: true, expected: speechtotext.Transcript{Text: "hello"}},
		{msg: resultsMessage("hello", true, false)},
		{msg: resultsMessage("there", false, false), ok: true, expected: speechtotext.Transcript{Text: "hello there"}},
		{msg: resultsMessage("there", true, true), ok: true, expected: speechtotext.Transcript{Text: "hello there", IsFinal: true}},
		{msg: `{"type":"UtteranceEnd"}`},
	}

	for i, step := range steps {
		transcript, ok, err := accumulator.process([]byte(step.msg))
		if err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		if ok != step.ok {
			t.Fatalf("step %d: expected ok=%t, got %t", i, step.ok, ok)
		}
		if ok && transcript != step.expected {
			t.Fatalf("step %d: expected %+v, got %+v", i, step.expected, transcript)
		}
	}
}

func TestAccumulatorFlushesOnUtteranceEnd(t *testing.T) {
	var accumulator transcriptAccumulator

	if _, ok, _ := accumulator.process([]byte(resultsMessage("おはよう", true, false))); ok {
		t.Fatalf("expected no transcript before utterance end")
	}
	transcript, ok, err := accumulator.process([]byte(`{"type":"UtteranceEnd"}`))
	if err != nil || !ok {
		t.Fatalf("expected final transcript on utterance end, got ok=%t err=%v", ok, err)
	}
	if transcript.Text != "おはよう" || !transcript.IsFinal {
		t.Fatalf("unexpected transcript %+v", transcript)
	}
}

func TestAccumulatorRejectsMalformedMessage(t *testing.T) {
	var accumulator transcriptAccumulator
	if _, _, err := accumulator.process([]byte("{")); err == nil {
		t.Fatalf("expected error for malformed message")
	}
}

type fakeSource struct {
	mu      sync.Mutex
	started int
	stopped int
	onAudio func([]byte)
}

func (s *fakeSource) StartCapture(_ context.Context, onAudio func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	s.onAudio = onAudio
	go onAudio([]byte{0, 0, 0, 0})
	return nil
}

func (s *fakeSource) StopCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *fakeSource) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (s *fakeSource) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.stopped
}

func newTestServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestCaptureYieldsFinalTranscriptsAndStopsSource(t *testing.T) {
	var gotQuery string
	var gotAuth string
	listenURL := newTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(resultsMessage("こんにちは", false, false)))
		conn.WriteMessage(websocket.TextMessage, []byte(resultsMessage("こんにちは", true, true)))
		conn.WriteMessage(websocket.TextMessage, []byte(resultsMessage("元気", true, true)))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	})

	source := &fakeSource{}
	client, err := NewClient("secret", source, WithListenURL(listenURL))
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	var transcripts []speechtotext.Transcript
	for transcript, err := range client.Capture(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected capture error: %v", err)
		}
		transcripts = append(transcripts, transcript)
	}

	if len(transcripts) != 2 {
		t.Fatalf("expected 2 final transcripts, got %+v", transcripts)
	}
	if transcripts[0].Text != "こんにちは" || !transcripts[0].IsFinal || transcripts[1].Text != "元気" {
		t.Fatalf("unexpected transcripts %+v", transcripts)
	}
	if gotAuth != "Token secret" {
		t.Fatalf("expected token auth header, got %q", gotAuth)
	}
	for _, fragment := range []string{"language=ja", "sample_rate=16000", "encoding=linear16"} {
		if !strings.Contains(gotQuery, fragment) {
			t.Fatalf("expected query %q to contain %q", gotQuery, fragment)
		}
	}
	if started, stopped := source.counts(); started != 1 || stopped != 1 {
		t.Fatalf("expected source started and stopped once, got %d/%d", started, stopped)
	}
}

func TestCaptureSingleUtteranceEndsPass(t *testing.T) {
	listenURL := newTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.WriteMessage(websocket.TextMessage, []byte(resultsMessage("first", true, true)))
		conn.WriteMessage(websocket.TextMessage, []byte(resultsMessage("second", true, true)))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client, err := NewClient("secret", &fakeSource{},
		WithListenURL(listenURL),
		WithCaptureOptions(speechtotext.WithSingleUtterance()),
	)
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	var transcripts []speechtotext.Transcript
	for transcript, err := range client.Capture(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected capture error: %v", err)
		}
		transcripts = append(transcripts, transcript)
	}

	if len(transcripts) != 1 || transcripts[0].Text != "first" {
		t.Fatalf("expected only the first utterance, got %+v", transcripts)
	}
}

func TestCaptureCancellationEndsWithoutError(t *testing.T) {
	listenURL := newTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client, err := NewClient("secret", &fakeSource{}, WithListenURL(listenURL))
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		var captureErr error
		for _, err := range client.Capture(ctx) {
			if err != nil {
				captureErr = err
			}
		}
		done <- captureErr
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected cancellation to end the pass cleanly, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected capture pass to end after cancellation")
	}
}

func TestCaptureReportsDialFailure(t *testing.T) {
	client, err := NewClient("secret", &fakeSource{}, WithListenURL("ws://127.0.0.1:1/v1/listen"))
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	var captureErr error
	for _, err := range client.Capture(context.Background()) {
		captureErr = err
	}
	if captureErr == nil {
		t.Fatalf("expected dial failure to be reported")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient("", &fakeSource{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}
