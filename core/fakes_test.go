package orchestration

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-client/core/agent"
	"github.com/koscakluka/ema-client/core/audio"
	"github.com/koscakluka/ema-client/core/events"
	"github.com/koscakluka/ema-client/core/speechtotext"
)

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}

func startMessage() []byte { return []byte(`{"type":"start"}`) }

func endMessage() []byte { return []byte(`{"type":"end"}`) }

func chunkMessage(text string) []byte {
	raw, _ := json.Marshal(map[string]string{"type": "chunk", "content": text})
	return raw
}

func audioMessage(payload []byte) []byte {
	raw, _ := json.Marshal(map[string]string{"type": "audio", "content": base64.StdEncoding.EncodeToString(payload)})
	return raw
}

func usageMessage(prompt, candidates int) []byte {
	raw, _ := json.Marshal(map[string]any{
		"type": "usage",
		"data": map[string]int{
			"prompt_token_count":     prompt,
			"candidates_token_count": candidates,
			"total_token_count":      prompt + candidates,
		},
	})
	return raw
}

// fakeStream yields whatever is fed to it and then stays open until it is
// closed, its context ends or end is called.
type fakeStream struct {
	messages chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	endOnce   sync.Once
}

func newFakeStream(script ...[]byte) *fakeStream {
	stream := &fakeStream{
		messages: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
	for _, raw := range script {
		stream.messages <- raw
	}
	return stream
}

func (s *fakeStream) Messages(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			select {
			case raw, ok := <-s.messages:
				if !ok {
					return
				}
				if !yield(raw, nil) {
					return
				}
			case <-s.closed:
				return
			case <-ctx.Done():
				yield(nil, context.Cause(ctx))
				return
			}
		}
	}
}

func (s *fakeStream) send(raw ...[]byte) {
	for _, message := range raw {
		s.messages <- message
	}
}

// end closes the stream from the server side.
func (s *fakeStream) end() {
	s.endOnce.Do(func() { close(s.messages) })
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeChat struct {
	mu       sync.Mutex
	scripts  [][][]byte
	openErr  error
	requests []agent.StreamRequest
	streams  []*fakeStream
}

// newFakeChat scripts one stream per call to OpenStream, in order.
func newFakeChat(scripts ...[][]byte) *fakeChat {
	return &fakeChat{scripts: scripts}
}

func (c *fakeChat) OpenStream(_ context.Context, req agent.StreamRequest) (agent.MessageStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)
	if c.openErr != nil {
		return nil, c.openErr
	}

	var script [][]byte
	if index := len(c.requests) - 1; index < len(c.scripts) {
		script = c.scripts[index]
	}
	stream := newFakeStream(script...)
	c.streams = append(c.streams, stream)
	return stream, nil
}

func (c *fakeChat) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *fakeChat) request(index int) agent.StreamRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[index]
}

func (c *fakeChat) stream(index int) *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= len(c.streams) {
		return nil
	}
	return c.streams[index]
}

type synthesisCall struct {
	text string
	mode string
}

type fakeSynthesizer struct {
	mu    sync.Mutex
	calls []synthesisCall
	err   error
}

func (s *fakeSynthesizer) Synthesize(_ context.Context, text, mode string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, synthesisCall{text: text, mode: mode})
	if s.err != nil {
		return nil, s.err
	}
	return []byte("speech:" + text), nil
}

func (s *fakeSynthesizer) callList() []synthesisCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]synthesisCall(nil), s.calls...)
}

type fakePlay struct {
	id   int
	done func(error)
}

// fakeOutput records what was played. With autoComplete set every play
// finishes on its own after that delay; otherwise finish ends the current
// play.
type fakeOutput struct {
	autoComplete time.Duration
	playErr      error

	mu         sync.Mutex
	played     [][]byte
	playing    int
	maxPlaying int
	stops      int
	current    *fakePlay
	nextID     int
}

func (o *fakeOutput) Play(segment audio.Segment, onDone func(error)) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.playErr != nil {
		return o.playErr
	}

	o.played = append(o.played, segment.Data)
	o.playing++
	if o.playing > o.maxPlaying {
		o.maxPlaying = o.playing
	}

	o.nextID++
	play := &fakePlay{id: o.nextID}
	var once sync.Once
	play.done = func(err error) {
		once.Do(func() {
			o.mu.Lock()
			o.playing--
			if o.current == play {
				o.current = nil
			}
			o.mu.Unlock()
			onDone(err)
		})
	}
	o.current = play

	if o.autoComplete > 0 {
		time.AfterFunc(o.autoComplete, func() { play.done(nil) })
	}
	return nil
}

func (o *fakeOutput) Stop() {
	o.mu.Lock()
	play := o.current
	o.current = nil
	if play != nil {
		o.stops++
	}
	o.mu.Unlock()

	if play != nil {
		play.done(audio.ErrPlaybackStopped)
	}
}

func (o *fakeOutput) finish(err error) bool {
	o.mu.Lock()
	play := o.current
	o.mu.Unlock()

	if play == nil {
		return false
	}
	play.done(err)
	return true
}

func (o *fakeOutput) playedData() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	played := make([]string, 0, len(o.played))
	for _, data := range o.played {
		played = append(played, string(data))
	}
	return played
}

func (o *fakeOutput) stats() (maxPlaying, stops int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxPlaying, o.stops
}

// fakeCapture runs passes that deliver whatever is sent on transcripts. A
// value sent on ends finishes the running pass on its own, failing it when
// the value is non-nil.
type fakeCapture struct {
	transcripts chan speechtotext.Transcript
	ends        chan error
	passes      atomic.Int32
	active      atomic.Int32
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{
		transcripts: make(chan speechtotext.Transcript),
		ends:        make(chan error),
	}
}

func (c *fakeCapture) Capture(ctx context.Context) iter.Seq2[speechtotext.Transcript, error] {
	return func(yield func(speechtotext.Transcript, error) bool) {
		c.passes.Add(1)
		c.active.Add(1)
		defer c.active.Add(-1)

		for {
			select {
			case <-ctx.Done():
				return
			case err := <-c.ends:
				if err != nil {
					yield(speechtotext.Transcript{}, err)
				}
				return
			case transcript := <-c.transcripts:
				if !yield(transcript, nil) {
					return
				}
			}
		}
	}
}

type sessionRecorder struct {
	mu          sync.Mutex
	states      []SessionState
	statuses    []Status
	chunks      []string
	ends        []string
	usage       []events.Usage
	speaking    []bool
	transcripts []speechtotext.Transcript
	errs        []error
}

func (r *sessionRecorder) options() []SessionOption {
	return []SessionOption{
		WithStateCallback(func(state SessionState) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, state)
		}),
		WithStatusCallback(func(status Status) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, status)
		}),
		WithResponseCallback(func(chunk string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.chunks = append(r.chunks, chunk)
		}),
		WithResponseEndCallback(func(response string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ends = append(r.ends, response)
		}),
		WithUsageCallback(func(usage events.Usage) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.usage = append(r.usage, usage)
		}),
		WithSpeakingStateCallback(func(speaking bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.speaking = append(r.speaking, speaking)
		}),
		WithTranscriptCallback(func(transcript speechtotext.Transcript) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transcripts = append(r.transcripts, transcript)
		}),
		WithErrorCallback(func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		}),
	}
}

func (r *sessionRecorder) endList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ends...)
}

func (r *sessionRecorder) stateList() []SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SessionState(nil), r.states...)
}

func (r *sessionRecorder) errList() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *sessionRecorder) transcriptList() []speechtotext.Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]speechtotext.Transcript(nil), r.transcripts...)
}

func (r *sessionRecorder) usageList() []events.Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Usage(nil), r.usage...)
}

func startTestSession(t *testing.T, chat StreamingChat, opts ...SessionOption) *Session {
	t.Helper()

	s := NewSession(chat, opts...)
	if !s.Start(context.Background()) {
		t.Fatalf("expected session to start")
	}
	t.Cleanup(s.Close)
	return s
}

func waitForIdle(t *testing.T, s *Session) {
	t.Helper()
	waitForCondition(t, 2*time.Second, "session to become idle and quiet", func() bool {
		snapshot := s.Snapshot()
		return snapshot.State == StateIdle && !snapshot.Speaking
	})
}
