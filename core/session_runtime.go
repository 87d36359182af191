package orchestration

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/koscakluka/ema-client/core/agent"
	"github.com/koscakluka/ema-client/core/speechtotext"
)

const sessionEventQueueCapacity = 64

// loopEvent is everything the dispatch loop reacts to. Events produced by
// helper goroutines carry the generation ID of the stream, play, synthesis
// request or capture pass they belong to; the loop ignores stale ones.
type loopEvent interface{ loopEvent() }

type streamOpened struct {
	streamID uint64
	stream   agent.MessageStream
	err      error
}

type streamMessage struct {
	streamID uint64
	raw      []byte
}

type streamFailed struct {
	streamID uint64
	err      error
}

// streamClosed reports that the agent service closed the stream.
type streamClosed struct {
	streamID uint64
}

type playbackFinished struct {
	owner  outputOwner
	playID uint64
	err    error
}

type synthesisFinished struct {
	requestID uint64
	audio     []byte
	err       error
}

type transcriptReceived struct {
	passID     uint64
	transcript speechtotext.Transcript
}

type capturePassEnded struct {
	passID uint64
	err    error
}

// captureRetry ends the back-off after the failed capture pass passID.
type captureRetry struct {
	passID uint64
}

type userCommand struct {
	run  func()
	done chan struct{}
}

func (streamOpened) loopEvent()       {}
func (streamMessage) loopEvent()      {}
func (streamFailed) loopEvent()       {}
func (streamClosed) loopEvent()       {}
func (playbackFinished) loopEvent()   {}
func (synthesisFinished) loopEvent()  {}
func (transcriptReceived) loopEvent() {}
func (capturePassEnded) loopEvent()   {}
func (captureRetry) loopEvent()       {}
func (userCommand) loopEvent()        {}

type sessionRuntime struct {
	baseContext context.Context
	cancel      context.CancelFunc

	queue   chan loopEvent
	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once

	started atomic.Bool
}

func newSessionRuntime() *sessionRuntime {
	ctx, cancel := context.WithCancel(context.Background())
	return &sessionRuntime{
		baseContext: ctx,
		cancel:      cancel,
		queue:       make(chan loopEvent, sessionEventQueueCapacity),
		closeCh:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (runtime *sessionRuntime) isClosed() bool {
	select {
	case <-runtime.closeCh:
		return true
	default:
		return false
	}
}

// post hands an event to the dispatch loop. It reports false once the
// session is closed.
func (runtime *sessionRuntime) post(event loopEvent) bool {
	if runtime.isClosed() {
		return false
	}

	select {
	case <-runtime.closeCh:
		return false
	case runtime.queue <- event:
		return true
	}
}

// Start runs the dispatch loop until Close. ctx is the parent of every
// stream, synthesis and capture the session starts. It reports false if the
// session was already started or closed.
func (s *Session) Start(ctx context.Context) (started bool) {
	runtime := s.runtime
	if runtime.isClosed() {
		return false
	}

	runtime.startOnce.Do(func() {
		if runtime.isClosed() {
			return
		}

		base, cancel := context.WithCancel(ctx)
		stopParent := context.AfterFunc(runtime.baseContext, cancel)
		s.rebase(base)

		started = true
		runtime.started.Store(true)
		go func() {
			defer close(runtime.done)
			defer stopParent()
			defer cancel()

			s.settle()
			for {
				select {
				case <-runtime.closeCh:
					s.shutdownOnce.Do(s.shutdown)
					return
				case event := <-runtime.queue:
					if runtime.isClosed() {
						s.shutdownOnce.Do(s.shutdown)
						return
					}
					s.process(event)
				}
			}
		}()
	})

	return started
}

// Close stops the dispatch loop, closes any open stream, silences playback
// and stops capture. It waits for the loop to exit.
func (s *Session) Close() {
	runtime := s.runtime
	runtime.endOnce.Do(func() {
		close(runtime.closeCh)
		runtime.cancel()
	})

	if runtime.started.Load() {
		<-runtime.done
		return
	}
	s.shutdownOnce.Do(s.shutdown)
}

// do runs command on the dispatch loop and waits for it. It reports false
// when the session is not running.
func (s *Session) do(command func()) bool {
	runtime := s.runtime
	if !runtime.started.Load() {
		return false
	}

	done := make(chan struct{})
	if !runtime.post(userCommand{run: command, done: done}) {
		return false
	}

	select {
	case <-done:
		return true
	case <-runtime.done:
		return false
	}
}
