package orchestration

import (
	"github.com/koscakluka/ema-client/core/audio"
)

type outputOwner int

const (
	ownerNone outputOwner = iota
	// ownerQueue is the playback queue carrying stream audio.
	ownerQueue
	// ownerSpeech is the dispatcher carrying fallback or replayed speech.
	ownerSpeech
)

func (o outputOwner) String() string {
	switch o {
	case ownerQueue:
		return "queue"
	case ownerSpeech:
		return "speech"
	}
	return "none"
}

// outputChannel is the single audio output shared by the playback queue and
// the speech dispatcher. At most one owner plays at a time. Completions are
// tagged with a play generation so that completions of stopped plays are
// recognised as stale.
type outputChannel struct {
	output AudioOutput
	post   func(loopEvent)

	owner  outputOwner
	playID uint64
}

func newOutputChannel(output AudioOutput, post func(loopEvent)) *outputChannel {
	if output == nil {
		output = nopOutput{}
	}
	return &outputChannel{output: output, post: post}
}

func (c *outputChannel) play(owner outputOwner, segment audio.Segment) error {
	c.playID++
	playID := c.playID
	c.owner = owner

	err := c.output.Play(segment, func(err error) {
		// posted from a fresh goroutine so outputs may complete synchronously
		go c.post(playbackFinished{owner: owner, playID: playID, err: err})
	})
	if err != nil {
		c.owner = ownerNone
		return err
	}
	return nil
}

// finished reports whether ev completes the play currently holding the
// channel, and releases the channel if so.
func (c *outputChannel) finished(ev playbackFinished) bool {
	if c.owner == ownerNone || c.owner != ev.owner || c.playID != ev.playID {
		return false
	}
	c.owner = ownerNone
	return true
}

// stop cuts the current play short if owner holds the channel.
func (c *outputChannel) stop(owner outputOwner) bool {
	if c.owner != owner || owner == ownerNone {
		return false
	}
	c.owner = ownerNone
	c.output.Stop()
	return true
}

func (c *outputChannel) heldBy(owner outputOwner) bool {
	return c.owner == owner && owner != ownerNone
}

type nopOutput struct{}

func (nopOutput) Play(_ audio.Segment, onDone func(error)) error {
	go onDone(nil)
	return nil
}

func (nopOutput) Stop() {}
