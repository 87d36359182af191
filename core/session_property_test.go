package orchestration

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/koscakluka/ema-client/core/speechtotext"
	"pgregory.net/rapid"
)

// The tests below drive an unstarted session by hand, one event at a time,
// so that every interleaving rapid draws is replayed exactly.

func runCommand(s *Session, command func()) {
	s.process(userCommand{run: command, done: make(chan struct{})})
}

func deliver(s *Session, raw []byte) {
	if s.stream == nil {
		return
	}
	s.process(streamMessage{streamID: s.stream.id, raw: raw})
}

// finishQueuePlay ends the segment the queue is playing on the device and
// then hands the completion to the session, as the real callback would.
func finishQueuePlay(s *Session, output *fakeOutput) bool {
	if !s.output.heldBy(ownerQueue) {
		return false
	}
	playID := s.output.playID
	output.finish(nil)
	s.process(playbackFinished{owner: ownerQueue, playID: playID})
	return true
}

var modeGenerator = rapid.SampledFrom([]TTSMode{ModeLocal, ModeAPI, ModeSilent})

var chunkGenerator = rapid.StringMatching(`[a-zA-Z0-9ぁ-ん、。？]{0,8}`)

func TestTextOnlyStreamFallbackProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		mode := modeGenerator.Draw(rt, "mode")
		chunks := rapid.SliceOfN(chunkGenerator, 0, 10).Draw(rt, "chunks")
		explicitStart := rapid.Bool().Draw(rt, "explicitStart")

		var ended []string
		s := NewSession(newFakeChat(),
			WithInitialMode(mode),
			WithSpeechSynthesizer(&fakeSynthesizer{}),
			WithAudioOutput(&fakeOutput{}),
			WithResponseEndCallback(func(response string) { ended = append(ended, response) }),
		)
		defer s.Close()

		runCommand(s, func() { s.submit("prompt", "") })
		if explicitStart {
			deliver(s, startMessage())
		}
		for _, chunk := range chunks {
			deliver(s, chunkMessage(chunk))
		}
		deliver(s, endMessage())

		expected := strings.Join(chunks, "")
		if len(ended) != 1 || ended[0] != expected {
			rt.Fatalf("expected response %q, got %v", expected, ended)
		}
		if s.state != StateIdle {
			rt.Fatalf("expected idle after end, got %s", s.state)
		}

		fallbackIssued := s.tts.requestID > 0
		if want := mode == ModeLocal && expected != ""; fallbackIssued != want {
			rt.Fatalf("mode %s text %q: fallback issued %v, want %v", mode, expected, fallbackIssued, want)
		}
	})
}

func TestStreamAudioSuppressesFallbackProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		mode := modeGenerator.Draw(rt, "mode")
		steps := rapid.SliceOfN(rapid.SampledFrom([]string{"chunk", "audio", "usage", "start"}), 0, 12).Draw(rt, "steps")
		audioAt := rapid.IntRange(0, len(steps)).Draw(rt, "audioAt")

		s := NewSession(newFakeChat(),
			WithInitialMode(mode),
			WithSpeechSynthesizer(&fakeSynthesizer{}),
			WithAudioOutput(&fakeOutput{}),
		)
		defer s.Close()

		runCommand(s, func() { s.submit("prompt", "") })
		deliver(s, startMessage())
		steps = slices.Insert(steps, audioAt, "audio")
		for i, step := range steps {
			switch step {
			case "chunk":
				deliver(s, chunkMessage(fmt.Sprintf("c%d", i)))
			case "audio":
				deliver(s, audioMessage([]byte(fmt.Sprintf("a%d", i))))
			case "usage":
				deliver(s, usageMessage(i, i))
			case "start":
				deliver(s, startMessage())
			}
		}
		deliver(s, endMessage())

		if s.tts.requestID != 0 {
			rt.Fatalf("mode %s: expected no fallback synthesis when the stream carried audio", mode)
		}
	})
}

func TestSegmentsPlayInOrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		steps := rapid.SliceOfN(rapid.SampledFrom([]string{"audio", "finish", "replay"}), 1, 40).Draw(rt, "steps")

		output := &fakeOutput{}
		s := NewSession(newFakeChat(),
			WithInitialMode(ModeAPI),
			WithSpeechSynthesizer(&fakeSynthesizer{}),
			WithAudioOutput(output),
		)
		defer s.Close()

		runCommand(s, func() { s.submit("prompt", "") })
		deliver(s, startMessage())

		var enqueued []string
		for i, step := range steps {
			switch step {
			case "audio":
				payload := fmt.Sprintf("seg%d", i)
				enqueued = append(enqueued, payload)
				deliver(s, audioMessage([]byte(payload)))
			case "finish":
				finishQueuePlay(s, output)
			case "replay":
				var err error
				runCommand(s, func() { err = s.tts.synthesizeAndPlay("replay", ModeAPI, originReplay, 0) })
				if err == nil {
					s.process(synthesisFinished{requestID: s.tts.requestID, audio: []byte("speech")})
				}
			}

			if s.queue.current != nil && !s.output.heldBy(ownerQueue) {
				rt.Fatalf("queue has a current segment without holding the output")
			}
		}
		for finishQueuePlay(s, output) {
		}

		var played []string
		for _, data := range output.playedData() {
			if strings.HasPrefix(data, "seg") {
				played = append(played, data)
			}
		}
		if !slices.Equal(played, enqueued) {
			rt.Fatalf("expected playback order %v, got %v", enqueued, played)
		}
		if maxPlaying, _ := output.stats(); maxPlaying > 1 {
			rt.Fatalf("saw %d segments playing at once", maxPlaying)
		}
	})
}

func TestSilentModeNeverPlaysProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		steps := rapid.SliceOfN(rapid.SampledFrom([]string{"submit", "chunk", "audio", "end", "replay", "abort"}), 1, 40).Draw(rt, "steps")

		output := &fakeOutput{}
		s := NewSession(newFakeChat(),
			WithInitialMode(ModeSilent),
			WithSpeechSynthesizer(&fakeSynthesizer{}),
			WithAudioOutput(output),
		)
		defer s.Close()

		for i, step := range steps {
			switch step {
			case "submit":
				runCommand(s, func() { s.submit(fmt.Sprintf("prompt %d", i), "") })
			case "chunk":
				deliver(s, chunkMessage("text"))
			case "audio":
				deliver(s, audioMessage([]byte("seg")))
			case "end":
				deliver(s, endMessage())
			case "replay":
				runCommand(s, func() { _ = s.tts.synthesizeAndPlay("replay", s.mode.current(), originReplay, 0) })
			case "abort":
				runCommand(s, func() { s.abort() })
			}
		}

		if played := output.playedData(); len(played) != 0 {
			rt.Fatalf("expected no audio in silent mode, got %v", played)
		}
		if s.tts.requestID != 0 {
			rt.Fatalf("expected no synthesis requests in silent mode")
		}
	})
}

func TestTranscriptsOnlyForwardedWhenQuietProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		steps := rapid.SliceOfN(rapid.SampledFrom([]string{
			"submit", "chunk", "audio", "end", "finish", "abort", "transcript", "toggleMic", "cycleMode",
		}), 1, 60).Draw(rt, "steps")

		var violation string
		var s *Session
		output := &fakeOutput{}
		s = NewSession(newFakeChat(),
			WithInitialMode(ModeAPI),
			WithSpeechCapture(newFakeCapture()),
			WithMicEnabled(true),
			WithAudioOutput(output),
			WithTranscriptCallback(func(speechtotext.Transcript) {
				if s.state.IsBusy() || s.speaking {
					violation = fmt.Sprintf("transcript forwarded while %s, speaking=%v", s.state, s.speaking)
				}
			}),
		)
		defer s.Close()
		s.settle()

		for i, step := range steps {
			switch step {
			case "submit":
				runCommand(s, func() { s.submit(fmt.Sprintf("prompt %d", i), "") })
			case "chunk":
				deliver(s, chunkMessage("text"))
			case "audio":
				deliver(s, audioMessage([]byte("seg")))
			case "end":
				deliver(s, endMessage())
			case "finish":
				finishQueuePlay(s, output)
			case "abort":
				runCommand(s, func() { s.abort() })
			case "transcript":
				// Transcripts from the current pass, or from a stale one once
				// capture has been paused.
				s.process(transcriptReceived{
					passID:     s.capture.passID,
					transcript: speechtotext.Transcript{Text: fmt.Sprintf("said %d", i), IsFinal: rapid.Bool().Draw(rt, "final")},
				})
			case "toggleMic":
				runCommand(s, func() { s.capture.setEnabled(!s.capture.enabled) })
			case "cycleMode":
				runCommand(s, func() { s.mode.cycle() })
			}

			if violation != "" {
				rt.Fatalf("%s", violation)
			}
			if s.mic.Capturing && (!s.mic.Enabled || s.state.IsBusy() || s.speaking) {
				rt.Fatalf("capturing with mic %+v while %s, speaking=%v", s.mic, s.state, s.speaking)
			}
		}
	})
}

func TestAbortThenSubmitProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		chunks := rapid.SliceOfN(chunkGenerator, 0, 5).Draw(rt, "chunks")
		audioCount := rapid.IntRange(0, 3).Draw(rt, "audioCount")

		chat := newFakeChat()
		s := NewSession(chat, WithAudioOutput(&fakeOutput{}))
		defer s.Close()

		runCommand(s, func() { s.submit("first", "") })
		deliver(s, startMessage())
		for _, chunk := range chunks {
			deliver(s, chunkMessage(chunk))
		}
		for i := range audioCount {
			deliver(s, audioMessage([]byte(fmt.Sprintf("a%d", i))))
		}

		aborted := false
		runCommand(s, func() { aborted = s.abort() })
		if !aborted {
			rt.Fatalf("expected abort while streaming")
		}
		if s.state != StateIdle || s.status != StatusAborted || s.response.Len() != 0 || s.queue.len() != 0 {
			rt.Fatalf("unexpected state after abort: %s %s %q %d", s.state, s.status, s.response.String(), s.queue.len())
		}

		accepted := false
		runCommand(s, func() { accepted = s.submit("second", "") })
		if !accepted {
			rt.Fatalf("expected submit right after abort to be accepted")
		}
	})
}
