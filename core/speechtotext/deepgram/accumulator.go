package deepgram

import (
	"encoding/json"
	"fmt"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/koscakluka/ema-client/core/speechtotext"
)

// transcriptAccumulator folds Deepgram's per-segment results into whole
// utterances. A final utterance is emitted on speech_final, or on an
// UtteranceEnd that follows unfinished speech.
type transcriptAccumulator struct {
	accumulated    string
	unendedSegment bool
}

func (a *transcriptAccumulator) process(msg []byte) (speechtotext.Transcript, bool, error) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		return speechtotext.Transcript{}, false, fmt.Errorf("failed to unmarshal deepgram message: %w", err)
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			return speechtotext.Transcript{}, false, fmt.Errorf("failed to unmarshal deepgram results: %w", err)
		}

		transcript := ""
		if len(msgResp.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		}

		if !msgResp.IsFinal {
			if transcript == "" {
				return speechtotext.Transcript{}, false, nil
			}
			return speechtotext.Transcript{Text: joinTranscript(a.accumulated, transcript)}, true, nil
		}

		if transcript != "" {
			a.accumulated = joinTranscript(a.accumulated, transcript)
			a.unendedSegment = true
		}
		if msgResp.SpeechFinal {
			return a.flush()
		}

	case api.TypeUtteranceEndResponse:
		if a.unendedSegment {
			return a.flush()
		}

	case api.TypeSpeechStartedResponse:
		a.unendedSegment = true
	}

	return speechtotext.Transcript{}, false, nil
}

func (a *transcriptAccumulator) flush() (speechtotext.Transcript, bool, error) {
	fullTranscript := strings.TrimSpace(a.accumulated)
	a.accumulated = ""
	a.unendedSegment = false
	if fullTranscript == "" {
		return speechtotext.Transcript{}, false, nil
	}
	return speechtotext.Transcript{Text: fullTranscript, IsFinal: true}, true, nil
}

func joinTranscript(accumulated, segment string) string {
	if accumulated == "" {
		return segment
	}
	return accumulated + " " + segment
}
