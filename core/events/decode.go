package events

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	typeStart = "start"
	typeChunk = "chunk"
	typeAudio = "audio"
	typeUsage = "usage"
	typeEnd   = "end"
)

type rawMessage struct {
	Type    string          `json:"type"`
	Content *string         `json:"content"`
	Data    *rawUsage       `json:"data"`
	Error   json.RawMessage `json:"error"`
}

type rawUsage struct {
	PromptTokenCount     int `json:"prompt_token_count"`
	CandidatesTokenCount int `json:"candidates_token_count"`
	TotalTokenCount      int `json:"total_token_count"`
}

// Decode parses one raw stream message into a StreamEvent.
//
// The message is a JSON object whose "type" field selects the variant:
//
//	{"type":"start"}
//	{"type":"chunk","content":"text"}
//	{"type":"audio","content":"<base64>"}
//	{"type":"usage","data":{"prompt_token_count":1,"candidates_token_count":2,"total_token_count":3}}
//	{"type":"end"}
//
// A message carrying an "error" field and no type is returned as a
// *RemoteError. Every other failure is a *DecodeError.
func Decode(raw []byte) (StreamEvent, error) {
	var msg rawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &DecodeError{Raw: raw, Err: err}
	}

	if msg.Type == "" {
		if len(msg.Error) > 0 && string(msg.Error) != "null" {
			return nil, &RemoteError{Message: remoteErrorMessage(msg.Error)}
		}
		return nil, &DecodeError{Raw: raw, Err: ErrMissingType}
	}

	fail := func(err error) (StreamEvent, error) {
		return nil, &DecodeError{Type: msg.Type, Raw: raw, Err: err}
	}

	switch msg.Type {
	case typeStart:
		return NewStart(), nil

	case typeChunk:
		if msg.Content == nil {
			return fail(ErrMissingContent)
		}
		return NewChunk(*msg.Content), nil

	case typeAudio:
		if msg.Content == nil {
			return fail(ErrMissingContent)
		}
		payload, err := base64.StdEncoding.DecodeString(*msg.Content)
		if err != nil {
			return fail(fmt.Errorf("decode audio payload: %w", err))
		}
		if len(payload) == 0 {
			return fail(ErrEmptyAudio)
		}
		return NewAudio(payload), nil

	case typeUsage:
		if msg.Data == nil {
			return fail(ErrMissingContent)
		}
		return NewUsage(msg.Data.PromptTokenCount, msg.Data.CandidatesTokenCount, msg.Data.TotalTokenCount), nil

	case typeEnd:
		return NewEnd(), nil
	}

	return fail(ErrUnknownType)
}

func remoteErrorMessage(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}
