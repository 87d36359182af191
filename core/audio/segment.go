package audio

import (
	"bytes"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrPlaybackStopped is reported to a playback completion callback when
	// the segment was cut short by Stop.
	ErrPlaybackStopped = errors.New("playback stopped")
	// ErrUnsupportedContainer is returned when a segment is neither WAV nor
	// MP3.
	ErrUnsupportedContainer = errors.New("unsupported audio container")
)

// Segment is one opaque, encoded unit of synthesized speech. The payload is
// whatever the speech service returned (a WAV file for local synthesis, an
// MP3 file for cloud synthesis); it is never modified after creation.
type Segment struct {
	ID   string
	Data []byte
}

func NewSegment(data []byte) Segment {
	return Segment{ID: uuid.NewString(), Data: data}
}

func (s Segment) Len() int { return len(s.Data) }

func (s Segment) Container() Container { return DetectContainer(s.Data) }

type Container string

const (
	ContainerUnknown Container = ""
	ContainerWAV     Container = "wav"
	ContainerMP3     Container = "mp3"
)

// DetectContainer sniffs the leading bytes of an encoded audio buffer.
func DetectContainer(data []byte) Container {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return ContainerWAV
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return ContainerMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG frame sync
		return ContainerMP3
	}
	return ContainerUnknown
}
