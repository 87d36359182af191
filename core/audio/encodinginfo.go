package audio

import "time"

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultFormat     = "linear16"
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Channels: DefaultChannels, Format: EncodingLinear16}
}

// EncodingInfo describes raw PCM audio flowing between devices and the
// speech services.
type EncodingInfo struct {
	SampleRate int
	Channels   int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// channels treats an unset channel count as mono.
func (e EncodingInfo) channels() int {
	if e.Channels <= 0 {
		return 1
	}
	return e.Channels
}

// BytesPerFrame is the size of one sample across all channels, or zero for
// an unknown format.
func (e EncodingInfo) BytesPerFrame() int {
	size := e.Format.ByteSize()
	if size <= 0 {
		return 0
	}
	return size * e.channels()
}

// Duration reports how long byteCount bytes of audio in this encoding play.
func (e EncodingInfo) Duration(byteCount int) time.Duration {
	frameSize := e.BytesPerFrame()
	if frameSize == 0 || e.SampleRate == 0 {
		return 0
	}
	frames := byteCount / frameSize
	return time.Duration(frames) * time.Second / time.Duration(e.SampleRate)
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	}
	return 0
}

type encodingFormat string

func (e encodingFormat) Name() string { return string(e) }

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
