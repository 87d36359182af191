package miniaudio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/koscakluka/ema-client/core/audio"
)

// pcm is mono 16-bit audio at a known sample rate.
type pcm struct {
	samples    []int16
	sampleRate int
}

func decodeSegment(segment audio.Segment) (pcm, error) {
	switch segment.Container() {
	case audio.ContainerWAV:
		return decodeWAV(segment.Data)
	case audio.ContainerMP3:
		return decodeMP3(segment.Data)
	}
	return pcm{}, fmt.Errorf("segment %s: %w", segment.ID, audio.ErrUnsupportedContainer)
}

func decodeWAV(data []byte) (pcm, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return pcm{}, fmt.Errorf("invalid wav file")
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return pcm{}, fmt.Errorf("failed to decode wav: %w", err)
	}
	if buffer.Format == nil || buffer.Format.SampleRate <= 0 {
		return pcm{}, fmt.Errorf("wav has no sample rate")
	}

	channels := max(buffer.Format.NumChannels, 1)
	shift := buffer.SourceBitDepth - 16
	frames := len(buffer.Data) / channels
	samples := make([]int16, frames)
	for frame := range frames {
		sum := 0
		for channel := range channels {
			value := buffer.Data[frame*channels+channel]
			switch {
			case buffer.SourceBitDepth == 8:
				value = (value - 128) << 8
			case shift > 0:
				value >>= shift
			}
			sum += value
		}
		samples[frame] = clampSample(sum / channels)
	}

	return pcm{samples: samples, sampleRate: buffer.Format.SampleRate}, nil
}

// decodeMP3 downmixes the decoder's interleaved 16-bit stereo output.
func decodeMP3(data []byte) (pcm, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return pcm{}, fmt.Errorf("failed to open mp3: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return pcm{}, fmt.Errorf("failed to decode mp3: %w", err)
	}

	const bytesPerFrame = 4
	frames := len(raw) / bytesPerFrame
	samples := make([]int16, frames)
	for frame := range frames {
		left := int16(binary.LittleEndian.Uint16(raw[frame*bytesPerFrame:]))
		right := int16(binary.LittleEndian.Uint16(raw[frame*bytesPerFrame+2:]))
		samples[frame] = int16((int(left) + int(right)) / 2)
	}

	return pcm{samples: samples, sampleRate: decoder.SampleRate()}, nil
}

// resample converts audio to the target rate by linear interpolation.
func resample(in pcm, targetRate int) []int16 {
	if in.sampleRate == targetRate || len(in.samples) == 0 {
		return in.samples
	}

	outLen := int(int64(len(in.samples)) * int64(targetRate) / int64(in.sampleRate))
	out := make([]int16, outLen)
	step := float64(in.sampleRate) / float64(targetRate)
	last := len(in.samples) - 1
	for i := range out {
		position := float64(i) * step
		index := int(position)
		if index >= last {
			out[i] = in.samples[last]
			continue
		}
		fraction := position - float64(index)
		a, b := float64(in.samples[index]), float64(in.samples[index+1])
		out[i] = int16(a + (b-a)*fraction)
	}
	return out
}

func toBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

// applyVolume scales little-endian 16-bit samples in place.
func applyVolume(buffer []byte, volume float64) {
	if volume >= 1 {
		return
	}
	for i := 0; i+1 < len(buffer); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(buffer[i:]))
		binary.LittleEndian.PutUint16(buffer[i:], uint16(int16(float64(sample)*volume)))
	}
}

func clampSample(value int) int16 {
	if value > 32767 {
		return 32767
	}
	if value < -32768 {
		return -32768
	}
	return int16(value)
}
