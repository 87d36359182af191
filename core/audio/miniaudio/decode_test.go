package miniaudio

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/koscakluka/ema-client/core/audio"
)

func writeTestWAV(t *testing.T, sampleRate, channels int, data []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	encoder := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buffer); err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if err := encoder.Close(); err != nil {
		t.Fatalf("unexpected encoder close error: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	encoded, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	return encoded
}

func TestDecodeWAVDownmixesToMono(t *testing.T) {
	encoded := writeTestWAV(t, 24000, 2, []int{100, 300, -200, -400, 1000, 1000})

	decoded, err := decodeSegment(audio.NewSegment(encoded))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if decoded.sampleRate != 24000 {
		t.Fatalf("expected sample rate 24000, got %d", decoded.sampleRate)
	}
	expected := []int16{200, -300, 1000}
	if len(decoded.samples) != len(expected) {
		t.Fatalf("expected %d samples, got %v", len(expected), decoded.samples)
	}
	for i := range expected {
		if decoded.samples[i] != expected[i] {
			t.Fatalf("expected sample %d to be %d, got %d", i, expected[i], decoded.samples[i])
		}
	}
}

func TestDecodeSegmentRejectsUnknownContainer(t *testing.T) {
	_, err := decodeSegment(audio.NewSegment([]byte("OggS....")))
	if !errors.Is(err, audio.ErrUnsupportedContainer) {
		t.Fatalf("expected ErrUnsupportedContainer, got %v", err)
	}
}

func TestDecodeSegmentRejectsCorruptMP3(t *testing.T) {
	if _, err := decodeSegment(audio.NewSegment([]byte("ID3garbage"))); err == nil {
		t.Fatalf("expected error for corrupt mp3")
	}
}

func TestResampleScalesLength(t *testing.T) {
	in := pcm{samples: []int16{0, 100, 200, 300}, sampleRate: 24000}

	out := resample(in, 48000)
	if len(out) != 8 {
		t.Fatalf("expected 8 samples, got %d", len(out))
	}
	if out[0] != 0 || out[1] != 50 || out[2] != 100 {
		t.Fatalf("expected interpolated samples, got %v", out)
	}

	same := resample(in, 24000)
	if len(same) != len(in.samples) {
		t.Fatalf("expected unchanged length at same rate, got %d", len(same))
	}
}

func TestApplyVolumeScalesSamples(t *testing.T) {
	buffer := toBytes([]int16{1000, -1000})

	applyVolume(buffer, 0.5)

	first := int16(binary.LittleEndian.Uint16(buffer[0:]))
	second := int16(binary.LittleEndian.Uint16(buffer[2:]))
	if first != 500 || second != -500 {
		t.Fatalf("expected halved samples, got %d and %d", first, second)
	}
}

func TestAdvanceMarksReportsPassedSegments(t *testing.T) {
	client := &playbackClient{}
	client.marks = []playbackMark{
		{segmentID: "a", position: 100},
		{segmentID: "b", position: 300},
	}

	if finished := client.advanceMarks(50); len(finished) != 0 {
		t.Fatalf("expected no finished marks, got %v", finished)
	}
	finished := client.advanceMarks(60)
	if len(finished) != 1 || finished[0].segmentID != "a" {
		t.Fatalf("expected mark a to finish, got %v", finished)
	}
	if len(client.marks) != 1 || client.marks[0].position != 190 {
		t.Fatalf("expected mark b to remain at 190, got %v", client.marks)
	}
}

func TestStopReportsUnfinishedSegments(t *testing.T) {
	client := &playbackClient{}
	results := make(chan error, 2)
	client.pending = make([]byte, 10)
	client.marks = []playbackMark{
		{segmentID: "a", position: 4, onDone: func(err error) { results <- err }},
		{segmentID: "b", position: 10, onDone: func(err error) { results <- err }},
	}

	client.Stop()

	for range 2 {
		if err := <-results; !errors.Is(err, audio.ErrPlaybackStopped) {
			t.Fatalf("expected ErrPlaybackStopped, got %v", err)
		}
	}
	if len(client.pending) != 0 || len(client.marks) != 0 {
		t.Fatalf("expected buffers to be cleared")
	}
}

func TestSetVolumeClamps(t *testing.T) {
	client := &playbackClient{}
	client.SetVolume(1.7)
	if got := client.Volume(); got != 1 {
		t.Fatalf("expected clamped volume 1, got %v", got)
	}
	client.SetVolume(-1)
	if got := client.Volume(); got != 0 {
		t.Fatalf("expected clamped volume 0, got %v", got)
	}
}
