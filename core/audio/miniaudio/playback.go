package miniaudio

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-client/core/audio"
	"github.com/koscakluka/ema-client/internal/utils"
)

const (
	playbackSampleRate = 48000
	defaultVolume      = 0.5
)

type playbackClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	pending []byte
	marks   []playbackMark
	volume  atomic.Uint64

	mu      sync.Mutex
	audioMu sync.Mutex
}

// playbackMark fires once the device has consumed the audio queued before
// it.
type playbackMark struct {
	segmentID string
	position  int
	onDone    func(error)
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Playback)
	c.config.SampleRate = playbackSampleRate
	c.config.Playback.Format = format
	c.config.Playback.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PeriodSizeInFrames = playbackSampleRate / 20 // ~50ms of audio
	c.config.Periods = 4

	c.audioContext = audioContext
	c.SetVolume(defaultVolume)

	var err error
	if c.device, err = malgo.InitDevice(
		c.audioContext.Context,
		c.config,
		malgo.DeviceCallbacks{Data: c.processAudio(bytesPerFrame)},
	); err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	return nil
}

// Play decodes segment and queues it on the device. onDone is called exactly
// once: with nil when the last sample was consumed, or with
// audio.ErrPlaybackStopped when Stop cut it short.
func (c *playbackClient) Play(segment audio.Segment, onDone func(error)) error {
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if !c.device.IsStarted() {
		return fmt.Errorf("device not started")
	}

	decoded, err := decodeSegment(segment)
	if err != nil {
		return err
	}
	samples := toBytes(resample(decoded, playbackSampleRate))

	c.audioMu.Lock()
	defer c.audioMu.Unlock()
	c.pending = append(c.pending, samples...)
	c.marks = append(c.marks, playbackMark{
		segmentID: segment.ID,
		position:  len(c.pending),
		onDone:    onDone,
	})
	return nil
}

// Stop drops all queued audio and reports every unfinished segment as
// stopped.
func (c *playbackClient) Stop() {
	c.audioMu.Lock()
	stopped := c.marks
	c.pending = nil
	c.marks = nil
	c.audioMu.Unlock()

	for _, mark := range stopped {
		if mark.onDone != nil {
			go mark.onDone(audio.ErrPlaybackStopped)
		}
	}
}

func (c *playbackClient) SetVolume(volume float64) {
	c.volume.Store(math.Float64bits(utils.Clamp(volume, 0, 1)))
}

func (c *playbackClient) Volume() float64 {
	return math.Float64frombits(c.volume.Load())
}

func (c *playbackClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}

	c.device.Uninit()
	c.device = nil

	return nil
}

func (c *playbackClient) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		c.audioMu.Lock()
		n := copy(pOutput[:need], c.pending)
		c.pending = c.pending[n:]
		finished := c.advanceMarks(n)
		c.audioMu.Unlock()

		applyVolume(pOutput[:n], c.Volume())
		clear(pOutput[n:need])

		if len(finished) > 0 {
			go func() {
				for _, mark := range finished {
					if mark.onDone != nil {
						mark.onDone(nil)
					}
				}
			}()
		}
	}
}

// advanceMarks shifts mark positions by consumed bytes and returns the marks
// that were passed. Callers hold audioMu.
func (c *playbackClient) advanceMarks(consumed int) []playbackMark {
	passed := 0
	for i := range c.marks {
		c.marks[i].position -= consumed
		if c.marks[i].position <= 0 {
			passed++
		}
	}
	if passed == 0 {
		return nil
	}

	finished := append([]playbackMark(nil), c.marks[:passed]...)
	c.marks = c.marks[passed:]
	return finished
}
