package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/lokutor-ai/lokutor-live/pkg/audio"
	"github.com/lokutor-ai/lokutor-live/pkg/live"
)

// Context owns the miniaudio context shared by the capture and output devices.
type Context struct {
	mctx *malgo.AllocatedContext
}

func NewContext() (*Context, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Context{mctx: mctx}, nil
}

func (c *Context) Close() error {
	if c.mctx == nil {
		return nil
	}
	err := c.mctx.Uninit()
	c.mctx.Free()
	c.mctx = nil
	return err
}

// Microphone captures mono float32 frames of a fixed size.
type Microphone struct {
	ctx        *Context
	sampleRate int
	frameSize  int

	mu      sync.Mutex
	dev     *malgo.Device
	onFrame func([]float32)
	pending []float32
}

var _ live.CaptureDevice = (*Microphone)(nil)

func (c *Context) NewMicrophone(sampleRate, frameSize int) *Microphone {
	return &Microphone{ctx: c, sampleRate: sampleRate, frameSize: frameSize}
}

// Open acquires and starts the capture device. Frames are discarded until Start.
func (m *Microphone) Open(ctx context.Context) error {
	m.mu.Lock()
	opened := m.dev != nil
	m.mu.Unlock()
	if opened {
		return nil
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.sampleRate)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(m.ctx.mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: m.onData,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", live.ErrDeviceDenied, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("%w: %v", live.ErrDeviceDenied, err)
	}

	m.mu.Lock()
	m.dev = dev
	m.mu.Unlock()
	return nil
}

func (m *Microphone) Start(onFrame func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev == nil {
		return live.ErrNilDevice
	}
	m.onFrame = onFrame
	m.pending = m.pending[:0]
	return nil
}

func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = nil
	m.pending = m.pending[:0]
	return nil
}

func (m *Microphone) Close() error {
	m.mu.Lock()
	dev := m.dev
	m.dev = nil
	m.onFrame = nil
	m.mu.Unlock()

	if dev == nil {
		return nil
	}
	err := dev.Stop()
	dev.Uninit()
	return err
}

// onData runs on the audio thread and slices input into whole frames.
func (m *Microphone) onData(_, pInput []byte, _ uint32) {
	samples := audio.BytesToFloat32(pInput)

	var frames [][]float32
	m.mu.Lock()
	onFrame := m.onFrame
	if onFrame != nil {
		m.pending = append(m.pending, samples...)
		for len(m.pending) >= m.frameSize {
			frame := make([]float32, m.frameSize)
			copy(frame, m.pending[:m.frameSize])
			frames = append(frames, frame)
			m.pending = append(m.pending[:0], m.pending[m.frameSize:]...)
		}
	}
	m.mu.Unlock()

	for _, frame := range frames {
		onFrame(frame)
	}
}

// Speaker plays scheduled buffers through a Timeline.
type Speaker struct {
	ctx        *Context
	sampleRate int

	mu       sync.Mutex
	dev      *malgo.Device
	timeline *Timeline
	scratch  []float32
}

var _ live.OutputDevice = (*Speaker)(nil)

func (c *Context) NewSpeaker(sampleRate int) *Speaker {
	return &Speaker{ctx: c, sampleRate: sampleRate, timeline: NewTimeline(sampleRate)}
}

// Open starts the output device on a fresh clock.
func (s *Speaker) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.dev != nil {
		s.mu.Unlock()
		return nil
	}
	s.timeline = NewTimeline(s.sampleRate)
	s.mu.Unlock()

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(s.sampleRate)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(s.ctx.mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", live.ErrDeviceDenied, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("%w: %v", live.ErrDeviceDenied, err)
	}

	s.mu.Lock()
	s.dev = dev
	s.mu.Unlock()
	return nil
}

func (s *Speaker) Now() time.Duration {
	return s.currentTimeline().Now()
}

func (s *Speaker) Schedule(samples []float32, sampleRate, channels int, at time.Duration, onEnded func()) (live.Source, error) {
	return s.currentTimeline().Schedule(samples, sampleRate, channels, at, onEnded)
}

func (s *Speaker) currentTimeline() *Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline
}

func (s *Speaker) Close() error {
	s.mu.Lock()
	dev := s.dev
	s.dev = nil
	tl := s.timeline
	s.mu.Unlock()

	tl.Reset()
	if dev == nil {
		return nil
	}
	err := dev.Stop()
	dev.Uninit()
	return err
}

func (s *Speaker) onData(pOutput, _ []byte, frameCount uint32) {
	s.mu.Lock()
	tl := s.timeline
	if cap(s.scratch) < int(frameCount) {
		s.scratch = make([]float32, frameCount)
	}
	buf := s.scratch[:frameCount]
	s.mu.Unlock()

	tl.Render(buf)
	audio.PutFloat32(pOutput, buf)
}
