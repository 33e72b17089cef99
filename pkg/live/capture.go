package live

import (
	"sync"
	"sync/atomic"

	"github.com/lokutor-ai/lokutor-live/pkg/audio"
)

// Capture turns microphone frames into encoded realtime-input blobs.
type Capture struct {
	sampleRate int
	noiseFloor float64
	gain       float64
	mimeType   string

	send    func(Blob)
	onLevel func(float64)
	muted   *atomic.Bool

	mu     sync.Mutex
	dev    CaptureDevice
	active atomic.Bool
}

// NewCapture creates a pipeline that hands every unmuted frame to send.
// muted is shared with the owner so toggling needs no round-trip.
func NewCapture(cfg Config, muted *atomic.Bool, send func(Blob), onLevel func(float64)) *Capture {
	cfg = cfg.withDefaults()
	if muted == nil {
		muted = new(atomic.Bool)
	}
	return &Capture{
		sampleRate: cfg.CaptureSampleRate,
		noiseFloor: cfg.NoiseFloor,
		gain:       cfg.CaptureGain,
		mimeType:   audio.MimeType(cfg.CaptureSampleRate),
		send:       send,
		onLevel:    onLevel,
		muted:      muted,
	}
}

// Start begins pulling frames from an already opened device.
func (c *Capture) Start(dev CaptureDevice) error {
	if dev == nil {
		return ErrNilDevice
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev != nil {
		return nil
	}
	c.active.Store(true)
	if err := dev.Start(c.handleFrame); err != nil {
		c.active.Store(false)
		return err
	}
	c.dev = dev
	return nil
}

// Stop disconnects the frame callback. Safe when never started.
func (c *Capture) Stop() {
	c.mu.Lock()
	dev := c.dev
	c.dev = nil
	c.active.Store(false)
	c.mu.Unlock()

	if dev != nil {
		_ = dev.Stop()
	}
}

func (c *Capture) handleFrame(frame []float32) {
	if !c.active.Load() || c.muted.Load() || len(frame) == 0 {
		return
	}

	if rms := audio.RMS(frame); rms > c.noiseFloor && c.onLevel != nil {
		c.onLevel(audio.Level(rms, c.gain))
	}

	if c.send == nil {
		return
	}
	c.send(Blob{
		MimeType: c.mimeType,
		Data:     audio.Encode(audio.FloatToPCM16(frame)),
	})
}
