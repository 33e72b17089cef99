package live

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/lokutor-ai/lokutor-live/pkg/audio"
)

// Playback schedules assistant audio chunks back to back on the output
// device clock and tracks every scheduled source so barge-in can flush them.
type Playback struct {
	dev     OutputDevice
	gain    float64
	onLevel func(float64)
	logger  Logger

	mu      sync.Mutex
	next    time.Duration
	lastID  uint64
	active  *orderedmap.OrderedMap[uint64, Source]
	stopped bool
}

func NewPlayback(dev OutputDevice, gain float64, onLevel func(float64), logger Logger) *Playback {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Playback{
		dev:     dev,
		gain:    gain,
		onLevel: onLevel,
		logger:  logger,
		active:  orderedmap.New[uint64, Source](),
	}
}

// Enqueue decodes a PCM16 chunk and schedules it at
// max(cursor, device now), then advances the cursor by its duration.
// It returns the scheduled start time.
func (p *Playback) Enqueue(chunk []byte, sampleRate, channels int) (time.Duration, error) {
	if channels <= 0 {
		channels = 1
	}
	samples := audio.PCM16ToFloat(chunk)
	frames := len(samples) / channels
	if frames == 0 {
		return 0, nil
	}

	if p.onLevel != nil {
		p.onLevel(audio.Level(audio.RMSPCM16(chunk), p.gain))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return 0, ErrPlaybackStopped
	}

	start := p.next
	if now := p.dev.Now(); now > start {
		start = now
	}

	p.lastID++
	id := p.lastID
	src, err := p.dev.Schedule(samples, sampleRate, channels, start, func() { p.release(id) })
	if err != nil {
		return 0, err
	}

	p.next = start + audio.FramesDuration(frames, sampleRate)
	p.active.Set(id, src)
	ChunksScheduled.Inc()

	p.logger.Debug("chunk scheduled", "id", id, "start", start, "cursor", p.next, "active", p.active.Len())
	return start, nil
}

func (p *Playback) release(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active.Delete(id)
}

// Interrupt stops every scheduled source, empties the set and rewinds the
// cursor so the next chunk starts at the device's current time.
// It returns the number of sources stopped.
func (p *Playback) Interrupt() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked()
}

// Stop flushes all sources and releases the output device. Idempotent.
func (p *Playback) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.flushLocked()
	p.mu.Unlock()

	if err := p.dev.Close(); err != nil {
		p.logger.Warn("failed to close output device", "error", err)
	}
}

func (p *Playback) flushLocked() int {
	n := 0
	for pair := p.active.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.Stop()
		n++
	}
	p.active = orderedmap.New[uint64, Source]()
	p.next = 0
	return n
}

// Active returns the number of scheduled or sounding sources.
func (p *Playback) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active.Len()
}

// Cursor returns the clock time at which the next chunk would start if the
// device clock has not passed it.
func (p *Playback) Cursor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}
