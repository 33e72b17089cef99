package device

import (
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-live/pkg/audio"
	"github.com/lokutor-ai/lokutor-live/pkg/live"
)

// Timeline mixes scheduled buffers onto a mono output stream and keeps the
// output clock. The clock advances only as frames are rendered.
type Timeline struct {
	rate int

	mu       sync.Mutex
	rendered int64
	voices   []*voice
}

type voice struct {
	t       *Timeline
	start   int64
	samples []float32
	pos     int
	onEnded func()
	stopped bool
}

func NewTimeline(sampleRate int) *Timeline {
	return &Timeline{rate: sampleRate}
}

// Now returns the playback clock.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return audio.FramesDuration(int(t.rendered), t.rate)
}

// Schedule adds samples to start at clock time at. Times in the past play
// immediately.
func (t *Timeline) Schedule(samples []float32, sampleRate, channels int, at time.Duration, onEnded func()) (live.Source, error) {
	mono := audio.Resample(audio.Downmix(samples, channels), sampleRate, t.rate)

	t.mu.Lock()
	defer t.mu.Unlock()
	// Round to the nearest frame: cursors built from truncated durations sit
	// just below the frame boundary they mean.
	start := (int64(at)*int64(t.rate) + int64(time.Second)/2) / int64(time.Second)
	if start < t.rendered {
		start = t.rendered
	}
	v := &voice{t: t, start: start, samples: mono, onEnded: onEnded}
	t.voices = append(t.voices, v)
	return v, nil
}

// Stop removes the voice without firing its completion callback.
func (v *voice) Stop() {
	v.t.mu.Lock()
	defer v.t.mu.Unlock()
	if v.stopped {
		return
	}
	v.stopped = true
	v.t.removeLocked(v)
}

func (t *Timeline) removeLocked(v *voice) {
	for i, other := range t.voices {
		if other == v {
			t.voices = append(t.voices[:i], t.voices[i+1:]...)
			return
		}
	}
}

// Render fills out with the next len(out) frames and advances the clock.
// Completion callbacks run after the lock is released.
func (t *Timeline) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	var ended []func()

	t.mu.Lock()
	from := t.rendered
	to := from + int64(len(out))
	kept := t.voices[:0]
	for _, v := range t.voices {
		if v.start < to {
			offset := int(v.start - from)
			if offset < 0 {
				offset = 0
			}
			for i := offset; i < len(out) && v.pos < len(v.samples); i++ {
				out[i] += v.samples[v.pos]
				v.pos++
			}
		}
		if v.pos >= len(v.samples) && v.start < to {
			v.stopped = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(t.voices); i++ {
		t.voices[i] = nil
	}
	t.voices = kept
	t.rendered = to
	t.mu.Unlock()

	for i := range out {
		if out[i] > 1 {
			out[i] = 1
		} else if out[i] < -1 {
			out[i] = -1
		}
	}
	for _, fn := range ended {
		fn()
	}
}

// Reset drops every voice without callbacks.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, v := range t.voices {
		v.stopped = true
	}
	t.voices = nil
}

// Pending returns the number of voices not yet finished.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}
