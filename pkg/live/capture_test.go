package live

import (
	"sync/atomic"
	"testing"

	"github.com/lokutor-ai/lokutor-live/pkg/audio"
)

func tone(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestCapture_EncodesFrames(t *testing.T) {
	dev := &MockCaptureDevice{}
	var sent []Blob
	c := NewCapture(DefaultConfig(), nil, func(b Blob) { sent = append(sent, b) }, nil)

	if err := c.Start(dev); err != nil {
		t.Fatal(err)
	}
	dev.Push([]float32{0, 0.5, -1})

	if len(sent) != 1 {
		t.Fatalf("Expected 1 blob, got %d", len(sent))
	}
	if sent[0].MimeType != "audio/pcm;rate=16000" {
		t.Errorf("unexpected mime type %q", sent[0].MimeType)
	}
	pcm, err := audio.Decode(sent[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x00, 0xFF, 0x3F, 0x00, 0x80}
	if string(pcm) != string(want) {
		t.Errorf("Expected %v, got %v", want, pcm)
	}
}

func TestCapture_Muted(t *testing.T) {
	dev := &MockCaptureDevice{}
	muted := new(atomic.Bool)
	sent := 0
	var levels []float64
	c := NewCapture(DefaultConfig(), muted, func(Blob) { sent++ }, func(v float64) { levels = append(levels, v) })
	c.Start(dev)

	muted.Store(true)
	dev.Push(tone(4096, 0.5))
	if sent != 0 || len(levels) != 0 {
		t.Errorf("Expected muted frame to be dropped, got %d sent, %d levels", sent, len(levels))
	}

	muted.Store(false)
	dev.Push(tone(4096, 0.5))
	if sent != 1 {
		t.Errorf("Expected frame after unmute, got %d", sent)
	}
}

func TestCapture_LevelThreshold(t *testing.T) {
	dev := &MockCaptureDevice{}
	var levels []float64
	c := NewCapture(DefaultConfig(), nil, func(Blob) {}, func(v float64) { levels = append(levels, v) })
	c.Start(dev)

	dev.Push(tone(4096, 0.005))
	if len(levels) != 0 {
		t.Errorf("Expected no level below the noise floor, got %v", levels)
	}

	dev.Push(tone(4096, 0.1))
	if len(levels) != 1 {
		t.Fatalf("Expected one level report, got %d", len(levels))
	}
	if levels[0] < 0.49 || levels[0] > 0.51 {
		t.Errorf("Expected level ~0.5, got %f", levels[0])
	}

	dev.Push(tone(4096, 0.9))
	if levels[1] != 1 {
		t.Errorf("Expected level clamped to 1, got %f", levels[1])
	}
}

func TestCapture_StopAndRestart(t *testing.T) {
	dev := &MockCaptureDevice{}
	sent := 0
	c := NewCapture(DefaultConfig(), nil, func(Blob) { sent++ }, nil)

	c.Stop()

	if err := c.Start(nil); err != ErrNilDevice {
		t.Errorf("Expected ErrNilDevice, got %v", err)
	}

	c.Start(dev)
	c.Start(dev)
	dev.Push(tone(16, 0.2))
	if sent != 1 {
		t.Errorf("Expected 1 frame, got %d", sent)
	}

	c.Stop()
	c.Stop()
	if dev.Push(tone(16, 0.2)) {
		t.Error("Expected device callback to be detached")
	}
	if sent != 1 {
		t.Errorf("Expected no frames after stop, got %d", sent)
	}
}

func TestCapture_IgnoresEmptyFrames(t *testing.T) {
	dev := &MockCaptureDevice{}
	sent := 0
	c := NewCapture(DefaultConfig(), nil, func(Blob) { sent++ }, nil)
	c.Start(dev)
	dev.Push(nil)
	if sent != 0 {
		t.Errorf("Expected empty frame to be ignored")
	}
}
