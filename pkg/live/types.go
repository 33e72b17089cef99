package live

import (
	"context"
	"time"
)

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// State is the lifecycle state of a Session.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateError        State = "ERROR"
)

type LogSource string

const (
	SourceSystem    LogSource = "system"
	SourceUser      LogSource = "user"
	SourceAssistant LogSource = "assistant"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEvent is a one-way notification for the log panel. The session does not retain it.
type LogEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    LogSource `json:"source"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
}

// Callbacks is the status surface consumed by the UI. Any field may be nil.
// Callbacks fire from session goroutines and from device threads, so
// implementations must be quick and safe for concurrent use.
type Callbacks struct {
	OnStatusChange func(State)
	// OnAudioLevel receives loudness in [0,1] for both microphone and assistant audio.
	OnAudioLevel func(float64)
	OnLog        func(LogEvent)
	// OnError receives the categorized user-facing message.
	OnError func(string)
}

func (c Callbacks) status(s State) {
	if c.OnStatusChange != nil {
		c.OnStatusChange(s)
	}
}

func (c Callbacks) level(v float64) {
	if c.OnAudioLevel != nil {
		c.OnAudioLevel(v)
	}
}

func (c Callbacks) log(ev LogEvent) {
	if c.OnLog != nil {
		c.OnLog(ev)
	}
}

func (c Callbacks) err(msg string) {
	if c.OnError != nil {
		c.OnError(msg)
	}
}

// ToolHandler executes a named capability for the remote service.
type ToolHandler func(ctx context.Context, name string, args map[string]any) (any, error)

// CaptureDevice is a microphone producing mono float frames.
type CaptureDevice interface {
	// Open acquires the device. Failing here aborts a connection attempt.
	Open(ctx context.Context) error
	// Start begins delivering frames of the configured size to onFrame.
	// Frames arrive on the device's own thread.
	Start(onFrame func(frame []float32)) error
	// Stop disconnects the frame callback. Safe to call repeatedly.
	Stop() error
	// Close releases the device.
	Close() error
}

// Source is a scheduled or sounding playback buffer.
type Source interface {
	Stop()
}

// OutputDevice is a playback sink with its own monotonic clock.
type OutputDevice interface {
	Open(ctx context.Context) error
	// Now is the current output clock time.
	Now() time.Duration
	// Schedule plays samples (interleaved, at sampleRate) starting at the
	// given clock time. onEnded fires once on natural completion, never for
	// stopped sources, and never synchronously from Schedule.
	Schedule(samples []float32, sampleRate, channels int, at time.Duration, onEnded func()) (Source, error)
	Close() error
}

type Voice string

const (
	VoicePuck   Voice = "Puck"
	VoiceCharon Voice = "Charon"
	VoiceKore   Voice = "Kore"
	VoiceFenrir Voice = "Fenrir"
	VoiceAoede  Voice = "Aoede"
)

type Config struct {
	Model        string
	Voice        Voice
	SystemPrompt string
	Tools        []FunctionDeclaration

	CaptureSampleRate int
	// FrameSize is the number of samples per captured frame.
	FrameSize int
	// NoiseFloor is the RMS below which microphone levels are not reported.
	NoiseFloor  float64
	CaptureGain float64

	OutputSampleRate int
	OutputChannels   int
	PlaybackGain     float64

	// OutboundQueue bounds frames waiting for the writer; audio beyond it is dropped.
	OutboundQueue int
}

func DefaultConfig() Config {
	return Config{
		Model:             "models/gemini-2.0-flash-exp",
		Voice:             VoicePuck,
		SystemPrompt:      "You are a helpful and concise voice assistant. Use short sentences suitable for speech.",
		CaptureSampleRate: 16000,
		FrameSize:         4096,
		NoiseFloor:        0.01,
		CaptureGain:       5,
		OutputSampleRate:  24000,
		OutputChannels:    1,
		PlaybackGain:      5,
		OutboundQueue:     64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Voice == "" {
		c.Voice = d.Voice
	}
	if c.CaptureSampleRate <= 0 {
		c.CaptureSampleRate = d.CaptureSampleRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = d.FrameSize
	}
	if c.NoiseFloor <= 0 {
		c.NoiseFloor = d.NoiseFloor
	}
	if c.CaptureGain <= 0 {
		c.CaptureGain = d.CaptureGain
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = d.OutputSampleRate
	}
	if c.OutputChannels <= 0 {
		c.OutputChannels = d.OutputChannels
	}
	if c.PlaybackGain <= 0 {
		c.PlaybackGain = d.PlaybackGain
	}
	if c.OutboundQueue <= 0 {
		c.OutboundQueue = d.OutboundQueue
	}
	return c
}
