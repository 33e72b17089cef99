package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type MockSource struct {
	mu      sync.Mutex
	id      int
	at      time.Duration
	dur     time.Duration
	onEnded func()
	stopped bool
}

func (s *MockSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *MockSource) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Finish simulates natural completion.
func (s *MockSource) Finish() {
	s.onEnded()
}

type MockOutputDevice struct {
	mu        sync.Mutex
	now       time.Duration
	openErr   error
	opened    bool
	closed    int
	scheduled []*MockSource
}

func (d *MockOutputDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.opened = true
	return nil
}

func (d *MockOutputDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

func (d *MockOutputDevice) SetNow(now time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

func (d *MockOutputDevice) Schedule(samples []float32, sampleRate, channels int, at time.Duration, onEnded func()) (Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	frames := len(samples) / channels
	src := &MockSource{
		id:      len(d.scheduled),
		at:      at,
		dur:     time.Duration(int64(frames) * int64(time.Second) / int64(sampleRate)),
		onEnded: onEnded,
	}
	d.scheduled = append(d.scheduled, src)
	return src, nil
}

func (d *MockOutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
	d.closed++
	return nil
}

func (d *MockOutputDevice) Scheduled() []*MockSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MockSource, len(d.scheduled))
	copy(out, d.scheduled)
	return out
}

func (d *MockOutputDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

type MockCaptureDevice struct {
	mu      sync.Mutex
	openErr error
	opened  bool
	closed  int
	onFrame func([]float32)
}

func (d *MockCaptureDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.opened = true
	return nil
}

func (d *MockCaptureDevice) Start(onFrame func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFrame = onFrame
	return nil
}

func (d *MockCaptureDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFrame = nil
	return nil
}

func (d *MockCaptureDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
	d.closed++
	return nil
}

// Push delivers a frame as the device thread would. It reports whether a
// callback was attached.
func (d *MockCaptureDevice) Push(frame []float32) bool {
	d.mu.Lock()
	fn := d.onFrame
	d.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(frame)
	return true
}

func (d *MockCaptureDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// malformedFrame makes MockConn.Receive report an undecodable frame.
var malformedFrame = &ServerMessage{}

type MockConn struct {
	inbound chan *ServerMessage
	sent    chan ClientMessage
	closed  chan struct{}
	once    sync.Once
	recvErr error
}

func NewMockConn() *MockConn {
	return &MockConn{
		inbound: make(chan *ServerMessage, 16),
		sent:    make(chan ClientMessage, 256),
		closed:  make(chan struct{}),
	}
}

func (c *MockConn) Send(ctx context.Context, msg ClientMessage) error {
	select {
	case <-c.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case c.sent <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *MockConn) Receive(ctx context.Context) (*ServerMessage, error) {
	select {
	case msg, ok := <-c.inbound:
		if !ok {
			if c.recvErr != nil {
				return nil, c.recvErr
			}
			return nil, &CloseError{Code: 1000, Reason: "done"}
		}
		if msg == malformedFrame {
			return nil, fmt.Errorf("%w: invalid character 'n'", ErrMalformedMessage)
		}
		return msg, nil
	case <-c.closed:
		return nil, &CloseError{Code: 1000}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *MockConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return errors.New("close frame already sent")
}

func (c *MockConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type MockDialer struct {
	mu    sync.Mutex
	conn  *MockConn
	err   error
	calls int
	setup Setup
}

func (d *MockDialer) Dial(ctx context.Context, setup Setup) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.setup = setup
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func (d *MockDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// recorder collects callback output.
type recorder struct {
	mu     sync.Mutex
	states []State
	levels []float64
	logs   []LogEvent
	errors []string
}

func newRecorder() *recorder {
	return &recorder{}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStatusChange: func(s State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s)
		},
		OnAudioLevel: func(v float64) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.levels = append(r.levels, v)
		},
		OnLog: func(ev LogEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.logs = append(r.logs, ev)
		},
		OnError: func(msg string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, msg)
		},
	}
}

func (r *recorder) Levels() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.levels...)
}

func (r *recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

func (r *recorder) Logs() []LogEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEvent(nil), r.logs...)
}

func (r *recorder) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}
