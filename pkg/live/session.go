package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-live/pkg/audio"
)

// Dialer opens the duplex channel and completes the setup handshake.
type Dialer interface {
	Dial(ctx context.Context, setup Setup) (Conn, error)
}

// Conn is an open duplex channel. Send may be called concurrently with
// Receive; Receive is only called from one goroutine.
type Conn interface {
	Send(ctx context.Context, msg ClientMessage) error
	// Receive returns an error matching ErrSessionClosed when the channel
	// closes and ErrMalformedMessage for an undecodable frame. Any other error
	// ends the channel.
	Receive(ctx context.Context) (*ServerMessage, error)
	Close() error
}

type Options struct {
	Config    Config
	Dialer    Dialer
	Capture   CaptureDevice
	Output    OutputDevice
	Handler   ToolHandler
	Callbacks Callbacks
	Logger    Logger
}

type eventKind int

const (
	eventMessage eventKind = iota
	eventTransportError
	eventClosed
)

type event struct {
	kind eventKind
	msg  *ServerMessage
	err  error
}

// link holds everything owned by one open channel.
type link struct {
	conn       Conn
	capture    *Capture
	playback   *Playback
	dispatcher *Dispatcher

	ctx      context.Context
	cancel   context.CancelFunc
	events   chan event
	outbound chan ClientMessage
	done     chan struct{}

	releaseOnce sync.Once
}

// Session is the duplex audio session with the remote assistant.
// Inbound messages are handled by a single loop goroutine in arrival order.
type Session struct {
	cfg        Config
	dialer     Dialer
	captureDev CaptureDevice
	outputDev  OutputDevice
	handler    ToolHandler
	cb         Callbacks
	logger     Logger

	muted atomic.Bool

	// opMu serializes Connect and Disconnect.
	opMu sync.Mutex

	mu            sync.Mutex
	state         State
	link          *link
	connectCancel context.CancelFunc
}

func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Session{
		cfg:        opts.Config.withDefaults(),
		dialer:     opts.Dialer,
		captureDev: opts.Capture,
		outputDev:  opts.Output,
		handler:    opts.Handler,
		cb:         opts.Callbacks,
		logger:     logger,
		state:      StateDisconnected,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetMuted drops microphone frames locally while set. It takes effect on
// the next frame and survives reconnects.
func (s *Session) SetMuted(muted bool) {
	if s.muted.Swap(muted) == muted {
		return
	}
	if muted {
		s.emitLog(SourceSystem, SeverityInfo, "Microphone muted")
	} else {
		s.emitLog(SourceSystem, SeverityInfo, "Microphone unmuted")
	}
}

func (s *Session) Muted() bool {
	return s.muted.Load()
}

// Connect acquires the devices, opens the channel and starts capture.
// On failure the session is left in StateError with no devices held.
func (s *Session) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	s.connectCancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.connectCancel = nil
		s.mu.Unlock()
		cancel()
	}()

	s.setState(StateConnecting)
	s.emitLog(SourceSystem, SeverityInfo, "Connecting to assistant...")

	if s.dialer == nil || s.captureDev == nil || s.outputDev == nil {
		return s.fail(ErrNilDevice)
	}

	if err := s.captureDev.Open(ctx); err != nil {
		return s.fail(wrapDeviceErr("open capture device", err))
	}

	if err := s.outputDev.Open(ctx); err != nil {
		s.closeCapture()
		return s.fail(wrapDeviceErr("open output device", err))
	}

	conn, err := s.dialer.Dial(ctx, NewSetup(s.cfg))
	if err != nil {
		s.closeCapture()
		s.closeOutput()
		return s.fail(err)
	}

	l := s.newLink(conn)

	s.setState(StateConnected)
	if err := l.capture.Start(s.captureDev); err != nil {
		s.release(l)
		return s.fail(wrapDeviceErr("start capture", err))
	}

	s.mu.Lock()
	s.link = l
	s.mu.Unlock()

	go s.read(l)
	go s.write(l)
	go s.loop(l)

	s.emitLog(SourceSystem, SeveritySuccess, "Connected. Start talking.")
	s.logger.Info("session connected", "model", s.cfg.Model, "voice", s.cfg.Voice)

	ConnectAttempts.WithLabelValues("connected").Inc()
	return nil
}

// Disconnect tears the session down. It is safe in any state and always
// leaves the session in StateDisconnected. It must not be called from a
// Callbacks function.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.connectCancel != nil {
		s.connectCancel()
	}
	s.mu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	l := s.link
	s.link = nil
	s.mu.Unlock()

	if l != nil {
		s.release(l)
		<-l.done
		s.emitLog(SourceSystem, SeverityInfo, "Disconnected")
		s.logger.Info("session disconnected")
	}
	s.setState(StateDisconnected)
}

func (s *Session) newLink(conn Conn) *link {
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan event, 16),
		outbound: make(chan ClientMessage, s.cfg.OutboundQueue),
		done:     make(chan struct{}),
	}
	l.playback = NewPlayback(s.outputDev, s.cfg.PlaybackGain, s.cb.level, s.logger)
	l.capture = NewCapture(s.cfg, &s.muted, func(b Blob) { s.offerAudio(l, b) }, s.cb.level)
	l.dispatcher = NewDispatcher(s.handler, func(ctx context.Context, resp FunctionResponse) error {
		return s.sendToolResponse(l, resp)
	}, s.emitLog, s.logger)
	return l
}

// release stops the pipelines, frees the devices and closes the channel.
// It does not wait for the loop goroutine.
func (s *Session) release(l *link) {
	l.releaseOnce.Do(func() {
		l.capture.Stop()
		l.playback.Stop()
		s.closeCapture()
		l.cancel()
		if err := l.conn.Close(); err != nil {
			s.logger.Debug("close channel", "error", err)
		}
	})
}

func (s *Session) closeCapture() {
	if err := s.captureDev.Close(); err != nil {
		s.logger.Warn("failed to close capture device", "error", err)
	}
}

func (s *Session) closeOutput() {
	if err := s.outputDev.Close(); err != nil {
		s.logger.Warn("failed to close output device", "error", err)
	}
}

func (s *Session) fail(err error) error {
	kind := Classify(err)
	msg := UserMessage(kind, err)

	ConnectAttempts.WithLabelValues(kind.String()).Inc()
	s.logger.Error("connect failed", "kind", kind.String(), "error", err)

	s.setState(StateError)
	s.cb.err(msg)
	s.emitLog(SourceSystem, SeverityError, msg)
	return fmt.Errorf("connect: %w", err)
}

func (s *Session) read(l *link) {
	for {
		msg, err := l.conn.Receive(l.ctx)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrMalformedMessage) {
				s.logger.Warn("skipping inbound frame", "error", err)
				continue
			}
			if !errors.Is(err, ErrSessionClosed) {
				l.push(event{kind: eventTransportError, err: err})
			}
			l.push(event{kind: eventClosed, err: err})
			return
		}
		l.push(event{kind: eventMessage, msg: msg})
	}
}

func (l *link) push(ev event) {
	select {
	case l.events <- ev:
	case <-l.ctx.Done():
	}
}

func (s *Session) write(l *link) {
	for {
		select {
		case <-l.ctx.Done():
			return
		case msg := <-l.outbound:
			if err := l.conn.Send(l.ctx, msg); err != nil {
				if msg.RealtimeInput != nil {
					FramesDropped.Inc()
				}
				s.logger.Debug("send failed", "error", err)
			}
		}
	}
}

func (s *Session) loop(l *link) {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			return
		case ev := <-l.events:
			switch ev.kind {
			case eventMessage:
				s.handleMessage(l, ev.msg)
			case eventTransportError:
				s.onTransportError(ev.err)
			case eventClosed:
				s.onClosed(l, ev.err)
				return
			}
		}
	}
}

func (s *Session) handleMessage(l *link, msg *ServerMessage) {
	if msg == nil {
		return
	}

	if msg.ToolCall != nil {
		for _, call := range msg.ToolCall.FunctionCalls {
			s.emitLog(SourceAssistant, SeverityInfo, fmt.Sprintf("Calling tool %s", call.Name))
			l.dispatcher.Dispatch(l.ctx, call)
		}
	}

	if c := msg.ToolCallCancellation; c != nil && len(c.IDs) > 0 {
		s.logger.Info("server cancelled tool calls", "ids", c.IDs)
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				s.playPart(l, part)
			}
		}
		if sc.Interrupted {
			n := l.playback.Interrupt()
			Interruptions.Inc()
			s.logger.Info("playback interrupted", "stopped", n)
			s.emitLog(SourceUser, SeverityWarning, "Interrupted. Listening...")
		}
		if sc.TurnComplete {
			s.logger.Debug("turn complete")
		}
	}

	if msg.GoAway != nil {
		s.emitLog(SourceSystem, SeverityWarning, "The assistant service will close this session soon")
	}
}

func (s *Session) playPart(l *link, part Part) {
	if part.Text != "" {
		s.logger.Debug("assistant text", "text", part.Text)
	}
	blob := part.InlineData
	if blob == nil || blob.Data == "" {
		return
	}
	if blob.MimeType != "" && !audio.IsPCM(blob.MimeType) {
		s.logger.Debug("ignoring inline data", "mimeType", blob.MimeType)
		return
	}
	pcm, err := audio.Decode(blob.Data)
	if err != nil {
		s.logger.Warn("bad audio chunk", "error", err)
		return
	}
	rate := audio.ParseRate(blob.MimeType, s.cfg.OutputSampleRate)
	if _, err := l.playback.Enqueue(pcm, rate, s.cfg.OutputChannels); err != nil {
		s.logger.Warn("failed to schedule audio chunk", "error", err)
	}
}

func (s *Session) onTransportError(err error) {
	s.logger.Error("transport error", "error", err)
	s.cb.err("Communication with the assistant was interrupted.")
	s.emitLog(SourceSystem, SeverityError, "Communication interrupted")
}

func (s *Session) onClosed(l *link, err error) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	s.link = nil
	s.mu.Unlock()

	s.release(l)

	msg := "Session closed"
	var ce *CloseError
	if errors.As(err, &ce) && strings.TrimSpace(ce.Reason) != "" {
		msg = "Session closed: " + ce.Reason
	}
	s.logger.Info("session closed", "error", err)
	s.emitLog(SourceSystem, SeverityInfo, msg)
	s.setState(StateDisconnected)
}

// offerAudio queues a microphone frame without blocking the device thread.
func (s *Session) offerAudio(l *link, b Blob) {
	if l.ctx.Err() != nil {
		return
	}
	select {
	case l.outbound <- ClientMessage{RealtimeInput: &RealtimeInput{MediaChunks: []Blob{b}}}:
		FramesSent.Inc()
	default:
		FramesDropped.Inc()
	}
}

func (s *Session) sendToolResponse(l *link, resp FunctionResponse) error {
	msg := ClientMessage{ToolResponse: &ToolResponse{FunctionResponses: []FunctionResponse{resp}}}
	select {
	case l.outbound <- msg:
		return nil
	case <-l.ctx.Done():
		return ErrSessionClosed
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()

	recordState(st)
	s.cb.status(st)
}

func (s *Session) emitLog(source LogSource, severity Severity, msg string) {
	s.cb.log(LogEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Source:    source,
		Message:   msg,
		Severity:  severity,
	})
}

func wrapDeviceErr(op string, err error) error {
	if errors.Is(err, ErrDeviceDenied) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrDeviceDenied, err)
}
