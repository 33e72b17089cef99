package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/lokutor-live/pkg/live"
)

const bidiPath = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// Dialer opens bidirectional generate-content sessions over a websocket.
type Dialer struct {
	apiKey string
	host   string
	scheme string
	path   string
}

func NewDialer(apiKey string) *Dialer {
	return &Dialer{
		apiKey: apiKey,
		host:   "generativelanguage.googleapis.com",
		scheme: "wss",
		path:   bidiPath,
	}
}

// Dial connects, sends setup and waits for setupComplete.
func (d *Dialer) Dial(ctx context.Context, setup live.Setup) (live.Conn, error) {
	u := url.URL{Scheme: d.scheme, Host: d.host, Path: d.path, RawQuery: "key=" + url.QueryEscape(d.apiKey)}

	conn, resp, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, dialError(resp, err)
	}

	conn.SetReadLimit(10 * 1024 * 1024)

	if err := wsjson.Write(ctx, conn, live.ClientMessage{Setup: &setup}); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "failed to write setup")
		return nil, fmt.Errorf("failed to send setup: %w", classifyRead(err))
	}

	c := &Conn{conn: conn}
	for {
		msg, err := c.Receive(ctx)
		if errors.Is(err, live.ErrMalformedMessage) {
			continue
		}
		if err != nil {
			conn.CloseNow()
			return nil, fmt.Errorf("setup rejected: %w", err)
		}
		if msg.SetupComplete != nil {
			return c, nil
		}
	}
}

// Conn is an open session channel.
type Conn struct {
	conn       *websocket.Conn
	closeOnce  sync.Once
	readFailed atomic.Bool
}

func (c *Conn) Send(ctx context.Context, msg live.ClientMessage) error {
	return wsjson.Write(ctx, c.conn, msg)
}

// Receive reads the next frame. The service sends JSON in both text and
// binary frames. A frame that does not decode yields live.ErrMalformedMessage
// and leaves the channel open.
func (c *Conn) Receive(ctx context.Context) (*live.ServerMessage, error) {
	_, payload, err := c.conn.Read(ctx)
	if err != nil {
		c.readFailed.Store(true)
		return nil, classifyRead(err)
	}
	msg, err := live.DecodeServerMessage(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", live.ErrMalformedMessage, err)
	}
	return msg, nil
}

// Close sends a normal closure and waits for the peer's reply. After a failed
// read the peer is gone or already closing, so the connection is dropped
// without the handshake.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.readFailed.Load() {
			err = c.conn.CloseNow()
			return
		}
		err = c.conn.Close(websocket.StatusNormalClosure, "")
	})
	return err
}

func dialError(resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: status %d", live.ErrUnauthorized, resp.StatusCode)
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return fmt.Errorf("%w: status %d", live.ErrOverloaded, resp.StatusCode)
		}
		return fmt.Errorf("failed to connect (status %d): %w", resp.StatusCode, err)
	}
	return fmt.Errorf("%w: %v", live.ErrUnreachable, err)
}

// classifyRead turns websocket close frames into live.CloseError, tagged
// with the failure category the close code implies.
func classifyRead(err error) error {
	var ce websocket.CloseError
	if !errors.As(err, &ce) {
		return err
	}
	closeErr := &live.CloseError{Code: int(ce.Code), Reason: ce.Reason}

	reason := strings.ToLower(ce.Reason)
	switch {
	case ce.Code == websocket.StatusPolicyViolation:
		return fmt.Errorf("%w: %w", live.ErrUnauthorized, closeErr)
	case ce.Code == websocket.StatusTryAgainLater,
		ce.Code == websocket.StatusInternalError,
		strings.Contains(reason, "overload"),
		strings.Contains(reason, "quota"),
		strings.Contains(reason, "resource_exhausted"):
		return fmt.Errorf("%w: %w", live.ErrOverloaded, closeErr)
	}
	return closeErr
}
