package live

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrDeviceDenied is returned when the capture or output device cannot be acquired
	ErrDeviceDenied = errors.New("audio device access denied")

	// ErrUnauthorized is returned when the remote service rejects the credentials
	ErrUnauthorized = errors.New("remote service rejected credentials")

	// ErrOverloaded is returned when the remote service is out of capacity or quota
	ErrOverloaded = errors.New("remote service overloaded")

	// ErrUnreachable is returned when the remote service cannot be reached
	ErrUnreachable = errors.New("remote service unreachable")

	// ErrSessionClosed marks the end of the duplex channel
	ErrSessionClosed = errors.New("session closed")

	// ErrMalformedMessage is returned by Conn.Receive for a frame that could not
	// be decoded. The channel stays usable.
	ErrMalformedMessage = errors.New("malformed server message")

	ErrAlreadyConnected = errors.New("session already connected")

	// ErrPlaybackStopped is returned by Enqueue after Stop
	ErrPlaybackStopped = errors.New("playback stopped")

	// ErrNilDevice is returned when a required device or dialer is nil
	ErrNilDevice = errors.New("required device is nil")
)

// CloseError describes a channel close initiated by the remote or the transport.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("session closed (code %d)", e.Code)
	}
	return fmt.Sprintf("session closed (code %d): %s", e.Code, e.Reason)
}

func (e *CloseError) Is(target error) bool {
	return target == ErrSessionClosed
}

// FailureKind categorizes setup and transport failures for the user.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailurePermission
	FailureOverload
	FailureUnreachable
)

func (k FailureKind) String() string {
	switch k {
	case FailurePermission:
		return "permission"
	case FailureOverload:
		return "overload"
	case FailureUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Classify maps an error onto a FailureKind, first by sentinel and then by
// the wording remote services use in close reasons.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}
	switch {
	case errors.Is(err, ErrDeviceDenied), errors.Is(err, ErrUnauthorized):
		return FailurePermission
	case errors.Is(err, ErrOverloaded):
		return FailureOverload
	case errors.Is(err, ErrUnreachable):
		return FailureUnreachable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureUnreachable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "permission", "denied", "api key", "unauthorized", "forbidden", "401", "403"):
		return FailurePermission
	case containsAny(msg, "overload", "quota", "resource_exhausted", "unavailable", "429", "503"):
		return FailureOverload
	case containsAny(msg, "network", "dial", "no such host", "connection refused", "timeout"):
		return FailureUnreachable
	}
	return FailureUnknown
}

// UserMessage renders the human-readable message for a failure.
func UserMessage(kind FailureKind, err error) string {
	switch kind {
	case FailurePermission:
		return "Access denied. Check microphone permissions and the API key."
	case FailureOverload:
		return "The assistant service is overloaded. Please try again shortly."
	case FailureUnreachable:
		return "Unable to reach the assistant service. Check your network connection."
	}
	if err == nil {
		return "Connection failed."
	}
	return "Connection failed: " + err.Error()
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
