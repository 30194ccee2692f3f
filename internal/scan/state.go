package scan

import (
	"errors"
	"fmt"
)

// State is the phase of the acquisition pipeline.
type State int

// States.
const (
	StateIdle State = iota
	StateInitializing
	StateActive
	StateStabilizing
	StateResolving
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateStabilizing:
		return "stabilizing"
	case StateResolving:
		return "resolving"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sentinel errors.
var (
	// ErrPermissionDenied is returned by a Camera when the user refused access.
	ErrPermissionDenied = errors.New("scan: camera permission denied")
	// ErrCameraUnavailable is returned by a Camera when no capture device exists.
	ErrCameraUnavailable = errors.New("scan: camera unavailable")
	// ErrStreamEnded is returned by a Stream that has no more frames.
	ErrStreamEnded = errors.New("scan: frame stream ended")
	// ErrNoCode is returned by a Decoder when a frame holds no readable barcode.
	ErrNoCode = errors.New("scan: no barcode in frame")
	// ErrInvalidCode is returned by Submit for input that fails checksum validation.
	ErrInvalidCode = errors.New("scan: invalid barcode")
	// ErrLookupInFlight is returned by Submit while another lookup is running.
	ErrLookupInFlight = errors.New("scan: lookup already in flight")
)

// Failure is the cause reported when a session enters StateError.
type Failure struct {
	SessionID string
	State     State // State the session was in when it failed
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("scan session %s failed while %s: %v", f.SessionID, f.State, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Fatal reports whether err ends a session without retry: permission and capability errors.
func Fatal(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrCameraUnavailable)
}
