// Package scan turns camera frames into a single validated barcode lookup.
//
// A Machine runs at most one session. A session opens the camera, decodes frames with the
// backend chosen when it starts, waits until the same candidate fills enough of the stability
// window, validates it, releases the camera and performs exactly one lookup.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/purescanapp/purescan-server/internal/barcode"
	"github.com/purescanapp/purescan-server/internal/logger"
	"github.com/purescanapp/purescan-server/internal/lookup"
)

// Stability defaults.
const (
	DefaultWindowSize = 6
	DefaultThreshold  = 3
)

// Resolver performs the network lookup for a validated barcode.
type Resolver interface {
	Resolve(ctx context.Context, code string) (*lookup.Result, error)
}

// Config wires a Machine to its collaborators.
type Config struct {
	Camera   Camera
	Native   NativeDetector // Optional; used when Available at session start
	Fallback Decoder        // Software decoder; defaults to ZXingDecoder
	Resolver Resolver

	WindowSize     int  // Reads kept for stability (default 6)
	Threshold      int  // Matching reads required (default 3)
	PreferFallback bool // Skip the native detector

	Logger *slog.Logger

	// Callbacks run on the session goroutine and must not call Start, Stop or Submit.

	// OnStateChange is called after every transition.
	OnStateChange func(sessionID string, from, to State)
	// OnResolved receives the product of a successful lookup.
	OnResolved func(*lookup.Result)
	// OnError receives session failures and lookup failures.
	OnError func(error)
}

// session is one run of the pipeline. It is discarded on stop or acceptance.
type session struct {
	id      string
	cancel  context.CancelFunc
	done    chan struct{}
	backend Backend
}

// Machine is the scan acquisition state machine.
type Machine struct {
	cfg    Config
	logger *slog.Logger

	// lifecycle serializes Start, Stop and Submit.
	lifecycle sync.Mutex

	mu      sync.Mutex
	state   State
	current *session
	lastErr error

	lookupBusy atomic.Bool
}

// NewMachine creates an idle Machine.
func NewMachine(cfg Config) *Machine {
	if cfg.WindowSize < 1 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.Threshold < 1 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Threshold > cfg.WindowSize {
		cfg.Threshold = cfg.WindowSize
	}
	if cfg.Fallback == nil {
		cfg.Fallback = NewZXingDecoder()
	}
	return &Machine{
		cfg:    cfg,
		logger: logger.OrDiscard(cfg.Logger),
		state:  StateIdle,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the cause of the most recent failure, or nil.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// SessionID returns the running session's id, or "" when idle.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.id
}

// Start stops any running session and begins a new one. It returns the new session id.
// The session runs until a lookup completes, a failure occurs, ctx ends or Stop is called.
func (m *Machine) Start(ctx context.Context) string {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.stopCurrent()

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		id:      uuid.NewString(),
		cancel:  cancel,
		done:    make(chan struct{}),
		backend: m.selectBackend(),
	}

	m.mu.Lock()
	m.current = s
	m.lastErr = nil
	m.mu.Unlock()
	m.transition(s, StateInitializing)

	go m.run(sctx, s)
	return s.id
}

// Stop cancels the running session, waits for it to release the camera and returns to Idle.
func (m *Machine) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stopCurrent()
}

// Wait blocks until the running session, if any, has finished.
func (m *Machine) Wait(ctx context.Context) error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit resolves a user-entered code, bypassing camera and decoder. It stops any running
// session first. Input that fails validation is rejected before any lookup.
func (m *Machine) Submit(ctx context.Context, raw string) (*lookup.Result, error) {
	code, ok := barcode.Canonical(raw)
	if !ok {
		return nil, ErrInvalidCode
	}
	if m.lookupBusy.Load() {
		return nil, ErrLookupInFlight
	}

	m.lifecycle.Lock()
	m.stopCurrent()
	sctx, cancel := context.WithCancel(ctx)
	s := &session{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.current = s
	m.lastErr = nil
	m.mu.Unlock()
	m.lifecycle.Unlock()

	defer func() {
		cancel()
		close(s.done)
	}()
	return m.resolve(sctx, s, code)
}

func (m *Machine) stopCurrent() {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return
	}

	if s.cancel != nil {
		s.cancel()
	}
	<-s.done

	m.mu.Lock()
	if m.current == s {
		m.current = nil
	}
	m.mu.Unlock()
	m.transition(nil, StateIdle)
}

// selectBackend picks the decoder once per session.
func (m *Machine) selectBackend() Backend {
	if !m.cfg.PreferFallback && m.cfg.Native != nil && m.cfg.Native.Available() {
		return BackendNative
	}
	return BackendFallback
}

func (m *Machine) decoderFor(b Backend) Decoder {
	if b == BackendNative {
		return m.cfg.Native
	}
	return m.cfg.Fallback
}

// transition moves to state on behalf of s. Transitions from a session that is no longer
// current are ignored; a nil session forces the change.
func (m *Machine) transition(s *session, to State) {
	m.mu.Lock()
	if s != nil && m.current != s {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.state = to
	m.mu.Unlock()

	if from == to {
		return
	}
	id := ""
	if s != nil {
		id = s.id
	}
	m.logger.Debug("scan state changed", "session_id", id, "from", from.String(), "to", to.String())
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(id, from, to)
	}
}

// finish ends s and leaves the machine Idle.
func (m *Machine) finish(s *session) {
	m.transition(s, StateIdle)
	m.mu.Lock()
	if m.current == s {
		m.current = nil
	}
	m.mu.Unlock()
}

// fail moves s through Error to Idle and reports the cause.
func (m *Machine) fail(s *session, err error) {
	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		return
	}
	failure := &Failure{SessionID: s.id, State: m.state, Err: err}
	m.lastErr = failure
	m.mu.Unlock()

	m.logger.Warn("scan session failed", "session_id", s.id, "state", failure.State.String(), "error", err)
	m.transition(s, StateError)
	if m.cfg.OnError != nil {
		m.cfg.OnError(failure)
	}
	m.finish(s)
}

func (m *Machine) run(ctx context.Context, s *session) {
	defer close(s.done)
	log := m.logger.With("session_id", s.id, "backend", string(s.backend))

	// Runs after the camera is released.
	var failure error
	defer func() {
		if failure != nil {
			m.fail(s, failure)
			return
		}
		m.finish(s)
	}()

	stream, err := m.cfg.Camera.Open(ctx, FacingRear)
	if err != nil {
		if ctx.Err() == nil {
			failure = err
		}
		return
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if err := stream.Close(); err != nil {
			log.Warn("failed to release camera", "error", err)
		}
	}
	defer release()

	decoder := m.decoderFor(s.backend)
	win := newWindow(m.cfg.WindowSize)
	m.transition(s, StateActive)
	log.Debug("scan session active")

	for {
		frame, err := stream.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failure = err
			return
		}

		raw, err := decoder.Decode(frame)
		if errors.Is(err, ErrNoCode) {
			continue
		}
		if err != nil {
			failure = err
			return
		}

		m.transition(s, StateStabilizing)
		if win.push(raw) < m.cfg.Threshold {
			continue
		}

		code, ok := barcode.Canonical(raw)
		if !ok {
			log.Debug("stable candidate failed validation", "candidate", raw)
			win.reset()
			m.transition(s, StateActive)
			continue
		}

		log.Info("barcode accepted", "barcode", code)
		release()
		_, _ = m.resolve(ctx, s, code)
		return
	}
}

// resolve performs the single lookup for s and returns the machine to Idle.
func (m *Machine) resolve(ctx context.Context, s *session, code string) (*lookup.Result, error) {
	if !m.lookupBusy.CompareAndSwap(false, true) {
		m.finish(s)
		return nil, ErrLookupInFlight
	}

	m.transition(s, StateResolving)
	result, err := m.cfg.Resolver.Resolve(ctx, code)
	m.lookupBusy.Store(false)

	if err != nil {
		if ctx.Err() != nil {
			m.finish(s)
			return nil, err
		}
		m.mu.Lock()
		if m.current == s {
			m.lastErr = err
		}
		m.mu.Unlock()
		m.logger.Warn("lookup failed", "session_id", s.id, "barcode", code, "error", err)
		m.finish(s)
		if m.cfg.OnError != nil {
			m.cfg.OnError(err)
		}
		return nil, err
	}

	m.logger.Info("lookup resolved", "session_id", s.id, "product_id", result.ProductID, "status", string(result.Status))
	m.finish(s)
	if m.cfg.OnResolved != nil {
		m.cfg.OnResolved(result)
	}
	return result, nil
}
