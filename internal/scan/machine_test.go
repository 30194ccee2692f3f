package scan

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purescanapp/purescan-server/internal/domain"
	"github.com/purescanapp/purescan-server/internal/lookup"
)

const (
	ean      = "4006381333931"
	otherEAN = "5901234123457"
	badEAN   = "4006381333932"
)

// codeFrame is a frame whose decoded content is known up front.
type codeFrame struct {
	image.Image
	code string
}

func frame(code string) image.Image {
	return codeFrame{Image: image.NewGray(image.Rect(0, 0, 1, 1)), code: code}
}

func frames(codes ...string) []image.Image {
	out := make([]image.Image, len(codes))
	for i, c := range codes {
		out[i] = frame(c)
	}
	return out
}

type fakeDecoder struct {
	calls atomic.Int32
	err   error
}

func (d *fakeDecoder) Decode(img image.Image) (string, error) {
	d.calls.Add(1)
	if d.err != nil {
		return "", d.err
	}
	f, ok := img.(codeFrame)
	if !ok || f.code == "" {
		return "", ErrNoCode
	}
	return f.code, nil
}

type fakeNative struct {
	fakeDecoder
	available bool
}

func (n *fakeNative) Available() bool { return n.available }

type fakeStream struct {
	mu     sync.Mutex
	frames []image.Image
	pos    int
	hold   bool // block once exhausted instead of ending
	closed atomic.Bool
}

func (s *fakeStream) Next(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	if s.pos < len(s.frames) {
		f := s.frames[s.pos]
		s.pos++
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	if s.hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, ErrStreamEnded
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeCamera struct {
	mu      sync.Mutex
	streams []*fakeStream
	opened  int
	facing  Facing
	err     error
}

func (c *fakeCamera) Open(_ context.Context, facing Facing) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.facing = facing
	if c.err != nil {
		return nil, c.err
	}
	s := c.streams[c.opened]
	c.opened++
	return s, nil
}

type fakeResolver struct {
	mu      sync.Mutex
	codes   []string
	err     error
	gate    chan struct{} // when set, Resolve waits for it
	entered chan string
	onCall  func()
}

func (r *fakeResolver) Resolve(ctx context.Context, code string) (*lookup.Result, error) {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	r.mu.Unlock()

	if r.onCall != nil {
		r.onCall()
	}
	if r.entered != nil {
		r.entered <- code
	}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &lookup.Result{
		Status:    lookup.StatusExisting,
		ProductID: code,
		Product:   domain.NewPlaceholder(code, time.Now()),
	}, nil
}

func (r *fakeResolver) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.codes...)
}

// recorder captures callbacks.
type recorder struct {
	mu       sync.Mutex
	states   []State
	resolved chan *lookup.Result
	errs     chan error
}

func newRecorder() *recorder {
	return &recorder{resolved: make(chan *lookup.Result, 4), errs: make(chan error, 4)}
}

func (r *recorder) wire(cfg Config) Config {
	cfg.OnStateChange = func(_ string, _, to State) {
		r.mu.Lock()
		r.states = append(r.states, to)
		r.mu.Unlock()
	}
	cfg.OnResolved = func(res *lookup.Result) { r.resolved <- res }
	cfg.OnError = func(err error) { r.errs <- err }
	return cfg
}

func (r *recorder) transitions() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) waitResolved(t *testing.T) *lookup.Result {
	t.Helper()
	select {
	case res := <-r.resolved:
		return res
	case err := <-r.errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for resolution")
	}
	return nil
}

func (r *recorder) waitError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errs:
		return err
	case res := <-r.resolved:
		t.Fatalf("unexpected resolution: %s", res.ProductID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error")
	}
	return nil
}

func waitState(t *testing.T, m *Machine, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 5*time.Second, 5*time.Millisecond,
		"state never became %s", want)
}

type fixture struct {
	machine  *Machine
	camera   *fakeCamera
	decoder  *fakeDecoder
	resolver *fakeResolver
	rec      *recorder
}

func newFixture(t *testing.T, streams ...*fakeStream) *fixture {
	t.Helper()
	f := &fixture{
		camera:   &fakeCamera{streams: streams},
		decoder:  &fakeDecoder{},
		resolver: &fakeResolver{},
		rec:      newRecorder(),
	}
	f.machine = NewMachine(f.rec.wire(Config{
		Camera:   f.camera,
		Fallback: f.decoder,
		Resolver: f.resolver,
	}))
	t.Cleanup(f.machine.Stop)
	return f
}

func TestMachine_ResolvesStableCode(t *testing.T) {
	stream := &fakeStream{frames: frames("", ean, otherEAN, ean, ean, ean)}
	f := newFixture(t, stream)

	var releasedFirst atomic.Bool
	f.resolver.onCall = func() { releasedFirst.Store(stream.closed.Load()) }

	id := f.machine.Start(context.Background())
	assert.NotEmpty(t, id)

	res := f.rec.waitResolved(t)
	assert.Equal(t, ean, res.ProductID)
	assert.Equal(t, []string{ean}, f.resolver.calls())
	assert.True(t, releasedFirst.Load(), "camera released before lookup")
	assert.Equal(t, FacingRear, f.camera.facing)
	assert.Equal(t, int32(5), f.decoder.calls.Load(), "no frames read after acceptance")

	waitState(t, f.machine, StateIdle)
	assert.Equal(t, []State{StateInitializing, StateActive, StateStabilizing, StateResolving, StateIdle}, f.rec.transitions())
	assert.Empty(t, f.machine.SessionID())
}

func TestMachine_InvalidStableCandidateDropped(t *testing.T) {
	stream := &fakeStream{frames: frames(badEAN, badEAN, badEAN, ean, ean, ean)}
	f := newFixture(t, stream)

	f.machine.Start(context.Background())

	res := f.rec.waitResolved(t)
	assert.Equal(t, ean, res.ProductID)
	assert.Equal(t, []string{ean}, f.resolver.calls())
	assert.Equal(t, StateStabilizing, f.rec.transitions()[2])
	assert.Equal(t, StateActive, f.rec.transitions()[3], "back to active after a checksum failure")
}

func TestMachine_UnstableCandidatesNeverResolve(t *testing.T) {
	// A full window where no code reaches the threshold.
	stream := &fakeStream{frames: frames(ean, otherEAN, ean, otherEAN, badEAN, badEAN)}
	f := newFixture(t, stream)

	f.machine.Start(context.Background())

	err := f.rec.waitError(t)
	assert.ErrorIs(t, err, ErrStreamEnded)
	waitState(t, f.machine, StateIdle)

	assert.Empty(t, f.resolver.calls())
	assert.NotContains(t, f.rec.transitions(), StateResolving)
	assert.Equal(t, int32(6), f.decoder.calls.Load())
	assert.True(t, stream.closed.Load())
}

func TestMachine_UPCCandidateCanonicalized(t *testing.T) {
	stream := &fakeStream{frames: frames("400638133393", "400638133393", "400638133393")}
	f := newFixture(t, stream)

	f.machine.Start(context.Background())

	res := f.rec.waitResolved(t)
	assert.Equal(t, ean, res.ProductID)
}

func TestMachine_CameraFailuresAreFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"permission denied", fmt.Errorf("open camera: %w", ErrPermissionDenied)},
		{"no camera", ErrCameraUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.camera.err = tt.err

			f.machine.Start(context.Background())

			err := f.rec.waitError(t)
			var failure *Failure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, StateInitializing, failure.State)
			assert.ErrorIs(t, err, tt.err)
			assert.True(t, Fatal(err))

			waitState(t, f.machine, StateIdle)
			assert.Equal(t, []State{StateInitializing, StateError, StateIdle}, f.rec.transitions())
			assert.Empty(t, f.resolver.calls())
			assert.ErrorIs(t, f.machine.Err(), tt.err)
		})
	}
}

func TestMachine_StreamEndReleasesCamera(t *testing.T) {
	stream := &fakeStream{frames: frames("", "")}
	f := newFixture(t, stream)

	f.machine.Start(context.Background())

	err := f.rec.waitError(t)
	assert.ErrorIs(t, err, ErrStreamEnded)
	assert.False(t, Fatal(err))
	assert.True(t, stream.closed.Load())
	waitState(t, f.machine, StateIdle)
}

func TestMachine_DecoderFailure(t *testing.T) {
	stream := &fakeStream{frames: frames(ean)}
	f := newFixture(t, stream)
	f.decoder.err = errors.New("backend crashed")

	f.machine.Start(context.Background())

	err := f.rec.waitError(t)
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StateActive, failure.State)
	assert.True(t, stream.closed.Load())
	assert.Empty(t, f.resolver.calls())
}

func TestMachine_LookupFailureNoRetry(t *testing.T) {
	stream := &fakeStream{frames: frames(ean, ean, ean, ean, ean, ean)}
	f := newFixture(t, stream)
	f.resolver.err = &lookup.Error{Op: "resolve", Barcode: ean, Err: lookup.ErrServer}

	f.machine.Start(context.Background())

	err := f.rec.waitError(t)
	assert.ErrorIs(t, err, lookup.ErrServer)
	waitState(t, f.machine, StateIdle)
	assert.Equal(t, []string{ean}, f.resolver.calls())
	assert.ErrorIs(t, f.machine.Err(), lookup.ErrServer)
}

func TestMachine_BackendSelectedOncePerSession(t *testing.T) {
	tests := []struct {
		name           string
		available      bool
		preferFallback bool
		wantNative     bool
	}{
		{"native available", true, false, true},
		{"native unavailable", false, false, false},
		{"fallback preferred", true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			native := &fakeNative{available: tt.available}
			fallback := &fakeDecoder{}
			rec := newRecorder()
			m := NewMachine(rec.wire(Config{
				Camera:         &fakeCamera{streams: []*fakeStream{{frames: frames(ean, ean, ean)}}},
				Native:         native,
				Fallback:       fallback,
				Resolver:       &fakeResolver{},
				PreferFallback: tt.preferFallback,
			}))
			t.Cleanup(m.Stop)

			m.Start(context.Background())
			rec.waitResolved(t)

			if tt.wantNative {
				assert.Equal(t, int32(3), native.calls.Load())
				assert.Zero(t, fallback.calls.Load())
			} else {
				assert.Zero(t, native.calls.Load())
				assert.Equal(t, int32(3), fallback.calls.Load())
			}
		})
	}
}

func TestMachine_StartStopsPreviousSession(t *testing.T) {
	first := &fakeStream{hold: true}
	second := &fakeStream{hold: true}
	f := newFixture(t, first, second)

	id1 := f.machine.Start(context.Background())
	waitState(t, f.machine, StateActive)

	id2 := f.machine.Start(context.Background())
	assert.NotEqual(t, id1, id2)
	assert.True(t, first.closed.Load(), "previous session released its camera")
	assert.Equal(t, id2, f.machine.SessionID())

	waitState(t, f.machine, StateActive)
	f.machine.Stop()
	assert.True(t, second.closed.Load())
	assert.Equal(t, StateIdle, f.machine.State())
	assert.Empty(t, f.machine.SessionID())
}

func TestMachine_StopCancelsLookup(t *testing.T) {
	stream := &fakeStream{frames: frames(ean, ean, ean)}
	f := newFixture(t, stream)
	f.resolver.gate = make(chan struct{})
	f.resolver.entered = make(chan string, 1)

	f.machine.Start(context.Background())
	<-f.resolver.entered
	assert.Equal(t, StateResolving, f.machine.State())
	assert.True(t, stream.closed.Load())

	f.machine.Stop()
	assert.Equal(t, StateIdle, f.machine.State())

	select {
	case err := <-f.rec.errs:
		t.Fatalf("canceled lookup reported an error: %v", err)
	case <-f.rec.resolved:
		t.Fatal("canceled lookup resolved")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMachine_Submit(t *testing.T) {
	t.Run("invalid input never looked up", func(t *testing.T) {
		f := newFixture(t)
		for _, input := range []string{"", "12345", badEAN, "not a code"} {
			_, err := f.machine.Submit(context.Background(), input)
			assert.ErrorIs(t, err, ErrInvalidCode, input)
		}
		assert.Empty(t, f.resolver.calls())
	})

	t.Run("upc input resolves canonical code", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.machine.Submit(context.Background(), "400638133393")
		require.NoError(t, err)
		assert.Equal(t, ean, res.ProductID)
		assert.Equal(t, ean, f.rec.waitResolved(t).ProductID)
		assert.Equal(t, StateIdle, f.machine.State())
	})

	t.Run("stops running camera session", func(t *testing.T) {
		stream := &fakeStream{hold: true}
		f := newFixture(t, stream)
		f.machine.Start(context.Background())
		waitState(t, f.machine, StateActive)

		_, err := f.machine.Submit(context.Background(), ean)
		require.NoError(t, err)
		assert.True(t, stream.closed.Load())
	})

	t.Run("one lookup in flight", func(t *testing.T) {
		f := newFixture(t)
		f.resolver.gate = make(chan struct{})
		f.resolver.entered = make(chan string, 1)

		done := make(chan error, 1)
		go func() {
			_, err := f.machine.Submit(context.Background(), ean)
			done <- err
		}()
		<-f.resolver.entered

		_, err := f.machine.Submit(context.Background(), otherEAN)
		assert.ErrorIs(t, err, ErrLookupInFlight)

		close(f.resolver.gate)
		require.NoError(t, <-done)
		assert.Equal(t, []string{ean}, f.resolver.calls())
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "resolving", StateResolving.String())
	assert.Equal(t, "state(42)", State(42).String())
}
