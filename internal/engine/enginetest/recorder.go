// Package enginetest provides an in-memory engine.Engine that records every
// call, for tests of the session, surface and pipeline layers.
package enginetest

import (
	"sync"

	"github.com/e7canasta/effect-quickstart/internal/engine"
)

// Call is one recorded engine invocation.
type Call struct {
	Op     string
	Handle engine.Handle
	Width  int
	Height int
	Name   string
	// Pixels is a copy of the buffer passed to ProcessPhoto.
	Pixels []byte
}

// Recorder implements engine.Engine. The zero value is ready to use.
//
// Errors keyed by operation name ("initialize", "load_effect",
// "process_photo", ...) are returned instead of performing the call.
// Process, when set, computes the ProcessPhoto result; the default returns a
// copy of the input.
type Recorder struct {
	mu      sync.Mutex
	calls   []Call
	next    engine.Handle
	live    map[engine.Handle]bool
	Errors  map[string]error
	Process func(pixels []byte, width, height int) ([]byte, error)
}

var _ engine.Engine = (*Recorder)(nil)

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.Errors[c.Op]
}

func (r *Recorder) checkHandle(h engine.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live[h] {
		return engine.Errorf(engine.KindProcessing, "enginetest", "%w: %s", engine.ErrInvalidHandle, h)
	}
	return nil
}

// Calls returns a snapshot of recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Ops returns the recorded operation names in order.
func (r *Recorder) Ops() []string {
	calls := r.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Count returns how many times op was called.
func (r *Recorder) Count(op string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Live reports the number of handles created and not yet destroyed.
func (r *Recorder) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *Recorder) Initialize(path, token string) error {
	return r.record(Call{Op: "initialize", Name: path})
}

func (r *Recorder) Shutdown() error {
	return r.record(Call{Op: "shutdown"})
}

func (r *Recorder) CreateContext() (engine.Handle, error) {
	if err := r.record(Call{Op: "create_context"}); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live == nil {
		r.live = make(map[engine.Handle]bool)
	}
	r.next++
	r.live[r.next] = true
	return r.next, nil
}

func (r *Recorder) DestroyContext(h engine.Handle) error {
	if err := r.record(Call{Op: "destroy_context", Handle: h}); err != nil {
		return err
	}
	if err := r.checkHandle(h); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.live, h)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) SurfaceCreated(h engine.Handle, width, height int) error {
	if err := r.record(Call{Op: "surface_created", Handle: h, Width: width, Height: height}); err != nil {
		return err
	}
	return r.checkHandle(h)
}

func (r *Recorder) SurfaceChanged(h engine.Handle, width, height int) error {
	if err := r.record(Call{Op: "surface_changed", Handle: h, Width: width, Height: height}); err != nil {
		return err
	}
	return r.checkHandle(h)
}

func (r *Recorder) SurfaceDestroyed(h engine.Handle) error {
	if err := r.record(Call{Op: "surface_destroyed", Handle: h}); err != nil {
		return err
	}
	return r.checkHandle(h)
}

func (r *Recorder) LoadEffect(h engine.Handle, name string) error {
	if err := r.record(Call{Op: "load_effect", Handle: h, Name: name}); err != nil {
		return err
	}
	return r.checkHandle(h)
}

func (r *Recorder) ProcessPhoto(h engine.Handle, pixels []byte, width, height int) ([]byte, error) {
	in := make([]byte, len(pixels))
	copy(in, pixels)
	if err := r.record(Call{Op: "process_photo", Handle: h, Width: width, Height: height, Pixels: in}); err != nil {
		return nil, err
	}
	if err := r.checkHandle(h); err != nil {
		return nil, err
	}
	if err := engine.CheckBuffer(pixels, width, height); err != nil {
		return nil, engine.Wrap(engine.KindProcessing, "process_photo", err)
	}
	if r.Process != nil {
		return r.Process(pixels, width, height)
	}
	out := make([]byte, len(pixels))
	copy(out, pixels)
	return out, nil
}
