// Package surface bridges a render-surface lifecycle onto an engine session.
//
// Adapter is the state machine Uncreated -> Created -> Sized -> Destroyed.
// View plays the role of a GL surface view: it drives the Adapter and a
// Renderer from the session's render thread and ticks draw frames.
package surface

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/e7canasta/effect-quickstart/internal/session"
)

// State is a surface lifecycle state.
type State int

const (
	// StateUncreated is the initial state, no surface bound yet
	StateUncreated State = iota
	// StateCreated means a surface exists but its size is not known
	StateCreated
	// StateSized means the engine render targets match the surface size
	StateSized
	// StateDestroyed is terminal; the session handle is gone
	StateDestroyed
)

// String returns a human-readable name for the state
func (s State) String() string {
	switch s {
	case StateUncreated:
		return "uncreated"
	case StateCreated:
		return "created"
	case StateSized:
		return "sized"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

var (
	// ErrTerminal is returned for any transition after Destroyed.
	ErrTerminal = errors.New("surface destroyed")
	// ErrInvalidTransition is returned for a transition the current state does not allow.
	ErrInvalidTransition = errors.New("invalid surface transition")
)

// Adapter forwards surface lifecycle events to a session. Transitions are
// expected on the render thread; the mutex only makes State safe to read
// from elsewhere.
type Adapter struct {
	sess *session.Session

	mu     sync.Mutex
	state  State
	width  int
	height int
}

// NewAdapter returns an Adapter in StateUncreated.
func NewAdapter(s *session.Session) *Adapter {
	return &Adapter{sess: s}
}

// State returns the current state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Size returns the last size reported to the engine.
func (a *Adapter) Size() (width, height int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.width, a.height
}

func (a *Adapter) set(s State, width, height int) {
	a.mu.Lock()
	a.state, a.width, a.height = s, width, height
	a.mu.Unlock()
}

// Created handles first surface availability. 0x0 is allowed and means the
// size arrives with Changed.
func (a *Adapter) Created(ctx context.Context, width, height int) error {
	switch st := a.State(); st {
	case StateUncreated:
	case StateDestroyed:
		return ErrTerminal
	default:
		return fmt.Errorf("%w: created from %s", ErrInvalidTransition, st)
	}
	if width < 0 || height < 0 {
		return fmt.Errorf("%w: negative size %dx%d", ErrInvalidTransition, width, height)
	}

	if err := a.sess.SurfaceCreated(ctx, width, height); err != nil {
		return err
	}
	a.set(StateCreated, width, height)
	return nil
}

// Changed handles every resize. The engine reconfigures its render targets.
func (a *Adapter) Changed(ctx context.Context, width, height int) error {
	switch st := a.State(); st {
	case StateCreated, StateSized:
	case StateDestroyed:
		return ErrTerminal
	default:
		return fmt.Errorf("%w: changed from %s", ErrInvalidTransition, st)
	}
	if width < 0 || height < 0 {
		return fmt.Errorf("%w: negative size %dx%d", ErrInvalidTransition, width, height)
	}

	if err := a.sess.SurfaceChanged(ctx, width, height); err != nil {
		return err
	}
	a.set(StateSized, width, height)
	return nil
}

// Destroyed releases surface-bound engine resources, then destroys the
// session handle. It is valid from any state and terminal; repeating it is a
// no-op. The adapter ends in StateDestroyed even when a step fails.
func (a *Adapter) Destroyed(ctx context.Context) error {
	prev := a.State()
	if prev == StateDestroyed {
		return nil
	}

	var errs []error
	if prev == StateCreated || prev == StateSized {
		if err := a.sess.SurfaceDestroyed(ctx); err != nil {
			errs = append(errs, fmt.Errorf("surface destroyed: %w", err))
		}
	}
	if err := a.sess.Destroy(ctx); err != nil {
		errs = append(errs, fmt.Errorf("destroy session: %w", err))
	}

	a.set(StateDestroyed, 0, 0)
	return errors.Join(errs...)
}
