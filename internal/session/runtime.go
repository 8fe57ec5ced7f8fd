// Package session owns the lifecycle of the external effect engine: one
// process-wide Runtime and one Session per render surface.
//
// Lifecycle:
//
//	rt, _ := session.Initialize(ctx, eng, session.Options{...})
//	s, _ := rt.NewSession(ctx)     // starts the render thread
//	s.SurfaceCreated(ctx, 0, 0)
//	s.SurfaceChanged(ctx, w, h)
//	s.LoadEffect(ctx, "effects/Afro")
//	out, _ := s.ProcessPhoto(ctx, rgba, w, h)
//	s.SurfaceDestroyed(ctx)
//	s.Destroy(ctx)                 // handle released, thread stopped
//	rt.Shutdown(ctx)
//
// Out-of-order teardown is rejected instead of reaching the engine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/e7canasta/effect-quickstart/internal/engine"
)

var (
	// ErrSessionsAlive is returned by Shutdown while sessions still exist.
	ErrSessionsAlive = errors.New("engine sessions still alive")
	// ErrShutdown is returned when the runtime was already shut down.
	ErrShutdown = errors.New("engine runtime shut down")
)

// Options configures Initialize.
type Options struct {
	// ResourcePath is the unpacked resource root (required).
	ResourcePath string
	// ClientToken is the engine license credential.
	ClientToken string
}

// Runtime is an initialized engine. It is safe for concurrent use.
type Runtime struct {
	eng engine.Engine

	mu       sync.Mutex
	sessions map[*Session]struct{}
	shutdown bool
}

// Initialize performs the one process-wide engine initialization. Any
// failure is classified engine.KindEngineInit and is fatal for the caller.
func Initialize(ctx context.Context, eng engine.Engine, opts Options) (*Runtime, error) {
	if eng == nil {
		return nil, engine.Errorf(engine.KindEngineInit, "initialize", "engine is required")
	}
	if opts.ResourcePath == "" {
		return nil, engine.Errorf(engine.KindEngineInit, "initialize", "resource path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, engine.Wrap(engine.KindEngineInit, "initialize", err)
	}

	slog.Info("session: initializing engine",
		"resource_path", opts.ResourcePath,
		"token_set", opts.ClientToken != "",
	)

	if err := eng.Initialize(opts.ResourcePath, opts.ClientToken); err != nil {
		return nil, engine.Wrap(engine.KindEngineInit, "initialize", err)
	}

	return &Runtime{
		eng:      eng,
		sessions: make(map[*Session]struct{}),
	}, nil
}

// Sessions returns the number of sessions not yet destroyed.
func (rt *Runtime) Sessions() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.sessions)
}

// NewSession creates one engine handle bound to a fresh render thread.
func (rt *Runtime) NewSession(ctx context.Context) (*Session, error) {
	rt.mu.Lock()
	if rt.shutdown {
		rt.mu.Unlock()
		return nil, ErrShutdown
	}
	rt.mu.Unlock()

	id := uuid.NewString()
	s := &Session{
		rt:     rt,
		eng:    rt.eng,
		id:     id,
		thread: newThread(id[:8]),
	}

	err := s.thread.Do(ctx, func(context.Context) error {
		h, err := rt.eng.CreateContext()
		if err != nil {
			return err
		}
		if !h.Valid() {
			return fmt.Errorf("%w: engine returned %s", engine.ErrInvalidHandle, h)
		}
		s.handle = h
		return nil
	})
	if err != nil {
		s.thread.stop(ctx)
		return nil, engine.Wrap(engine.KindEngineInit, "create_context", err)
	}

	rt.mu.Lock()
	if rt.shutdown {
		rt.mu.Unlock()
		// Shutdown raced us; the handle was never published.
		_ = s.thread.Do(ctx, func(context.Context) error { return rt.eng.DestroyContext(s.handle) })
		s.thread.stop(ctx)
		return nil, ErrShutdown
	}
	rt.sessions[s] = struct{}{}
	rt.mu.Unlock()

	slog.Info("session: created", "session_id", s.id, "handle", s.handle)
	return s, nil
}

func (rt *Runtime) release(s *Session) {
	rt.mu.Lock()
	delete(rt.sessions, s)
	rt.mu.Unlock()
}

// Shutdown tears the engine down. It refuses while any session is alive,
// so every handle is destroyed before process-wide teardown.
// Safe to call multiple times.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.shutdown {
		return nil
	}
	if n := len(rt.sessions); n > 0 {
		return fmt.Errorf("%w: %d remaining", ErrSessionsAlive, n)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rt.shutdown = true
	if err := rt.eng.Shutdown(); err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}

	slog.Info("session: engine shut down")
	return nil
}
