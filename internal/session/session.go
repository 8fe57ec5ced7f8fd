package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/e7canasta/effect-quickstart/internal/engine"
)

var (
	// ErrSurfaceAlive is returned by Destroy while the surface bound to the
	// session has not been destroyed yet.
	ErrSurfaceAlive = errors.New("surface still alive")
	// ErrSessionClosed is returned by any call after Destroy.
	ErrSessionClosed = errors.New("session destroyed")
)

// Session owns exactly one engine handle and the render thread that every
// call on that handle runs on. All methods may be called from any goroutine;
// they are marshalled onto the render thread and block until done.
type Session struct {
	rt     *Runtime
	eng    engine.Engine
	id     string
	handle engine.Handle
	thread *thread

	mu          sync.Mutex
	surfaceLive bool
	destroyed   bool
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Handle returns the engine handle. It is invalid after Destroy.
func (s *Session) Handle() engine.Handle { return s.handle }

// SurfaceLive reports whether a surface is currently bound.
func (s *Session) SurfaceLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surfaceLive
}

// Closed reports whether Destroy completed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Do runs fn on the render thread. Session calls made by fn with the context
// it receives run inline.
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.thread.Do(ctx, fn)
}

// call runs fn on the render thread after checking the session is usable.
func (s *Session) call(ctx context.Context, fn func() error) error {
	err := s.thread.Do(ctx, func(context.Context) error {
		if s.Closed() {
			return ErrSessionClosed
		}
		return fn()
	})
	if errors.Is(err, ErrThreadStopped) {
		return ErrSessionClosed
	}
	return err
}

// SurfaceCreated notifies the engine that a render surface exists.
func (s *Session) SurfaceCreated(ctx context.Context, width, height int) error {
	return s.call(ctx, func() error {
		if err := s.eng.SurfaceCreated(s.handle, width, height); err != nil {
			return engine.Wrap(engine.KindProcessing, "surface_created", err)
		}
		s.mu.Lock()
		s.surfaceLive = true
		s.mu.Unlock()
		slog.Debug("session: surface created", "session_id", s.id, "width", width, "height", height)
		return nil
	})
}

// SurfaceChanged reconfigures the engine render targets to width x height.
func (s *Session) SurfaceChanged(ctx context.Context, width, height int) error {
	return s.call(ctx, func() error {
		if err := s.eng.SurfaceChanged(s.handle, width, height); err != nil {
			return engine.Wrap(engine.KindProcessing, "surface_changed", err)
		}
		slog.Debug("session: surface changed", "session_id", s.id, "width", width, "height", height)
		return nil
	})
}

// SurfaceDestroyed releases surface-bound engine resources.
func (s *Session) SurfaceDestroyed(ctx context.Context) error {
	return s.call(ctx, func() error {
		s.mu.Lock()
		s.surfaceLive = false
		s.mu.Unlock()
		if err := s.eng.SurfaceDestroyed(s.handle); err != nil {
			return engine.Wrap(engine.KindProcessing, "surface_destroyed", err)
		}
		slog.Debug("session: surface destroyed", "session_id", s.id)
		return nil
	})
}

// LoadEffect selects the effect for subsequent ProcessPhoto calls.
func (s *Session) LoadEffect(ctx context.Context, name string) error {
	return s.call(ctx, func() error {
		return engine.Wrap(engine.KindEffectLoad, "load_effect", s.eng.LoadEffect(s.handle, name))
	})
}

// ProcessPhoto runs one tightly packed RGBA frame through the engine. The
// input is validated before it crosses the boundary.
func (s *Session) ProcessPhoto(ctx context.Context, pixels []byte, width, height int) ([]byte, error) {
	if err := engine.CheckBuffer(pixels, width, height); err != nil {
		return nil, engine.Wrap(engine.KindProcessing, "process_photo", err)
	}

	var out []byte
	err := s.call(ctx, func() error {
		res, err := s.eng.ProcessPhoto(s.handle, pixels, width, height)
		if err != nil {
			return engine.Wrap(engine.KindProcessing, "process_photo", err)
		}
		out = res
		return nil
	})
	return out, err
}

// Destroy releases the engine handle and stops the render thread. It waits
// for an in-flight call to return first. Destroy refuses while the surface is
// alive; call SurfaceDestroyed (or surface.Adapter.Destroyed) first.
// Safe to call multiple times.
func (s *Session) Destroy(ctx context.Context) error {
	err := s.thread.Do(ctx, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.destroyed {
			return nil
		}
		if s.surfaceLive {
			return ErrSurfaceAlive
		}
		if err := s.eng.DestroyContext(s.handle); err != nil {
			return engine.Wrap(engine.KindProcessing, "destroy_context", err)
		}
		s.destroyed = true
		return nil
	})
	if errors.Is(err, ErrThreadStopped) {
		// Thread already gone means a previous Destroy finished.
		return nil
	}
	if err != nil {
		return err
	}

	s.thread.stop(ctx)
	s.rt.release(s)

	slog.Info("session: destroyed", "session_id", s.id, "handle", s.handle)
	return nil
}
