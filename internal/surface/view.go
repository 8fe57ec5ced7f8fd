package surface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/effect-quickstart/internal/session"
)

// Renderer receives surface callbacks on the render thread. Calls never
// overlap.
type Renderer interface {
	OnSurfaceCreated(ctx context.Context) error
	OnSurfaceChanged(ctx context.Context, width, height int) error
	OnDrawFrame(ctx context.Context) error
}

// ViewConfig configures a View.
type ViewConfig struct {
	// Width and Height are reported with the first resize.
	Width  int
	Height int
	// TickInterval > 0 draws continuously; 0 draws only after RequestRender.
	TickInterval time.Duration
}

type size struct{ w, h int }

// View owns the draw loop for one session.
//
// Sequence:
//  1. Created(0, 0) then Renderer.OnSurfaceCreated
//  2. Changed(Width, Height) then Renderer.OnSurfaceChanged
//  3. Renderer.OnDrawFrame per tick / RequestRender, Resize re-runs step 2
//  4. on exit (ctx done or draw error): Adapter.Destroyed
type View struct {
	sess     *session.Session
	adapter  *Adapter
	renderer Renderer
	cfg      ViewConfig

	dirty  chan struct{}
	resize chan size
}

// NewView validates cfg and returns a View ready to Run.
func NewView(s *session.Session, r Renderer, cfg ViewConfig) (*View, error) {
	if s == nil || r == nil {
		return nil, fmt.Errorf("session and renderer are required")
	}
	if cfg.Width < 0 || cfg.Height < 0 {
		return nil, fmt.Errorf("invalid surface size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.TickInterval < 0 {
		return nil, fmt.Errorf("tick interval must be >= 0, got %v", cfg.TickInterval)
	}
	return &View{
		sess:     s,
		adapter:  NewAdapter(s),
		renderer: r,
		cfg:      cfg,
		dirty:    make(chan struct{}, 1),
		resize:   make(chan size, 1),
	}, nil
}

// Adapter exposes the lifecycle state machine driven by the view.
func (v *View) Adapter() *Adapter { return v.adapter }

// RequestRender schedules one draw. Requests coalesce. Safe from any goroutine.
func (v *View) RequestRender() {
	select {
	case v.dirty <- struct{}{}:
	default:
	}
}

// Resize schedules a surface size change. The latest pending size wins.
func (v *View) Resize(width, height int) {
	for {
		select {
		case v.resize <- size{width, height}:
			return
		default:
		}
		select {
		case <-v.resize:
		default:
		}
	}
}

// Run drives the surface until ctx is done or a callback fails. The surface
// and the session are always torn down before Run returns; a clean stop
// returns nil.
func (v *View) Run(ctx context.Context) (err error) {
	defer func() {
		teardown := v.sess.Do(context.WithoutCancel(ctx), func(tctx context.Context) error {
			return v.adapter.Destroyed(tctx)
		})
		if errors.Is(teardown, session.ErrThreadStopped) && v.sess.Closed() {
			teardown = nil
		}
		if teardown != nil {
			err = errors.Join(err, fmt.Errorf("surface teardown: %w", teardown))
		}
		slog.Debug("surface: view stopped", "session_id", v.sess.ID())
	}()

	if err := v.sess.Do(ctx, func(tctx context.Context) error {
		if err := v.adapter.Created(tctx, 0, 0); err != nil {
			return err
		}
		return v.renderer.OnSurfaceCreated(tctx)
	}); err != nil {
		return v.stopped(ctx, err)
	}

	if err := v.changed(ctx, v.cfg.Width, v.cfg.Height); err != nil {
		return v.stopped(ctx, err)
	}

	var tick <-chan time.Time
	if v.cfg.TickInterval > 0 {
		ticker := time.NewTicker(v.cfg.TickInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	slog.Debug("surface: view running",
		"session_id", v.sess.ID(),
		"width", v.cfg.Width,
		"height", v.cfg.Height,
		"tick_interval", v.cfg.TickInterval,
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sz := <-v.resize:
			if err := v.changed(ctx, sz.w, sz.h); err != nil {
				return v.stopped(ctx, err)
			}
		case <-tick:
			if err := v.draw(ctx); err != nil {
				return v.stopped(ctx, err)
			}
		case <-v.dirty:
			if err := v.draw(ctx); err != nil {
				return v.stopped(ctx, err)
			}
		}
	}
}

// stopped maps cancellation during a callback to a clean stop.
func (v *View) stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func (v *View) changed(ctx context.Context, width, height int) error {
	return v.sess.Do(ctx, func(tctx context.Context) error {
		if err := v.adapter.Changed(tctx, width, height); err != nil {
			return err
		}
		return v.renderer.OnSurfaceChanged(tctx, width, height)
	})
}

func (v *View) draw(ctx context.Context) error {
	return v.sess.Do(ctx, v.renderer.OnDrawFrame)
}
