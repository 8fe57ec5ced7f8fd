// Package app wires provisioning, the engine session, the surface view and
// the photo pipeline into the quickstart flow.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/e7canasta/effect-quickstart/assets"
	"github.com/e7canasta/effect-quickstart/internal/config"
	"github.com/e7canasta/effect-quickstart/internal/emitter"
	"github.com/e7canasta/effect-quickstart/internal/engine"
	"github.com/e7canasta/effect-quickstart/internal/engine/bridge"
	"github.com/e7canasta/effect-quickstart/internal/engine/soft"
	"github.com/e7canasta/effect-quickstart/internal/photo"
	"github.com/e7canasta/effect-quickstart/internal/pipeline"
	"github.com/e7canasta/effect-quickstart/internal/pixel"
	"github.com/e7canasta/effect-quickstart/internal/provision"
	"github.com/e7canasta/effect-quickstart/internal/session"
	"github.com/e7canasta/effect-quickstart/internal/surface"
)

// ErrNoResult is returned when the view stopped before a result arrived.
var ErrNoResult = errors.New("view stopped before the photo was processed")

// Publisher receives completion events. *emitter.MQTTEmitter implements it.
type Publisher interface {
	Publish(ev emitter.Event) error
}

// App runs the quickstart flow for one configuration.
type App struct {
	cfg    *config.Config
	bundle provision.Bundle

	// openEngine returns the engine and a release func run after Shutdown.
	openEngine func(ctx context.Context) (engine.Engine, func() error, error)

	publisher Publisher
}

// New creates an App for cfg. cfg must have passed config.Validate.
func New(cfg *config.Config) *App {
	a := &App{cfg: cfg, bundle: assets.Bundle()}
	a.openEngine = a.defaultEngine
	return a
}

// SetPublisher installs the completion event sink (nil disables events).
func (a *App) SetPublisher(p Publisher) { a.publisher = p }

func (a *App) defaultEngine(ctx context.Context) (engine.Engine, func() error, error) {
	switch a.cfg.Engine.Kind {
	case config.EngineBridge:
		// The host must outlive cancellation of ctx so teardown can reach it.
		c, err := bridge.Dial(context.WithoutCancel(ctx), bridge.HostConfig{
			Path:        a.cfg.Engine.HostPath,
			Args:        a.cfg.Engine.HostArgs,
			CallTimeout: a.cfg.CallTimeout(),
		})
		if err != nil {
			return nil, nil, engine.Wrap(engine.KindEngineInit, "dial", err)
		}
		return c, c.Close, nil
	default:
		return soft.New(), func() error { return nil }, nil
	}
}

// Provision unpacks the bundled resources into the configured directory.
func (a *App) Provision(ctx context.Context) (provision.Report, error) {
	return provision.Ensure(ctx, a.cfg.Resources.Dir, a.bundle)
}

// Effects provisions resources and lists the effects found there.
func (a *App) Effects(ctx context.Context) ([]string, error) {
	if _, err := a.Provision(ctx); err != nil {
		return nil, err
	}
	return soft.List(os.DirFS(a.cfg.Resources.Dir))
}

// Request is one photo to process.
type Request struct {
	Input  string
	Output string
	// Effect overrides pipeline.effect when set.
	Effect string
}

// Report describes a completed run.
type Report struct {
	RunID     string
	Output    string
	Provision provision.Report
	Result    pipeline.Result
	Stats     pipeline.Stats
}

// Process runs one photo through the engine and writes the result to
// req.Output. Any fatal error aborts the run before output is produced.
func (a *App) Process(ctx context.Context, req Request) (*Report, error) {
	runID := uuid.NewString()
	effect := a.cfg.Pipeline.Effect
	if req.Effect != "" {
		effect = req.Effect
	}

	slog.Info("run starting",
		"run_id", runID,
		"input", req.Input,
		"output", req.Output,
		"effect", effect,
		"engine", a.cfg.Engine.Kind,
	)

	rep, err := a.process(ctx, runID, effect, req)
	if err != nil {
		slog.Error("run failed",
			"run_id", runID,
			"kind", engine.KindOf(err).String(),
			"error", err,
		)
		a.publish(emitter.Failed(a.cfg.InstanceID, runID, effect, err))
		return nil, err
	}

	a.publish(emitter.Processed(a.cfg.InstanceID, runID, rep.Result, rep.Output))
	slog.Info("run completed",
		"run_id", runID,
		"output", rep.Output,
		"latency_ms", rep.Result.Latency.Milliseconds(),
		"dropped", rep.Stats.Dropped,
	)
	return rep, nil
}

func (a *App) process(ctx context.Context, runID, effect string, req Request) (_ *Report, err error) {
	img, err := photo.Load(req.Input, *a.cfg.Pipeline.AutoOrient)
	if err != nil {
		return nil, err
	}

	prov, err := a.Provision(ctx)
	if err != nil {
		return nil, err
	}

	resourcePath, err := filepath.Abs(a.cfg.Resources.Dir)
	if err != nil {
		return nil, engine.Wrap(engine.KindProvisioning, "resources", err)
	}

	eng, release, err := a.openEngine(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := release(); rerr != nil {
			slog.Warn("engine release failed", "run_id", runID, "error", rerr)
		}
	}()

	rt, err := session.Initialize(ctx, eng, session.Options{
		ResourcePath: resourcePath,
		ClientToken:  a.cfg.Engine.ClientToken,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		sctx, cancel := a.teardownContext(ctx)
		defer cancel()
		if serr := rt.Shutdown(sctx); serr != nil {
			err = errors.Join(err, fmt.Errorf("engine shutdown: %w", serr))
		}
	}()

	res, stats, err := a.render(ctx, rt, effect, img)
	if err != nil {
		return nil, err
	}

	if err := photo.Save(req.Output, res.Image); err != nil {
		return nil, err
	}

	return &Report{
		RunID:     runID,
		Output:    req.Output,
		Provision: prov,
		Result:    res,
		Stats:     stats,
	}, nil
}

// render drives one session: the view owns the surface lifecycle on the
// render thread while this goroutine submits the photo and waits for the
// posted result.
func (a *App) render(ctx context.Context, rt *session.Runtime, effect string, img image.Image) (res pipeline.Result, stats pipeline.Stats, err error) {
	sess, err := rt.NewSession(ctx)
	if err != nil {
		return res, stats, err
	}

	// Until the view runs, nothing else tears the session down.
	viewStarted := false
	defer func() {
		if viewStarted {
			return
		}
		sctx, cancel := a.teardownContext(ctx)
		defer cancel()
		if derr := sess.Destroy(sctx); derr != nil {
			err = errors.Join(err, derr)
		}
	}()

	format, err := pixel.ParseFormat(a.cfg.Engine.PixelFormat)
	if err != nil {
		return res, stats, err
	}

	pipe, err := pipeline.New(sess, pipeline.Config{
		Effect:       effect,
		Warmup:       *a.cfg.Pipeline.Warmup,
		Format:       format,
		ResultBuffer: a.cfg.Pipeline.ResultsBuffer,
	})
	if err != nil {
		return res, stats, err
	}

	width, height := a.cfg.Surface.Width, a.cfg.Surface.Height
	if width == 0 || height == 0 {
		width, height = img.Bounds().Dx(), img.Bounds().Dy()
	}

	view, err := surface.NewView(sess, pipe, surface.ViewConfig{
		Width:        width,
		Height:       height,
		TickInterval: a.cfg.TickInterval(),
	})
	if err != nil {
		return res, stats, err
	}
	pipe.SetRenderRequester(view.RequestRender)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	viewDone := make(chan error, 1)
	viewStarted = true
	go func() { viewDone <- view.Run(runCtx) }()

	pending := pipe.Submit(img)
	slog.Debug("photo submitted", "trace_id", pending.TraceID, "seq", pending.Seq)

	var (
		got     bool
		viewErr error
		stopped bool
	)
	select {
	case res, got = <-pipe.Results():
	case viewErr = <-viewDone:
		stopped = true
	case <-ctx.Done():
	}

	stop()
	if !stopped {
		viewErr = <-viewDone
	}
	pipe.Close()
	stats = pipe.Stats()

	switch {
	case viewErr != nil:
		return pipeline.Result{}, stats, viewErr
	case !got && ctx.Err() != nil:
		return pipeline.Result{}, stats, ctx.Err()
	case !got:
		return pipeline.Result{}, stats, ErrNoResult
	}
	return res, stats, nil
}

func (a *App) teardownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout())
}

func (a *App) publish(ev emitter.Event) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(ev); err != nil {
		slog.Warn("failed to publish event", "type", ev.Type, "run_id", ev.RunID, "error", err)
	}
}
