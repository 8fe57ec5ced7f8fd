// Package pipeline turns submitted photos into engine-processed images.
//
// Submit stores the latest image (no queue, last write wins). The render
// thread calls OnDrawFrame every tick; when an image is pending it selects
// the effect, optionally primes the engine, packs the pixels, runs
// ProcessPhoto and posts a Result on the Results channel.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/e7canasta/effect-quickstart/internal/engine"
	"github.com/e7canasta/effect-quickstart/internal/pixel"
)

// Processor is the part of session.Session the pipeline needs.
type Processor interface {
	LoadEffect(ctx context.Context, name string) error
	ProcessPhoto(ctx context.Context, pixels []byte, width, height int) ([]byte, error)
}

// Config configures a Pipeline.
type Config struct {
	// Effect is loaded before every processed frame (e.g. "effects/Afro").
	Effect string
	// Warmup sends one throwaway 1x1 zero frame before the first real frame
	// after each surface resize.
	Warmup bool
	// Format is the engine pixel layout; zero means pixel.Default.
	Format gputypes.TextureFormat
	// ResultBuffer is the capacity of the Results channel (default 4).
	ResultBuffer int
}

// Result is one processed photo, posted from the render thread.
type Result struct {
	Seq     uint64
	TraceID string
	Effect  string
	// Image has exactly the dimensions of the submitted image.
	Image *image.RGBA
	// EffectErr is set when the effect failed to load; the frame was still
	// processed with whatever the engine had loaded.
	EffectErr   error
	SubmittedAt time.Time
	ProcessedAt time.Time
	// Latency covers pack, engine call and unpack.
	Latency time.Duration
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Submitted uint64
	// Dropped counts images overwritten before a draw tick took them.
	Dropped   uint64
	Processed uint64
	Warmups   uint64
	// ResultDrops counts results discarded because Results was full.
	ResultDrops     uint64
	Pending         bool
	LastProcessedAt time.Time
}

// Pipeline implements surface.Renderer.
type Pipeline struct {
	proc   Processor
	cfg    Config
	slot   slot
	primed bool // render thread only

	results chan Result

	mu            sync.Mutex
	requestRender func()
	closed        bool

	processed       atomic.Uint64
	warmups         atomic.Uint64
	resultDrops     atomic.Uint64
	lastProcessedAt atomic.Value // time.Time
}

// New validates cfg and returns a Pipeline.
func New(p Processor, cfg Config) (*Pipeline, error) {
	if p == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if cfg.Effect == "" {
		return nil, fmt.Errorf("effect is required")
	}
	if cfg.Format == gputypes.TextureFormatUndefined {
		cfg.Format = pixel.Default
	}
	if !pixel.Supported(cfg.Format) {
		return nil, fmt.Errorf("unsupported pixel format %v", cfg.Format)
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = 4
	}

	return &Pipeline{
		proc:    p,
		cfg:     cfg,
		results: make(chan Result, cfg.ResultBuffer),
	}, nil
}

// SetRenderRequester installs the hook Submit calls to schedule a draw,
// typically surface.View.RequestRender.
func (p *Pipeline) SetRenderRequester(fn func()) {
	p.mu.Lock()
	p.requestRender = fn
	p.mu.Unlock()
}

// Submit stores img as the pending image, replacing any unprocessed one.
// Non-blocking and safe from any goroutine. A nil img is ignored.
func (p *Pipeline) Submit(img image.Image) Pending {
	if img == nil {
		return Pending{}
	}
	pending := p.slot.put(img)

	slog.Debug("pipeline: image submitted",
		"seq", pending.Seq,
		"trace_id", pending.TraceID,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy(),
	)

	p.mu.Lock()
	fn := p.requestRender
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
	return pending
}

// Results returns the channel results are posted on. It is closed by Close.
func (p *Pipeline) Results() <-chan Result { return p.results }

// Close closes the Results channel. Call it once the view driving the
// pipeline has stopped.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.results)
	}
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	submitted, dropped, waiting := p.slot.counters()
	last, _ := p.lastProcessedAt.Load().(time.Time)
	return Stats{
		Submitted:       submitted,
		Dropped:         dropped,
		Processed:       p.processed.Load(),
		Warmups:         p.warmups.Load(),
		ResultDrops:     p.resultDrops.Load(),
		Pending:         waiting,
		LastProcessedAt: last,
	}
}

// OnSurfaceCreated resets warm-up state for the new surface.
func (p *Pipeline) OnSurfaceCreated(ctx context.Context) error {
	p.primed = false
	return nil
}

// OnSurfaceChanged resets warm-up state; the first frame after a resize is
// primed again when Warmup is on.
func (p *Pipeline) OnSurfaceChanged(ctx context.Context, width, height int) error {
	p.primed = false
	return nil
}

// OnDrawFrame processes the pending image, if any. Any engine processing
// failure is returned and is fatal for the session.
func (p *Pipeline) OnDrawFrame(ctx context.Context) error {
	pending := p.slot.take()
	if pending == nil {
		return nil
	}

	res, err := p.process(ctx, pending)
	if err != nil {
		slog.Error("pipeline: processing failed",
			"seq", pending.Seq,
			"trace_id", pending.TraceID,
			"kind", engine.KindOf(err).String(),
			"error", err,
		)
		return err
	}

	p.processed.Add(1)
	p.lastProcessedAt.Store(res.ProcessedAt)
	p.post(res)
	return nil
}

func (p *Pipeline) process(ctx context.Context, pending *Pending) (Result, error) {
	res := Result{
		Seq:         pending.Seq,
		TraceID:     pending.TraceID,
		Effect:      p.cfg.Effect,
		SubmittedAt: pending.SubmittedAt,
	}

	// Effect load failures leave the frame unprocessed by that effect.
	if err := p.proc.LoadEffect(ctx, p.cfg.Effect); err != nil {
		if engine.KindOf(err).Fatal() {
			return res, err
		}
		slog.Warn("pipeline: effect load failed",
			"effect", p.cfg.Effect,
			"trace_id", pending.TraceID,
			"error", err,
		)
		res.EffectErr = err
	}

	if p.cfg.Warmup && !p.primed {
		if _, err := p.proc.ProcessPhoto(ctx, make([]byte, engine.BytesPerPixel), 1, 1); err != nil {
			return res, fmt.Errorf("warm-up frame: %w", err)
		}
		p.primed = true
		p.warmups.Add(1)
		slog.Debug("pipeline: engine primed", "trace_id", pending.TraceID)
	}

	start := time.Now()

	bounds := pending.Image.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	buf, err := pixel.Pack(pending.Image, p.cfg.Format)
	if err != nil {
		return res, engine.Wrap(engine.KindProcessing, "pack", err)
	}

	out, err := p.proc.ProcessPhoto(ctx, buf, width, height)
	if err != nil {
		return res, err
	}

	img, err := pixel.Unpack(out, width, height, p.cfg.Format)
	if err != nil {
		return res, err
	}

	res.Image = img
	res.ProcessedAt = time.Now()
	res.Latency = res.ProcessedAt.Sub(start)

	slog.Info("pipeline: photo processed",
		"seq", res.Seq,
		"trace_id", res.TraceID,
		"effect", res.Effect,
		"width", width,
		"height", height,
		"latency_ms", res.Latency.Milliseconds(),
	)
	return res, nil
}

// post delivers res without blocking the render thread.
func (p *Pipeline) post(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.resultDrops.Add(1)
		return
	}

	select {
	case p.results <- res:
	default:
		p.resultDrops.Add(1)
		slog.Warn("pipeline: dropping result, results channel full",
			"seq", res.Seq,
			"trace_id", res.TraceID,
		)
	}
}
