package pipeline_test

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/effect-quickstart/internal/engine"
	"github.com/e7canasta/effect-quickstart/internal/engine/enginetest"
	"github.com/e7canasta/effect-quickstart/internal/pipeline"
	"github.com/e7canasta/effect-quickstart/internal/session"
	"github.com/e7canasta/effect-quickstart/internal/surface"
)

const effect = "effects/Afro"

func newSession(t *testing.T, rec *enginetest.Recorder) *session.Session {
	t.Helper()
	ctx := context.Background()
	rt, err := session.Initialize(ctx, rec, session.Options{ResourcePath: t.TempDir(), ClientToken: "token"})
	require.NoError(t, err)
	s, err := rt.NewSession(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.SurfaceDestroyed(ctx)
		_ = s.Destroy(ctx)
		_ = rt.Shutdown(ctx)
	})
	require.NoError(t, s.SurfaceCreated(ctx, 0, 0))
	return s
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func processCalls(rec *enginetest.Recorder) []enginetest.Call {
	var out []enginetest.Call
	for _, c := range rec.Calls() {
		if c.Op == "process_photo" {
			out = append(out, c)
		}
	}
	return out
}

func TestBlackPhotoProducesBlackResult(t *testing.T) {
	ctx := context.Background()
	rec := &enginetest.Recorder{}
	s := newSession(t, rec)

	p, err := pipeline.New(s, pipeline.Config{Effect: effect})
	require.NoError(t, err)

	pending := p.Submit(image.NewRGBA(image.Rect(0, 0, 100, 100)))
	assert.Equal(t, uint64(1), pending.Seq)
	assert.NotEmpty(t, pending.TraceID)

	require.NoError(t, p.OnDrawFrame(ctx))

	calls := processCalls(rec)
	require.Len(t, calls, 1)
	assert.Equal(t, 100, calls[0].Width)
	assert.Equal(t, 100, calls[0].Height)
	assert.Equal(t, make([]byte, 40000), calls[0].Pixels)

	select {
	case res := <-p.Results():
		assert.Equal(t, pending.TraceID, res.TraceID)
		assert.Equal(t, effect, res.Effect)
		assert.Equal(t, image.Rect(0, 0, 100, 100), res.Image.Bounds())
		assert.Equal(t, make([]byte, 40000), res.Image.Pix)
		assert.NoError(t, res.EffectErr)
	default:
		t.Fatal("no result posted")
	}

	assert.Equal(t, 1, rec.Count("load_effect"))
}

func TestLastSubmitWins(t *testing.T) {
	ctx := context.Background()
	rec := &enginetest.Recorder{}
	s := newSession(t, rec)

	p, err := pipeline.New(s, pipeline.Config{Effect: effect})
	require.NoError(t, err)

	p.Submit(solid(10, 10, color.White))
	b := p.Submit(solid(20, 5, color.RGBA{R: 200, A: 255}))

	require.NoError(t, p.OnDrawFrame(ctx))
	require.NoError(t, p.OnDrawFrame(ctx), "empty slot is a no-op")

	calls := processCalls(rec)
	require.Len(t, calls, 1)
	assert.Equal(t, 20, calls[0].Width)
	assert.Equal(t, 5, calls[0].Height)

	res := <-p.Results()
	assert.Equal(t, b.Seq, res.Seq)
	assert.Equal(t, color.RGBA{R: 200, A: 255}, res.Image.RGBAAt(19, 4))

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Submitted)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, uint64(1), stats.Processed)
	assert.False(t, stats.Pending)
	assert.False(t, stats.LastProcessedAt.IsZero())
}

// TestSubmitDuringProcessingWaitsForNextFrame checks an image submitted
// while ProcessPhoto runs neither replaces the in-flight image nor counts as
// a drop; it is picked up by the following draw tick.
func TestSubmitDuringProcessingWaitsForNextFrame(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	var gated atomic.Bool
	rec := &enginetest.Recorder{
		Process: func(pixels []byte, width, height int) ([]byte, error) {
			if gated.CompareAndSwap(false, true) {
				close(started)
				<-release
			}
			out := make([]byte, len(pixels))
			copy(out, pixels)
			return out, nil
		},
	}
	s := newSession(t, rec)

	p, err := pipeline.New(s, pipeline.Config{Effect: effect})
	require.NoError(t, err)

	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	a := p.Submit(solid(3, 2, red))

	drawn := make(chan error, 1)
	go func() { drawn <- p.OnDrawFrame(ctx) }()
	<-started

	b := p.Submit(solid(5, 7, blue))
	assert.True(t, p.Stats().Pending)
	close(release)

	select {
	case err := <-drawn:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("draw tick did not finish")
	}

	res := <-p.Results()
	assert.Equal(t, a.Seq, res.Seq)
	assert.Equal(t, a.TraceID, res.TraceID)
	assert.Equal(t, image.Rect(0, 0, 3, 2), res.Image.Bounds())
	assert.Equal(t, red, res.Image.RGBAAt(2, 1))

	stats := p.Stats()
	assert.True(t, stats.Pending)
	assert.Equal(t, uint64(0), stats.Dropped)

	require.NoError(t, p.OnDrawFrame(ctx))
	res = <-p.Results()
	assert.Equal(t, b.Seq, res.Seq)
	assert.Equal(t, image.Rect(0, 0, 5, 7), res.Image.Bounds())
	assert.Equal(t, blue, res.Image.RGBAAt(4, 6))

	stats = p.Stats()
	assert.False(t, stats.Pending)
	assert.Equal(t, uint64(0), stats.Dropped)
	assert.Equal(t, uint64(2), stats.Processed)

	calls := processCalls(rec)
	require.Len(t, calls, 2)
	assert.Equal(t, [2]int{3, 2}, [2]int{calls[0].Width, calls[0].Height})
	assert.Equal(t, [2]int{5, 7}, [2]int{calls[1].Width, calls[1].Height})
}

func TestWarmupOncePerResize(t *testing.T) {
	ctx := context.Background()
	rec := &enginetest.Recorder{}
	s := newSession(t, rec)

	p, err := pipeline.New(s, pipeline.Config{Effect: effect, Warmup: true})
	require.NoError(t, err)
	require.NoError(t, p.OnSurfaceChanged(ctx, 4, 4))

	p.Submit(solid(4, 4, color.Black))
	require.NoError(t, p.OnDrawFrame(ctx))
	p.Submit(solid(4, 4, color.Black))
	require.NoError(t, p.OnDrawFrame(ctx))

	require.NoError(t, p.OnSurfaceChanged(ctx, 8, 8))
	p.Submit(solid(4, 4, color.Black))
	require.NoError(t, p.OnDrawFrame(ctx))

	var sizes [][2]int
	for _, c := range processCalls(rec) {
		sizes = append(sizes, [2]int{c.Width, c.Height})
	}
	assert.Equal(t, [][2]int{{1, 1}, {4, 4}, {4, 4}, {1, 1}, {4, 4}}, sizes)
	assert.Equal(t, uint64(2), p.Stats().Warmups)
	assert.Equal(t, uint64(3), p.Stats().Processed)
}

func TestEffectLoadFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	rec := &enginetest.Recorder{Errors: map[string]error{
		"load_effect": engine.Errorf(engine.KindEffectLoad, "load_effect", "no such effect"),
	}}
	s := newSession(t, rec)

	p, err := pipeline.New(s, pipeline.Config{Effect: "effects/Missing"})
	require.NoError(t, err)

	p.Submit(solid(2, 2, color.White))
	require.NoError(t, p.OnDrawFrame(ctx))

	res := <-p.Results()
	require.Error(t, res.EffectErr)
	assert.Equal(t, engine.KindEffectLoad, engine.KindOf(res.EffectErr))
	assert.Equal(t, image.Rect(0, 0, 2, 2), res.Image.Bounds())
}

func TestFatalEffectLoadAbortsFrame(t *testing.T) {
	ctx := context.Background()
	rec := &enginetest.Recorder{Errors: map[string]error{
		"load_effect": engine.Errorf(engine.KindProcessing, "load_effect", "context lost"),
	}}
	s := newSession(t, rec)

	p, err := pipeline.New(s, pipeline.Config{Effect: effect, Warmup: true})
	require.NoError(t, err)

	p.Submit(solid(2, 2, color.White))
	err = p.OnDrawFrame(ctx)
	require.Error(t, err)
	assert.Equal(t, engine.KindProcessing, engine.KindOf(err))
	assert.Zero(t, rec.Count("process_photo"))
	assert.Equal(t, uint64(0), p.Stats().Processed)
}

func TestProcessingFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	rec := &enginetest.Recorder{Errors: map[string]error{
		"process_photo": engine.ErrNotInitialized,
	}}
	s := newSession(t, rec)

	p, err := pipeline.New(s, pipeline.Config{Effect: effect})
	require.NoError(t, err)

	p.Submit(solid(2, 2, color.White))
	err = p.OnDrawFrame(ctx)
	require.Error(t, err)
	assert.Equal(t, engine.KindProcessing, engine.KindOf(err))
	assert.Equal(t, uint64(0), p.Stats().Processed)
}

func TestWrongSizedEngineOutput(t *testing.T) {
	ctx := context.Background()
	rec := &enginetest.Recorder{Process: func([]byte, int, int) ([]byte, error) {
		return make([]byte, 3), nil
	}}
	s := newSession(t, rec)

	p, err := pipeline.New(s, pipeline.Config{Effect: effect})
	require.NoError(t, err)

	p.Submit(solid(2, 2, color.White))
	err = p.OnDrawFrame(ctx)
	require.ErrorIs(t, err, engine.ErrBufferSize)
	assert.Equal(t, engine.KindProcessing, engine.KindOf(err))
}

func TestFullResultsChannelDropsResult(t *testing.T) {
	ctx := context.Background()
	rec := &enginetest.Recorder{}
	s := newSession(t, rec)

	p, err := pipeline.New(s, pipeline.Config{Effect: effect, ResultBuffer: 1})
	require.NoError(t, err)

	for range 2 {
		p.Submit(solid(1, 1, color.White))
		require.NoError(t, p.OnDrawFrame(ctx))
	}
	assert.Equal(t, uint64(1), p.Stats().ResultDrops)

	p.Close()
	p.Close()
	_, ok := <-p.Results()
	assert.True(t, ok)
	_, ok = <-p.Results()
	assert.False(t, ok)
}

func TestNewValidation(t *testing.T) {
	_, err := pipeline.New(nil, pipeline.Config{Effect: effect})
	require.Error(t, err)

	rec := &enginetest.Recorder{}
	s := newSession(t, rec)
	_, err = pipeline.New(s, pipeline.Config{})
	require.Error(t, err)
}

func TestSubmitThroughView(t *testing.T) {
	rec := &enginetest.Recorder{}
	ctx := context.Background()
	rt, err := session.Initialize(ctx, rec, session.Options{ResourcePath: t.TempDir()})
	require.NoError(t, err)
	s, err := rt.NewSession(ctx)
	require.NoError(t, err)

	p, err := pipeline.New(s, pipeline.Config{Effect: effect, Warmup: true})
	require.NoError(t, err)
	view, err := surface.NewView(s, p, surface.ViewConfig{Width: 100, Height: 100})
	require.NoError(t, err)
	p.SetRenderRequester(view.RequestRender)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- view.Run(runCtx) }()

	p.Submit(image.NewRGBA(image.Rect(0, 0, 100, 100)))

	select {
	case res := <-p.Results():
		assert.Equal(t, 100, res.Image.Bounds().Dx())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	cancel()
	require.NoError(t, <-done)
	p.Close()

	assert.True(t, s.Closed())
	require.NoError(t, rt.Shutdown(ctx))
	assert.Equal(t, surface.StateDestroyed, view.Adapter().State())
}
