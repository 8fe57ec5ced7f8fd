package surface_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/effect-quickstart/internal/engine/enginetest"
	"github.com/e7canasta/effect-quickstart/internal/session"
	"github.com/e7canasta/effect-quickstart/internal/surface"
)

func newSession(t *testing.T) (*session.Runtime, *session.Session, *enginetest.Recorder) {
	t.Helper()
	rec := &enginetest.Recorder{}
	rt, err := session.Initialize(context.Background(), rec, session.Options{ResourcePath: t.TempDir()})
	require.NoError(t, err)
	s, err := rt.NewSession(context.Background())
	require.NoError(t, err)
	return rt, s, rec
}

func TestAdapterTransitions(t *testing.T) {
	ctx := context.Background()
	rt, s, rec := newSession(t)
	a := surface.NewAdapter(s)

	assert.Equal(t, surface.StateUncreated, a.State())
	require.ErrorIs(t, a.Changed(ctx, 10, 10), surface.ErrInvalidTransition)

	require.NoError(t, a.Created(ctx, 0, 0))
	assert.Equal(t, surface.StateCreated, a.State())
	require.ErrorIs(t, a.Created(ctx, 0, 0), surface.ErrInvalidTransition)

	require.NoError(t, a.Changed(ctx, 640, 480))
	require.NoError(t, a.Changed(ctx, 1000, 1500))
	assert.Equal(t, surface.StateSized, a.State())
	w, h := a.Size()
	assert.Equal(t, []int{1000, 1500}, []int{w, h})

	require.ErrorIs(t, a.Changed(ctx, -1, 10), surface.ErrInvalidTransition)

	require.NoError(t, a.Destroyed(ctx))
	assert.Equal(t, surface.StateDestroyed, a.State())
	require.NoError(t, a.Destroyed(ctx), "Destroyed is terminal and idempotent")

	require.ErrorIs(t, a.Created(ctx, 0, 0), surface.ErrTerminal)
	require.ErrorIs(t, a.Changed(ctx, 1, 1), surface.ErrTerminal)

	assert.True(t, s.Closed())
	require.NoError(t, rt.Shutdown(ctx))
	assert.Equal(t, []string{
		"initialize",
		"create_context",
		"surface_created",
		"surface_changed",
		"surface_changed",
		"surface_destroyed",
		"destroy_context",
		"shutdown",
	}, rec.Ops())
}

func TestAdapterDestroyedBeforeCreated(t *testing.T) {
	ctx := context.Background()
	_, s, rec := newSession(t)
	a := surface.NewAdapter(s)

	require.NoError(t, a.Destroyed(ctx))
	assert.Zero(t, rec.Count("surface_destroyed"))
	assert.Equal(t, 1, rec.Count("destroy_context"))
}

type fakeRenderer struct {
	mu      sync.Mutex
	events  []string
	draws   atomic.Int32
	drawErr error
}

func (r *fakeRenderer) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *fakeRenderer) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *fakeRenderer) OnSurfaceCreated(context.Context) error { r.add("created"); return nil }

func (r *fakeRenderer) OnSurfaceChanged(_ context.Context, w, h int) error {
	r.add("changed")
	return nil
}

func (r *fakeRenderer) OnDrawFrame(context.Context) error {
	r.draws.Add(1)
	return r.drawErr
}

func TestViewRunAndTeardown(t *testing.T) {
	_, s, rec := newSession(t)
	r := &fakeRenderer{}
	v, err := surface.NewView(s, r, surface.ViewConfig{Width: 100, Height: 50})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()

	v.RequestRender()
	require.Eventually(t, func() bool { return r.draws.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	v.Resize(200, 100)
	v.RequestRender()
	require.Eventually(t, func() bool { return len(r.Events()) == 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, surface.StateDestroyed, v.Adapter().State())
	assert.True(t, s.Closed())
	assert.Equal(t, []string{"created", "changed", "changed"}, r.Events())

	ops := rec.Ops()
	require.GreaterOrEqual(t, len(ops), 2)
	assert.Equal(t, []string{"surface_destroyed", "destroy_context"}, ops[len(ops)-2:])
}

func TestViewStopsOnDrawError(t *testing.T) {
	_, s, rec := newSession(t)
	boom := errors.New("process failed")
	r := &fakeRenderer{drawErr: boom}
	v, err := surface.NewView(s, r, surface.ViewConfig{TickInterval: time.Millisecond})
	require.NoError(t, err)

	err = v.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), r.draws.Load())
	assert.Equal(t, 1, rec.Count("destroy_context"), "teardown runs on failure")
}

func TestNewViewValidation(t *testing.T) {
	_, s, _ := newSession(t)
	_, err := surface.NewView(s, &fakeRenderer{}, surface.ViewConfig{Width: -1})
	require.Error(t, err)
	_, err = surface.NewView(s, nil, surface.ViewConfig{})
	require.Error(t, err)
	require.NoError(t, s.Destroy(context.Background()))
}
