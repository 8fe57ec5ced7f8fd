package bridge_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/effect-quickstart/internal/engine"
	"github.com/e7canasta/effect-quickstart/internal/engine/bridge"
	"github.com/e7canasta/effect-quickstart/internal/engine/enginetest"
	"github.com/e7canasta/effect-quickstart/internal/engine/soft"
)

// connect runs Serve over in-memory pipes and returns the client side.
func connect(t *testing.T, eng engine.Engine) *bridge.Client {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	served := make(chan error, 1)
	go func() {
		served <- bridge.Serve(context.Background(), reqR, respW, eng)
		respW.Close()
	}()

	c := bridge.NewClient(respR, reqW, 5*time.Second)
	t.Cleanup(func() {
		require.NoError(t, c.Close())
		require.NoError(t, <-served)
	})
	return c
}

func TestRoundTripPreservesCallOrder(t *testing.T) {
	rec := &enginetest.Recorder{}
	c := connect(t, rec)

	require.NoError(t, c.Initialize("/res", "token"))
	h, err := c.CreateContext()
	require.NoError(t, err)
	require.NoError(t, c.SurfaceCreated(h, 0, 0))
	require.NoError(t, c.SurfaceChanged(h, 100, 100))
	require.NoError(t, c.LoadEffect(h, "effects/Afro"))

	out, err := c.ProcessPhoto(h, make([]byte, 40000), 100, 100)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 40000), out)

	require.NoError(t, c.SurfaceDestroyed(h))
	require.NoError(t, c.DestroyContext(h))
	require.NoError(t, c.Shutdown())

	assert.Equal(t, []string{
		"initialize",
		"create_context",
		"surface_created",
		"surface_changed",
		"load_effect",
		"process_photo",
		"surface_destroyed",
		"destroy_context",
		"shutdown",
	}, rec.Ops())

	calls := rec.Calls()
	assert.Equal(t, "/res", calls[0].Name)
	assert.Equal(t, "effects/Afro", calls[4].Name)
	assert.Equal(t, 100, calls[3].Width)
}

func TestErrorsKeepKindAndSentinel(t *testing.T) {
	rec := &enginetest.Recorder{Errors: map[string]error{
		"load_effect": engine.Errorf(engine.KindEffectLoad, "load_effect", "effect missing"),
	}}
	c := connect(t, rec)

	h, err := c.CreateContext()
	require.NoError(t, err)

	err = c.LoadEffect(h, "effects/Nope")
	require.Error(t, err)
	assert.Equal(t, engine.KindEffectLoad, engine.KindOf(err))
	assert.Contains(t, err.Error(), "effect missing")

	_, err = c.ProcessPhoto(h, make([]byte, 3), 1, 1)
	require.ErrorIs(t, err, engine.ErrBufferSize)
	assert.Equal(t, engine.KindProcessing, engine.KindOf(err))

	err = c.SurfaceCreated(engine.Handle(99), 1, 1)
	require.ErrorIs(t, err, engine.ErrInvalidHandle)
}

func TestInitializeFailureIsEngineInit(t *testing.T) {
	c := connect(t, soft.New())

	err := c.Initialize(t.TempDir(), "")
	require.Error(t, err)
	assert.Equal(t, engine.KindEngineInit, engine.KindOf(err))
}

func TestSoftEngineOverBridge(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "effects", "Mono")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("grayscale: true\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "engine"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(soft.DescriptorPath)), []byte("format: 1\n"), 0o644))

	c := connect(t, soft.New())
	require.NoError(t, c.Initialize(root, "token"))
	h, err := c.CreateContext()
	require.NoError(t, err)
	require.NoError(t, c.SurfaceCreated(h, 0, 0))
	require.NoError(t, c.LoadEffect(h, "effects/Mono"))

	out, err := c.ProcessPhoto(h, []byte{255, 0, 0, 255}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{76, 76, 76, 255}, out)

	require.NoError(t, c.SurfaceDestroyed(h))
	require.NoError(t, c.DestroyContext(h))
	require.NoError(t, c.Shutdown())
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestTimeoutBreaksClient(t *testing.T) {
	// The host reads nothing back: responses never arrive.
	respR, respW := io.Pipe()
	defer respW.Close()

	c := bridge.NewClient(respR, nopWriteCloser{io.Discard}, 20*time.Millisecond)

	_, err := c.CreateContext()
	require.ErrorIs(t, err, bridge.ErrBroken)
	assert.Equal(t, engine.KindProcessing, engine.KindOf(err))

	err = c.Shutdown()
	require.ErrorIs(t, err, bridge.ErrBroken)
}

func TestOversizedFrameRejected(t *testing.T) {
	var in bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], bridge.MaxFrameSize+1)
	in.Write(prefix[:])

	err := bridge.Serve(context.Background(), &in, io.Discard, &enginetest.Recorder{})
	require.ErrorIs(t, err, bridge.ErrFrameTooLarge)
}

func TestServeStopsOnEOF(t *testing.T) {
	err := bridge.Serve(context.Background(), bytes.NewReader(nil), io.Discard, &enginetest.Recorder{})
	require.NoError(t, err)
}
