package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/e7canasta/effect-quickstart/internal/engine"
)

// Serve answers Requests read from r with Responses written to w until r
// reaches end of stream or ctx is done. All engine calls run on one locked
// OS thread, in arrival order. A clean end of stream returns nil.
func Serve(ctx context.Context, r io.Reader, w io.Writer, eng engine.Engine) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	slog.Info("bridge: serving engine")

	var served uint64
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		var req Request
		if err := readFrame(r, &req); err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("bridge: request stream closed", "served", served)
				return nil
			}
			return fmt.Errorf("bridge: %w", err)
		}

		resp := dispatch(eng, req)
		if resp.Error != nil {
			slog.Debug("bridge: call failed",
				"id", req.ID,
				"op", req.Op,
				"kind", resp.Error.Kind,
				"error", resp.Error.Message,
			)
		}
		if err := writeFrame(w, &resp); err != nil {
			return fmt.Errorf("bridge: %w", err)
		}
		served++
	}
}

func dispatch(eng engine.Engine, req Request) Response {
	resp := Response{ID: req.ID}
	h := engine.Handle(req.Handle)

	var err error
	switch req.Op {
	case OpInitialize:
		err = eng.Initialize(req.Name, req.Token)
	case OpShutdown:
		err = eng.Shutdown()
	case OpCreateContext:
		h, err = eng.CreateContext()
		resp.Handle = int64(h)
	case OpDestroyContext:
		err = eng.DestroyContext(h)
	case OpSurfaceCreated:
		err = eng.SurfaceCreated(h, req.Width, req.Height)
	case OpSurfaceChanged:
		err = eng.SurfaceChanged(h, req.Width, req.Height)
	case OpSurfaceDestroyed:
		err = eng.SurfaceDestroyed(h)
	case OpLoadEffect:
		err = eng.LoadEffect(h, req.Name)
	case OpProcessPhoto:
		resp.Pixels, err = eng.ProcessPhoto(h, req.Pixels, req.Width, req.Height)
	default:
		err = engine.Errorf(engine.KindUnknown, req.Op, "unknown bridge operation %q", req.Op)
	}

	resp.Error = toWire(req.Op, err)
	return resp
}
