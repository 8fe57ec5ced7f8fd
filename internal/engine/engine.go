// Package engine defines the capability boundary to the external
// face-effect engine.
//
// The engine itself is opaque: effect processing, GPU work and model
// inference all happen behind this interface. Callers in this module never
// touch an Engine directly except through session.Session, which owns the
// render thread every call must run on.
package engine

import "fmt"

// Handle identifies one engine instance (an effect player).
// The zero Handle is never valid.
type Handle int64

// Valid reports whether h can refer to a live engine instance.
func (h Handle) Valid() bool { return h != 0 }

// String returns a short form for logs.
func (h Handle) String() string { return fmt.Sprintf("ep-%d", int64(h)) }

// BytesPerPixel is the layout of every pixel buffer crossing the boundary.
const BytesPerPixel = 4

// Engine is the external effect engine as a capability interface.
//
// Contract:
//   - Initialize is called once per process before CreateContext.
//   - Shutdown is called once, after every handle was destroyed.
//   - Every call taking a Handle happens on the thread owning the graphics
//     context for that handle; implementations may rely on it.
//   - Pixel buffers are tightly packed, 4 bytes per pixel, row-major, and
//     exactly width*height*4 bytes long.
//
// Implementations return errors classified with the Kind values in this
// package. Any error from ProcessPhoto is fatal for the handle.
type Engine interface {
	// Initialize loads resources from path and validates the client token.
	Initialize(path, token string) error

	// Shutdown releases process-wide engine state.
	Shutdown() error

	// CreateContext creates one effect player and returns its handle.
	CreateContext() (Handle, error)

	// DestroyContext releases h. h must not be used afterwards.
	DestroyContext(h Handle) error

	// SurfaceCreated binds h to a new render surface. 0x0 means the size is
	// not known yet and arrives with SurfaceChanged.
	SurfaceCreated(h Handle, width, height int) error

	// SurfaceChanged resizes the render targets of h.
	SurfaceChanged(h Handle, width, height int) error

	// SurfaceDestroyed releases surface-bound resources of h.
	SurfaceDestroyed(h Handle) error

	// LoadEffect selects the effect used by the next ProcessPhoto.
	LoadEffect(h Handle, name string) error

	// ProcessPhoto runs one frame through the loaded effect and returns a
	// new buffer of the same dimensions. Ownership of the result moves to
	// the caller.
	ProcessPhoto(h Handle, pixels []byte, width, height int) ([]byte, error)
}

// CheckBuffer validates that pixels holds exactly one width x height frame.
func CheckBuffer(pixels []byte, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrBufferSize, width, height)
	}
	if want := width * height * BytesPerPixel; len(pixels) != want {
		return fmt.Errorf("%w: got %d bytes, want %d for %dx%d",
			ErrBufferSize, len(pixels), want, width, height)
	}
	return nil
}
