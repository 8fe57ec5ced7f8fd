// Package bridge runs an engine.Engine in a separate host process.
//
// Client implements engine.Engine by sending one Request per call over a
// byte stream and waiting for the matching Response. Serve is the host
// side. Messages are MsgPack with length-prefix framing: 4 bytes big-endian
// length followed by the encoded message.
package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/effect-quickstart/internal/engine"
)

// MaxFrameSize bounds a single message (a 8192x8192 frame plus headers).
const MaxFrameSize = 8192*8192*engine.BytesPerPixel + 4096

// ErrFrameTooLarge is returned for a length prefix above MaxFrameSize.
var ErrFrameTooLarge = errors.New("bridge frame too large")

// Operation names on the wire.
const (
	OpInitialize       = "initialize"
	OpShutdown         = "shutdown"
	OpCreateContext    = "create_context"
	OpDestroyContext   = "destroy_context"
	OpSurfaceCreated   = "surface_created"
	OpSurfaceChanged   = "surface_changed"
	OpSurfaceDestroyed = "surface_destroyed"
	OpLoadEffect       = "load_effect"
	OpProcessPhoto     = "process_photo"
)

// Request is one engine call.
type Request struct {
	ID     uint64 `msgpack:"id"`
	Op     string `msgpack:"op"`
	Handle int64  `msgpack:"handle,omitempty"`
	Width  int    `msgpack:"width,omitempty"`
	Height int    `msgpack:"height,omitempty"`
	// Name carries the resource path for initialize and the effect for
	// load_effect.
	Name   string `msgpack:"name,omitempty"`
	Token  string `msgpack:"token,omitempty"`
	Pixels []byte `msgpack:"pixels,omitempty"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID     uint64     `msgpack:"id"`
	Handle int64      `msgpack:"handle,omitempty"`
	Pixels []byte     `msgpack:"pixels,omitempty"`
	Error  *WireError `msgpack:"error,omitempty"`
}

// WireError carries a classified engine error across the process boundary.
type WireError struct {
	Kind    string `msgpack:"kind"`
	Op      string `msgpack:"op"`
	Message string `msgpack:"message"`
	// Sentinel names a well-known cause so errors.Is keeps working on the
	// client side.
	Sentinel string `msgpack:"sentinel,omitempty"`
}

var sentinels = map[string]error{
	"invalid_handle":  engine.ErrInvalidHandle,
	"buffer_size":     engine.ErrBufferSize,
	"not_initialized": engine.ErrNotInitialized,
}

func toWire(op string, err error) *WireError {
	if err == nil {
		return nil
	}
	we := &WireError{
		Kind:    engine.KindOf(err).String(),
		Op:      op,
		Message: err.Error(),
	}
	var e *engine.Error
	if errors.As(err, &e) && e.Op != "" {
		we.Op = e.Op
	}
	for name, s := range sentinels {
		if errors.Is(err, s) {
			we.Sentinel = name
			break
		}
	}
	return we
}

func (we *WireError) err() error {
	if we == nil {
		return nil
	}
	cause := errors.New(we.Message)
	if s, ok := sentinels[we.Sentinel]; ok {
		cause = fmt.Errorf("%w (remote: %s)", s, we.Message)
	}
	return &engine.Error{Kind: engine.ParseKind(we.Kind), Op: we.Op, Err: cause}
}

// writeFrame encodes v and writes it with its length prefix.
func writeFrame(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write msgpack data: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed message into v. A clean end of stream
// before the prefix returns io.EOF.
func readFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("failed to read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("failed to read msgpack data: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}
