package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine boundary failures.
type Kind int

const (
	// KindUnknown indicates an unclassified error
	KindUnknown Kind = iota
	// KindProvisioning indicates an I/O failure while unpacking resources
	KindProvisioning
	// KindEngineInit indicates a licensing or native load failure
	KindEngineInit
	// KindEffectLoad indicates a missing or malformed effect
	KindEffectLoad
	// KindProcessing indicates a bad handle or malformed buffer
	KindProcessing
)

// String returns a human-readable name for the kind
func (k Kind) String() string {
	switch k {
	case KindProvisioning:
		return "provisioning"
	case KindEngineInit:
		return "engine_init"
	case KindEffectLoad:
		return "effect_load"
	case KindProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// Fatal reports whether an error of this kind must abort the caller.
// Only effect load failures leave the session usable.
func (k Kind) Fatal() bool {
	return k != KindEffectLoad
}

var (
	// ErrInvalidHandle is returned for a zero, unknown or destroyed handle.
	ErrInvalidHandle = errors.New("invalid engine handle")
	// ErrBufferSize is returned when a pixel buffer does not match its dimensions.
	ErrBufferSize = errors.New("pixel buffer size mismatch")
	// ErrNotInitialized is returned when the engine is used before Initialize.
	ErrNotInitialized = errors.New("engine not initialized")
)

// Error is a classified failure raised at the engine boundary.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failed", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error for op. The format follows fmt.Errorf, so
// %w keeps the cause reachable through errors.Is.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err under kind. It returns nil for a nil err and keeps an
// existing classification untouched.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf walks the error chain and returns the first classification found.
// Buffer and handle sentinels without a wrapper are processing errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrBufferSize) || errors.Is(err, ErrInvalidHandle) {
		return KindProcessing
	}
	return KindUnknown
}

// ParseKind is the inverse of Kind.String. Unrecognized names map to
// KindUnknown.
func ParseKind(s string) Kind {
	switch s {
	case "provisioning":
		return KindProvisioning
	case "engine_init":
		return KindEngineInit
	case "effect_load":
		return KindEffectLoad
	case "processing":
		return KindProcessing
	default:
		return KindUnknown
	}
}
