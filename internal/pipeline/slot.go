package pipeline

import (
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pending is the image waiting for the next draw tick.
//
// Image MUST NOT be modified after Submit; the render thread reads it
// without copying.
type Pending struct {
	// Seq is assigned at Submit, monotonically increasing from 1.
	Seq uint64
	// TraceID follows the image into its Result and any emitted event.
	TraceID string
	// Image is the decoded bitmap.
	Image image.Image
	// SubmittedAt is when Submit was called.
	SubmittedAt time.Time
}

// slot is a single-slot mailbox with overwrite semantics.
//
//   - put never blocks and replaces an unconsumed image (counted as a drop)
//   - take empties the slot; the render thread owns what it took, so the
//     slot is never shared with an in-flight processing call
type slot struct {
	mu      sync.Mutex
	pending *Pending

	seq       uint64
	submitted uint64
	dropped   uint64
}

func (s *slot) put(img image.Image) Pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		s.dropped++
	}

	s.seq++
	s.submitted++
	p := &Pending{
		Seq:         s.seq,
		TraceID:     uuid.NewString(),
		Image:       img,
		SubmittedAt: time.Now(),
	}
	s.pending = p
	return *p
}

func (s *slot) take() *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pending
	s.pending = nil
	return p
}

func (s *slot) counters() (submitted, dropped uint64, waiting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted, s.dropped, s.pending != nil
}
