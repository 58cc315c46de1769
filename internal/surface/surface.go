// Package surface holds the composited output surface shared between
// the pipeline driver (single writer) and its consumers (renderer
// texture upload, recorder).
//
// The surface does not self-report changes: consumers compare
// generations and explicitly mark the surface sampled, which is the
// "needs redraw" handshake the renderer drives on its own clock.
package surface

import (
	"fmt"
	"sync"

	"github.com/care/mattecast/internal/types"
)

// Surface is an RGBA pixel buffer recomputed in place on every
// pipeline tick.
//
// Concurrency contract: the driver mutates Pix between Publish calls;
// consumers must finish reading (or copy) before the next tick
// composites over it. Consumers must not retain the raw Pix slice
// across tick boundaries.
type Surface struct {
	width  int
	height int
	pix    []byte

	mu         sync.Mutex
	generation uint64
	sampled    uint64 // last generation acknowledged by the renderer
}

// New allocates a surface for the given dimensions
func New(width, height int) (*Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid surface dimensions %dx%d", width, height)
	}
	return &Surface{
		width:  width,
		height: height,
		pix:    make([]byte, width*height*types.BytesPerPixel),
	}, nil
}

// Size returns the surface dimensions
func (s *Surface) Size() (int, int) {
	return s.width, s.height
}

// Pix returns the writable pixel buffer. Only the pipeline driver may
// write to it, and only between Publish calls.
func (s *Surface) Pix() []byte {
	return s.pix
}

// Publish marks the current pixel contents as a new composite
// generation, making it visible to consumers.
func (s *Surface) Publish() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return s.generation
}

// Generation returns the latest published generation
func (s *Surface) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Dirty reports whether a generation has been published that the
// renderer has not yet sampled.
func (s *Surface) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation != s.sampled
}

// MarkSampled records that the renderer uploaded the current contents.
// The renderer must call this every time it samples the surface.
func (s *Surface) MarkSampled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampled = s.generation
}

// Snapshot copies the current pixels. Consumers that need the surface
// beyond the current tick must snapshot instead of retaining Pix.
func (s *Surface) Snapshot() []byte {
	out := make([]byte, len(s.pix))
	copy(out, s.pix)
	return out
}
