package matte

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/care/mattecast/internal/surface"
	"github.com/care/mattecast/internal/types"
)

// DefaultFallbackMinPixels is the default person-pixel count below
// which a mask is treated as a transient segmentation failure. Tunable
// via configuration; the value has no derivation beyond field
// calibration.
const DefaultFallbackMinPixels = 100

// Compositor combines frames and masks into the output surface.
//
// It owns no buffers besides a flip scratch area; the destination is
// always the caller's surface, overwritten in place each tick.
type Compositor struct {
	policy       Policy
	flipVertical bool

	fallbackMinPixels atomic.Int64

	flipBuf []byte
}

// NewCompositor creates a compositor with the given policy.
// flipVertical mirrors sources whose physical camera orientation is
// inverted; it is applied to the frame before any masking.
func NewCompositor(policy Policy, flipVertical bool, fallbackMinPixels int) *Compositor {
	c := &Compositor{
		policy:       policy,
		flipVertical: flipVertical,
	}
	if fallbackMinPixels <= 0 {
		fallbackMinPixels = DefaultFallbackMinPixels
	}
	c.fallbackMinPixels.Store(int64(fallbackMinPixels))
	return c
}

// Policy returns the active background policy
func (c *Compositor) Policy() Policy {
	return c.policy
}

// SetFallbackMinPixels updates the failed-mask threshold without restart
func (c *Compositor) SetFallbackMinPixels(n int) {
	if n < 0 {
		slog.Warn("ignoring negative fallback threshold", "value", n)
		return
	}
	c.fallbackMinPixels.Store(int64(n))
}

// Composite writes the matted frame into dst.
//
// The mask is treated as already binary: any non-zero entry is person.
// When fewer than the fallback threshold of entries are positive the
// mask is considered failed for this frame and the (possibly flipped)
// frame is emitted unmodified, avoiding a flash of an almost fully
// green or transparent surface.
//
// A size mismatch between frame, mask and surface is a programming
// error and fails loudly.
func (c *Compositor) Composite(dst *surface.Surface, frame *types.Frame, mask types.Mask) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	w, h := dst.Size()
	if w != frame.Width || h != frame.Height {
		return fmt.Errorf("surface size %dx%d does not match frame %dx%d",
			w, h, frame.Width, frame.Height)
	}
	if !mask.Matches(frame.Width, frame.Height) {
		return fmt.Errorf("mask size mismatch: got %d entries, want %d (%dx%d)",
			len(mask), frame.PixelCount(), frame.Width, frame.Height)
	}

	src := frame.Data
	if c.flipVertical {
		src = c.flip(src, frame.Width, frame.Height)
	}

	out := dst.Pix()

	if int64(mask.PositiveCount()) < c.fallbackMinPixels.Load() {
		// Transient segmentation failure (occlusion, empty frame):
		// emit the frame as-is instead of a mostly-empty matte
		copy(out, src)
		return nil
	}

	switch c.policy.Mode {
	case ModeSolid:
		bg := c.policy.Color
		for i, px := 0, 0; i < len(mask); i, px = i+1, px+4 {
			if mask[i] != 0 {
				out[px] = src[px]
				out[px+1] = src[px+1]
				out[px+2] = src[px+2]
			} else {
				out[px] = bg.R
				out[px+1] = bg.G
				out[px+2] = bg.B
			}
			out[px+3] = 255
		}

	case ModeTransparent:
		for i, px := 0, 0; i < len(mask); i, px = i+1, px+4 {
			out[px] = src[px]
			out[px+1] = src[px+1]
			out[px+2] = src[px+2]
			if mask[i] != 0 {
				out[px+3] = 255
			} else {
				out[px+3] = 0
			}
		}

	default:
		return fmt.Errorf("unknown matte mode %d", c.policy.Mode)
	}

	return nil
}

// flip reverses the row order of an RGBA buffer into the scratch area
func (c *Compositor) flip(src []byte, width, height int) []byte {
	if len(c.flipBuf) != len(src) {
		c.flipBuf = make([]byte, len(src))
	}
	stride := width * types.BytesPerPixel
	for y := 0; y < height; y++ {
		srcRow := src[y*stride : (y+1)*stride]
		dstRow := c.flipBuf[(height-1-y)*stride : (height-y)*stride]
		copy(dstRow, srcRow)
	}
	return c.flipBuf
}
