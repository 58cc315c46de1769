package types

import (
	"fmt"
	"time"
)

// BytesPerPixel is the size of one RGBA pixel.
const BytesPerPixel = 4

// Frame represents a single decoded video frame in RGBA format.
//
// A Frame is logically immutable once produced: the pipeline tick that
// created it owns it, and the next tick supersedes it rather than
// mutating it in place.
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the raw RGBA pixel data (Width*Height*4 bytes)
	Data []byte
	// TraceID is a unique identifier for tracing a frame across the pipeline
	TraceID string
}

// PixelCount returns the number of pixels in the frame.
func (f *Frame) PixelCount() int {
	return f.Width * f.Height
}

// Validate checks that the data buffer matches the declared dimensions.
func (f *Frame) Validate() error {
	want := f.Width * f.Height * BytesPerPixel
	if len(f.Data) != want {
		return fmt.Errorf("frame buffer size mismatch: got %d bytes, want %d (%dx%d RGBA)",
			len(f.Data), want, f.Width, f.Height)
	}
	return nil
}

// Mask is a per-pixel binary person-segmentation mask, one entry per
// pixel of the frame it was produced from. Entries are already
// thresholded by the segmentation engine: 0 means background, any
// non-zero value means person.
type Mask []uint8

// PositiveCount returns the number of person-positive entries.
func (m Mask) PositiveCount() int {
	n := 0
	for _, v := range m {
		if v != 0 {
			n++
		}
	}
	return n
}

// Matches reports whether the mask is aligned to a width x height pixel grid.
func (m Mask) Matches(width, height int) bool {
	return len(m) == width*height
}
