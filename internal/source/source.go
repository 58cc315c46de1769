// Package source provides frame acquisition for the matting pipeline.
//
// A FrameSource wraps a playable video resource and exposes the most
// recently decoded frame on demand. Sources are pull-based: the
// pipeline driver copies the current frame out once per tick, and
// frames decoded between ticks are dropped rather than queued.
package source

import (
	"context"
	"errors"
	"time"
)

// Default dimensions used when a source never reports its intrinsic
// size within the configured wait.
const (
	FallbackWidth  = 640
	FallbackHeight = 360
)

// ErrNotReady is returned by DrawInto until the source has decoded its
// first frame and knows its dimensions.
var ErrNotReady = errors.New("source not ready: no decoded frame available")

// FrameSource supplies decoded RGBA frames on demand.
//
// Implementations must guarantee:
//   - Start() begins playback and returns once the decode clock is running
//   - DrawInto() never blocks waiting for a frame (ErrNotReady instead)
//   - Pause()/Resume() do not lose audio/video sync
//   - Stop() is idempotent
type FrameSource interface {
	// Start begins playback. The decode clock starts advancing.
	Start(ctx context.Context) error

	// Pause suspends the decode clock without releasing resources.
	Pause() error

	// Resume continues playback after Pause.
	Resume() error

	// Stop releases all source resources. Idempotent.
	Stop() error

	// CurrentFrameAvailable reports whether a decoded frame can be drawn.
	CurrentFrameAvailable() bool

	// IntrinsicSize returns the source dimensions in pixels. Until real
	// dimensions are known it reports the configured fallback after a
	// bounded wait.
	IntrinsicSize() (width, height int)

	// IsEnded reports whether playback reached the end of the resource.
	IsEnded() bool

	// Err returns the fatal source error, if any. A non-nil error means
	// the resource failed to load or decode and the pipeline instance
	// cannot continue.
	Err() error

	// DrawInto copies the current decoded frame into buf, which must be
	// sized width*height*4 for the intrinsic dimensions.
	DrawInto(buf []byte) error

	// Position returns the playback clock: current position and total
	// duration. Duration may be zero when the resource length is unknown.
	Position() (current, duration time.Duration)
}
