// Package segment provides the person-segmentation engine used by the
// matting pipeline.
//
// The engine itself is an external ML worker process; this package
// manages its lifecycle and speaks its wire protocol. Frames go out at
// a configurable internal resolution to bound inference cost, and the
// returned masks are scaled back to the frame's pixel grid.
package segment

import (
	"context"

	"github.com/care/mattecast/internal/types"
)

// Engine produces a per-pixel person mask for a frame.
//
// Calls must not overlap per engine instance: the pipeline driver
// issues strictly sequential requests and waits for each result before
// the next tick.
type Engine interface {
	// Start launches the engine
	Start(ctx context.Context) error
	// Segment returns a mask aligned to the frame's pixel grid. The mask
	// is already binary: the engine applies the configured threshold.
	Segment(ctx context.Context, frame *types.Frame) (types.Mask, error)
	// SetThreshold updates the person-probability threshold without restart
	SetThreshold(threshold float64)
	// Stop shuts the engine down. Idempotent.
	Stop() error
}

// Config contains segmentation settings passed through from the caller
type Config struct {
	// WorkerCmd launches the segmentation worker process
	WorkerCmd string
	// InternalResolution selects the inference resolution: low, medium,
	// high or full (default medium)
	InternalResolution string
	// Threshold is the person-probability cutoff applied by the worker
	Threshold float64
}
