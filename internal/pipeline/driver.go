// Package pipeline drives the matting loop: pull a frame from the
// source, segment it, composite the matte into the shared surface,
// and feed the recorder. The loop runs on its own ticker at the
// configured rate; it is never coupled to a render callback.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/care/mattecast/internal/matte"
	"github.com/care/mattecast/internal/recorder"
	"github.com/care/mattecast/internal/source"
	"github.com/care/mattecast/internal/surface"
	"github.com/care/mattecast/internal/types"
)

// State is the driver lifecycle state
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateDegraded
	StateStopping
	StateStopped
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Segmenter is the slice of the segmentation engine the driver needs
type Segmenter interface {
	Segment(ctx context.Context, frame *types.Frame) (types.Mask, error)
}

// Config parameterizes one driver instance
type Config struct {
	// FPS is the tick rate (default 25)
	FPS int

	// Progress receives playback fractions in [0,1], non-decreasing.
	// Panics in the callback are recovered and ignored. Optional.
	Progress func(fraction float64)

	// NewRecorder builds the recording session once the source
	// dimensions are known. Nil disables recording.
	NewRecorder func(width, height, fps int) (*recorder.Session, error)
}

// Stats is a health snapshot of the driver
type Stats struct {
	State         string  `json:"state"`
	Ticks         uint64  `json:"ticks"`
	DegradedTicks uint64  `json:"degraded_ticks"`
	SkippedTicks  uint64  `json:"skipped_ticks"`
	Progress      float64 `json:"progress"`
}

// Driver owns one run of the matting pipeline. A driver is single-use:
// once it reaches Stopped it cannot be restarted.
type Driver struct {
	cfg  Config
	src  source.FrameSource
	seg  Segmenter
	comp *matte.Compositor

	state atomic.Int32

	mu   sync.Mutex
	surf *surface.Surface
	rec  *recorder.Session

	frame    types.Frame
	seq      uint64
	progress atomic.Uint64 // float64 bits of the last reported fraction

	ticks         atomic.Uint64
	degradedTicks atomic.Uint64
	skippedTicks  atomic.Uint64
}

// NewDriver wires a driver from its collaborators
func NewDriver(cfg Config, src source.FrameSource, seg Segmenter, comp *matte.Compositor) (*Driver, error) {
	if src == nil || seg == nil || comp == nil {
		return nil, fmt.Errorf("driver requires a source, a segmenter and a compositor")
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 25
	}
	return &Driver{cfg: cfg, src: src, seg: seg, comp: comp}, nil
}

// State returns the current lifecycle state
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Surface returns the shared output surface, or nil before the driver
// has started.
func (d *Driver) Surface() *surface.Surface {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.surf
}

// Progress returns the last reported playback fraction
func (d *Driver) Progress() float64 {
	return floatFromBits(d.progress.Load())
}

// Stats returns a health snapshot
func (d *Driver) Stats() Stats {
	return Stats{
		State:         d.State().String(),
		Ticks:         d.ticks.Load(),
		DegradedTicks: d.degradedTicks.Load(),
		SkippedTicks:  d.skippedTicks.Load(),
		Progress:      d.Progress(),
	}
}

// Run executes the pipeline until the source ends, the context is
// cancelled, or a fatal error occurs.
//
// Run returns exactly one result: the finalized artifact when
// recording was enabled, or nil without error for a clean view-only
// run. Cancellation is a normal stop, not an error.
func (d *Driver) Run(ctx context.Context) (*recorder.Artifact, error) {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return nil, fmt.Errorf("pipeline driver is single-use and was already run")
	}

	if err := d.start(ctx); err != nil {
		d.state.Store(int32(StateStopped))
		d.src.Stop()
		return nil, err
	}

	d.state.Store(int32(StateRunning))
	slog.Info("pipeline running", "fps", d.cfg.FPS)

	interval := time.Second / time.Duration(d.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			slog.Info("pipeline cancelled, stopping")
			break loop

		case <-ticker.C:
			if d.src.IsEnded() {
				d.report(1.0)
				slog.Info("source ended", "ticks", d.ticks.Load())
				break loop
			}
			if err := d.Tick(ctx); err != nil {
				runErr = err
				break loop
			}
		}
	}

	artifact, stopErr := d.stop()
	if runErr != nil {
		return nil, runErr
	}
	return artifact, stopErr
}

// start brings up the source, the surface and the recorder
func (d *Driver) start(ctx context.Context) error {
	if err := d.src.Start(ctx); err != nil {
		return fmt.Errorf("failed to start source: %w", err)
	}

	w, h := d.src.IntrinsicSize()
	surf, err := surface.New(w, h)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.surf = surf
	d.mu.Unlock()

	d.frame = types.Frame{
		Width:  w,
		Height: h,
		Data:   make([]byte, w*h*types.BytesPerPixel),
	}

	if d.cfg.NewRecorder != nil {
		rec, err := d.cfg.NewRecorder(w, h, d.cfg.FPS)
		if err != nil {
			return fmt.Errorf("failed to build recorder: %w", err)
		}
		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("failed to start recorder: %w", err)
		}
		d.mu.Lock()
		d.rec = rec
		d.mu.Unlock()
	}
	return nil
}

// Tick performs one pipeline iteration. Exported so an external
// scheduler can drive the loop instead of Run's ticker; ticks must
// remain strictly sequential.
func (d *Driver) Tick(ctx context.Context) error {
	if err := d.src.Err(); err != nil {
		return fmt.Errorf("source failed: %w", err)
	}
	if d.src.IsEnded() {
		return nil
	}
	if !d.src.CurrentFrameAvailable() {
		d.skippedTicks.Add(1)
		return nil
	}

	if err := d.src.DrawInto(d.frame.Data); err != nil {
		if err == source.ErrNotReady {
			d.skippedTicks.Add(1)
			return nil
		}
		return fmt.Errorf("failed to read frame: %w", err)
	}

	d.seq++
	d.frame.Seq = d.seq
	d.frame.Timestamp = time.Now()
	d.frame.TraceID = uuid.NewString()
	d.ticks.Add(1)

	mask, err := d.seg.Segment(ctx, &d.frame)
	if ctx.Err() != nil {
		// Cancelled mid-segmentation; the late result is discarded
		// whether the worker failed or answered
		return nil
	}
	if err != nil {
		d.degradedTick(err)
		return nil
	}

	if d.State() == StateDegraded {
		d.state.Store(int32(StateRunning))
		slog.Info("pipeline recovered from degraded state")
	}

	if err := d.comp.Composite(d.surf, &d.frame, mask); err != nil {
		return fmt.Errorf("composite failed: %w", err)
	}
	d.surf.Publish()
	d.pushToRecorder()
	d.reportPosition()
	return nil
}

// degradedTick handles a failed segmentation: the previous surface
// contents are republished unchanged and the next tick proceeds
// normally.
func (d *Driver) degradedTick(err error) {
	if d.state.CompareAndSwap(int32(StateRunning), int32(StateDegraded)) {
		slog.Warn("segmentation failed, entering degraded state", "error", err)
	} else {
		slog.Debug("segmentation failed in degraded state", "error", err)
	}
	d.degradedTicks.Add(1)

	// Republish only if a composite ever succeeded; before that the
	// surface holds no frame and viewers would get a blank image
	if d.surf.Generation() > 0 {
		d.surf.Publish()
		d.pushToRecorder()
	}
	d.reportPosition()
}

// stop finalizes the recorder and releases the source
func (d *Driver) stop() (*recorder.Artifact, error) {
	d.state.Store(int32(StateStopping))

	var artifact *recorder.Artifact
	var err error

	d.mu.Lock()
	rec := d.rec
	d.mu.Unlock()

	if rec != nil {
		a, stopErr := rec.Stop()
		if stopErr != nil {
			err = stopErr
		} else {
			artifact = &a
		}
	}

	if srcErr := d.src.Stop(); srcErr != nil {
		slog.Warn("source stop failed", "error", srcErr)
	}

	d.state.Store(int32(StateStopped))
	slog.Info("pipeline stopped",
		"ticks", d.ticks.Load(),
		"degraded_ticks", d.degradedTicks.Load(),
		"skipped_ticks", d.skippedTicks.Load(),
	)
	return artifact, err
}

func (d *Driver) pushToRecorder() {
	d.mu.Lock()
	rec := d.rec
	d.mu.Unlock()
	if rec == nil {
		return
	}
	// Encoder failures are best-effort: the artifact is truncated but
	// valid up to the failure point
	if err := rec.PushFrame(d.surf.Pix()); err != nil {
		slog.Warn("failed to push frame to recorder", "error", err)
	}
}

// reportPosition derives the playback fraction from the source clock
func (d *Driver) reportPosition() {
	current, duration := d.src.Position()
	if duration <= 0 {
		return
	}
	d.report(float64(current) / float64(duration))
}

// report clamps the fraction to [0,1], enforces monotonicity and
// invokes the progress callback with panic recovery.
func (d *Driver) report(fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if last := floatFromBits(d.progress.Load()); fraction < last {
		fraction = last
	}
	d.progress.Store(floatToBits(fraction))

	if d.cfg.Progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("progress callback panicked", "panic", r)
		}
	}()
	d.cfg.Progress(fraction)
}

func floatToBits(f float64) uint64   { return math.Float64bits(f) }
func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }
