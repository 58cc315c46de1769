package segment

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/care/mattecast/internal/types"
)

const (
	// maxResponseSize bounds a single worker response (a mask is one
	// byte per pixel, so 32MB covers 4K frames with ample headroom)
	maxResponseSize = 32 << 20

	// stopGrace is how long Stop waits for the worker to exit before
	// killing the process
	stopGrace = 2 * time.Second
)

// segmentRequest is one frame sent to the worker over stdin
type segmentRequest struct {
	Seq       uint64  `msgpack:"seq"`
	Width     int     `msgpack:"width"`
	Height    int     `msgpack:"height"`
	Threshold float64 `msgpack:"threshold"`
	Data      []byte  `msgpack:"data"` // RGBA pixels at the internal resolution
}

// segmentResponse is one mask received from the worker over stdout
type segmentResponse struct {
	Seq      uint64 `msgpack:"seq"`
	Mask     []byte `msgpack:"mask"` // one byte per pixel, 0 = background
	Positive int    `msgpack:"positive"`
	Error    string `msgpack:"error,omitempty"`
}

// WorkerEngine runs the segmentation model in an external process and
// bridges it over stdin/stdout.
//
// Wire format: each message is a 4-byte little-endian length followed
// by a msgpack-encoded payload, in both directions. The worker's
// stderr is relayed to the service log.
type WorkerEngine struct {
	cfg Config

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	// callMu serializes Segment calls: the protocol is strictly
	// request/response with no pipelining
	callMu sync.Mutex

	respCh chan segmentResponse
	seq    atomic.Uint64

	threshold atomic.Uint64 // float64 bits, hot-reloadable
	isActive  atomic.Bool
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// metrics
	framesSent   atomic.Uint64
	masksRecv    atomic.Uint64
	failures     atomic.Uint64
	totalLatency atomic.Int64 // nanoseconds
}

// NewWorkerEngine creates an engine that will launch cfg.WorkerCmd
func NewWorkerEngine(cfg Config) (*WorkerEngine, error) {
	if cfg.WorkerCmd == "" {
		return nil, fmt.Errorf("segmentation worker command is required")
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("segmentation threshold must be in (0, 1], got %v", cfg.Threshold)
	}

	e := &WorkerEngine{
		cfg:    cfg,
		respCh: make(chan segmentResponse, 4),
	}
	e.threshold.Store(math.Float64bits(cfg.Threshold))
	return e, nil
}

// Start spawns the worker process and its reader goroutines
func (e *WorkerEngine) Start(ctx context.Context) error {
	if e.isActive.Load() {
		return fmt.Errorf("segmentation worker already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	parts := strings.Fields(e.cfg.WorkerCmd)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open worker stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start segmentation worker: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.stdout = stdout
	e.isActive.Store(true)

	e.wg.Add(3)
	go e.readResults()
	go e.logStderr(stderr)
	go e.waitProcess(ctx)

	slog.Info("segmentation worker started",
		"cmd", e.cfg.WorkerCmd,
		"internal_resolution", e.cfg.InternalResolution,
		"threshold", e.cfg.Threshold,
	)
	return nil
}

// SetThreshold updates the probability cutoff for subsequent frames
func (e *WorkerEngine) SetThreshold(threshold float64) {
	if threshold <= 0 || threshold > 1 {
		slog.Warn("ignoring out-of-range threshold update", "threshold", threshold)
		return
	}
	e.threshold.Store(math.Float64bits(threshold))
}

// Segment sends one frame to the worker and waits for its mask.
//
// A result that arrives after ctx is cancelled is discarded: either
// here, or by the stale-sequence check of the next call.
func (e *WorkerEngine) Segment(ctx context.Context, frame *types.Frame) (types.Mask, error) {
	if !e.isActive.Load() {
		return nil, fmt.Errorf("segmentation worker not running")
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	e.callMu.Lock()
	defer e.callMu.Unlock()

	factor := scaleFactor(e.cfg.InternalResolution)
	data, w, h := downscaleRGBA(frame.Data, frame.Width, frame.Height, factor)

	seq := e.seq.Add(1)
	req := segmentRequest{
		Seq:       seq,
		Width:     w,
		Height:    h,
		Threshold: math.Float64frombits(e.threshold.Load()),
		Data:      data,
	}

	started := time.Now()
	if err := e.send(&req); err != nil {
		e.failures.Add(1)
		return nil, fmt.Errorf("failed to send frame %d to worker: %w", frame.Seq, err)
	}
	e.framesSent.Add(1)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case resp, ok := <-e.respCh:
			if !ok {
				return nil, fmt.Errorf("segmentation worker exited")
			}
			if resp.Seq < seq {
				// Response to a call that was cancelled mid-flight
				slog.Debug("discarding stale segmentation result",
					"got_seq", resp.Seq,
					"want_seq", seq,
				)
				continue
			}
			if resp.Error != "" {
				e.failures.Add(1)
				return nil, fmt.Errorf("segmentation worker error: %s", resp.Error)
			}
			if len(resp.Mask) != w*h {
				e.failures.Add(1)
				return nil, fmt.Errorf("worker mask size mismatch: got %d entries, want %d",
					len(resp.Mask), w*h)
			}

			e.masksRecv.Add(1)
			e.totalLatency.Add(int64(time.Since(started)))

			return upscaleMask(resp.Mask, w, h, frame.Width, frame.Height), nil
		}
	}
}

// send writes one length-prefixed msgpack message to the worker
func (e *WorkerEngine) send(req *segmentRequest) error {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := e.stdin.Write(header[:]); err != nil {
		return err
	}
	if _, err := e.stdin.Write(payload); err != nil {
		return err
	}
	return nil
}

// readResults decodes worker responses until stdout closes
func (e *WorkerEngine) readResults() {
	defer e.wg.Done()
	defer close(e.respCh)

	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(e.stdout, header); err != nil {
			if err != io.EOF {
				slog.Warn("segmentation worker stdout read error", "error", err)
			}
			return
		}

		length := binary.LittleEndian.Uint32(header)
		if length == 0 || length > maxResponseSize {
			slog.Error("segmentation worker response too large, stopping reader",
				"length", length,
			)
			return
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(e.stdout, payload); err != nil {
			slog.Warn("segmentation worker payload read error", "error", err)
			return
		}

		var resp segmentResponse
		if err := msgpack.Unmarshal(payload, &resp); err != nil {
			slog.Warn("failed to decode worker response, skipping",
				"error", err,
				"bytes", length,
			)
			continue
		}

		e.respCh <- resp
	}
}

// logStderr maps worker log lines onto slog levels
func (e *WorkerEngine) logStderr(stderr io.Reader) {
	defer e.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			slog.Error("segmentation worker", "output", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			slog.Warn("segmentation worker", "output", line)
		default:
			slog.Debug("segmentation worker", "output", line)
		}
	}
}

// waitProcess reaps the worker process to avoid zombies
func (e *WorkerEngine) waitProcess(ctx context.Context) {
	defer e.wg.Done()

	err := e.cmd.Wait()
	e.isActive.Store(false)

	if err != nil {
		select {
		case <-ctx.Done():
			slog.Debug("segmentation worker exited on shutdown")
		default:
			slog.Error("segmentation worker exited unexpectedly", "error", err)
		}
	}
}

// Stop shuts down the worker, killing it after a grace period
func (e *WorkerEngine) Stop() error {
	e.stopOnce.Do(func() {
		if e.stdin != nil {
			// Closing stdin signals the worker to exit gracefully
			e.stdin.Close()
		}

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(stopGrace):
			slog.Warn("segmentation worker did not exit in time, killing")
			if e.cmd != nil && e.cmd.Process != nil {
				e.cmd.Process.Kill()
			}
			<-done
		}

		if e.cancel != nil {
			e.cancel()
		}
		e.isActive.Store(false)

		slog.Info("segmentation worker stopped",
			"frames_sent", e.framesSent.Load(),
			"masks_received", e.masksRecv.Load(),
			"failures", e.failures.Load(),
		)
	})
	return nil
}

// Stats returns operational counters for health reporting
func (e *WorkerEngine) Stats() WorkerStats {
	sent := e.framesSent.Load()
	recv := e.masksRecv.Load()
	var avgLatency float64
	if recv > 0 {
		avgLatency = float64(e.totalLatency.Load()) / float64(recv) / float64(time.Millisecond)
	}
	return WorkerStats{
		FramesSent:    sent,
		MasksReceived: recv,
		Failures:      e.failures.Load(),
		AvgLatencyMS:  avgLatency,
		IsActive:      e.isActive.Load(),
	}
}

// WorkerStats contains health metrics for the segmentation worker
type WorkerStats struct {
	FramesSent    uint64  `json:"frames_sent"`
	MasksReceived uint64  `json:"masks_received"`
	Failures      uint64  `json:"failures"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	IsActive      bool    `json:"is_active"`
}
