package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// VideoConfig configures a GStreamer-backed video source
type VideoConfig struct {
	// URI is the video resource (file://, http://, https://)
	URI string
	// FPS is the output frame rate. The pipeline rate-converts to this,
	// bounding downstream segmentation cost.
	FPS int
	// DimensionWait bounds how long IntrinsicSize waits for real
	// dimensions before reporting the fallback (default 3s)
	DimensionWait time.Duration
}

// VideoSource decodes a video URI through GStreamer and keeps only the
// latest frame in a single-slot mailbox.
//
// Pipeline structure:
//
//	uridecodebin → videoconvert → videoscale → videorate →
//	capsfilter(RGBA,fps) → appsink
//
// The appsink is configured with max-buffers=1 and drop=true so a slow
// consumer never causes queuing: DrawInto always sees the most recent
// decoded frame.
type VideoSource struct {
	cfg VideoConfig

	pipeline *gst.Pipeline
	appsink  *app.Sink

	mu        sync.RWMutex
	latest    []byte
	width     int
	height    int
	haveFrame bool
	fatalErr  error

	frameSeq  atomic.Uint64
	ended     atomic.Bool
	stopped   atomic.Bool
	startedAt time.Time
	duration  atomic.Int64 // nanoseconds, 0 = unknown

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewVideoSource creates a video source for the given URI
func NewVideoSource(cfg VideoConfig) (*VideoSource, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("video source requires a uri")
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("video source fps must be > 0, got %d", cfg.FPS)
	}
	if cfg.DimensionWait == 0 {
		cfg.DimensionWait = 3 * time.Second
	}
	return &VideoSource{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}, nil
}

// Start builds the decode pipeline and begins playback
func (s *VideoSource) Start(ctx context.Context) error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	decodebin, err := gst.NewElement("uridecodebin")
	if err != nil {
		return fmt.Errorf("failed to create uridecodebin: %w", err)
	}
	decodebin.SetProperty("uri", s.cfg.URI)

	videoconvert, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("failed to create videoconvert: %w", err)
	}

	videoscale, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("failed to create videoscale: %w", err)
	}

	// videorate converts the source rate to the configured tick rate so
	// the segmentation engine is never asked for more masks than the
	// pipeline budget allows
	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return fmt.Errorf("failed to create videorate: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("failed to create capsfilter: %w", err)
	}
	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGBA,framerate=%d/1", s.cfg.FPS,
	))
	capsfilter.SetProperty("caps", caps)

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	// sync=true keeps delivery paced by the decode clock so Position()
	// tracks real playback time
	appsink.SetProperty("sync", true)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(sink)
		},
	})

	pipeline.AddMany(decodebin, videoconvert, videoscale, videorate, capsfilter, appsink.Element)

	if err := gst.ElementLinkMany(videoconvert, videoscale, videorate, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	// uridecodebin exposes pads only after the demuxer has negotiated,
	// so the video branch is linked in the pad-added callback. Non-video
	// pads (audio) simply fail to link here; the recorder taps audio in
	// its own pipeline.
	decodebin.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		sinkPad := videoconvert.GetStaticPad("sink")
		if sinkPad == nil {
			return
		}
		if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
			slog.Debug("source: skipping non-video pad", "pad", srcPad.GetName(), "ret", ret)
			return
		}
		slog.Debug("source: video pad linked", "pad", srcPad.GetName())
	})

	s.pipeline = pipeline
	s.appsink = appsink
	s.startedAt = time.Now()

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	s.wg.Add(1)
	go s.watchBus(ctx)

	slog.Info("video source started", "uri", s.cfg.URI, "fps", s.cfg.FPS)
	return nil
}

// watchBus processes pipeline bus messages until EOS, error or stop
func (s *VideoSource) watchBus(ctx context.Context) {
	defer s.wg.Done()

	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("video source reached end of stream", "uri", s.cfg.URI)
			s.ended.Store(true)
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("video source pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			s.mu.Lock()
			s.fatalErr = fmt.Errorf("source pipeline error: %w", gerr)
			s.mu.Unlock()
			s.ended.Store(true)
			return

		case gst.MessageStateChanged:
			if msg.Source() == s.pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePlaying {
					s.queryDuration()
				}
			}
		}
	}
}

// queryDuration asks the pipeline for the total stream length.
// Live or unbounded resources legitimately report no duration.
func (s *VideoSource) queryDuration() {
	if ok, dur := s.pipeline.QueryDuration(gst.FormatTime); ok && dur > 0 {
		s.duration.Store(dur)
		slog.Debug("video source duration detected",
			"duration", time.Duration(dur).String(),
		)
	}
}

// onNewSample copies the newest decoded frame into the mailbox
func (s *VideoSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()

	if len(data) == 0 {
		return gst.FlowOK
	}

	s.mu.Lock()
	if s.width == 0 {
		s.readDimensions()
	}
	if cap(s.latest) < len(data) {
		s.latest = make([]byte, len(data))
	}
	s.latest = s.latest[:len(data)]
	copy(s.latest, data)
	s.haveFrame = true
	s.mu.Unlock()

	s.frameSeq.Add(1)
	return gst.FlowOK
}

// readDimensions extracts width/height from the negotiated sink caps.
// Caller holds s.mu.
func (s *VideoSource) readDimensions() {
	pad := s.appsink.Element.GetStaticPad("sink")
	if pad == nil {
		return
	}
	caps := pad.GetCurrentCaps()
	if caps == nil || caps.GetSize() == 0 {
		return
	}
	structure := caps.GetStructureAt(0)
	if val, err := structure.GetValue("width"); err == nil {
		if w, ok := val.(int); ok {
			s.width = w
		}
	}
	if val, err := structure.GetValue("height"); err == nil {
		if h, ok := val.(int); ok {
			s.height = h
		}
	}
	slog.Info("video source dimensions negotiated",
		"width", s.width,
		"height", s.height,
	)
}

// CurrentFrameAvailable reports whether DrawInto will succeed
func (s *VideoSource) CurrentFrameAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.haveFrame
}

// IntrinsicSize returns the negotiated dimensions. It waits up to the
// configured dimension wait for caps negotiation, then falls back to
// 640x360 so the pipeline can start regardless.
func (s *VideoSource) IntrinsicSize() (int, int) {
	deadline := s.startedAt.Add(s.cfg.DimensionWait)
	for {
		s.mu.RLock()
		w, h := s.width, s.height
		s.mu.RUnlock()

		if w > 0 && h > 0 {
			return w, h
		}
		if s.startedAt.IsZero() || time.Now().After(deadline) {
			slog.Warn("video source dimensions unknown, using fallback",
				"width", FallbackWidth,
				"height", FallbackHeight,
			)
			return FallbackWidth, FallbackHeight
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// IsEnded reports whether the resource finished playing or failed
func (s *VideoSource) IsEnded() bool {
	return s.ended.Load()
}

// Err returns the fatal pipeline error, if any
func (s *VideoSource) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fatalErr
}

// DrawInto copies the current frame into the caller's buffer
func (s *VideoSource) DrawInto(buf []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.haveFrame {
		return ErrNotReady
	}
	if len(buf) != len(s.latest) {
		return fmt.Errorf("draw buffer size mismatch: got %d bytes, want %d",
			len(buf), len(s.latest))
	}
	copy(buf, s.latest)
	return nil
}

// Position derives the playback clock from the delivered frame count.
// The capsfilter pins delivery to the configured rate, so frame count
// maps linearly onto stream time even across pause/resume.
func (s *VideoSource) Position() (time.Duration, time.Duration) {
	current := time.Duration(s.frameSeq.Load()) * time.Second / time.Duration(s.cfg.FPS)
	total := time.Duration(s.duration.Load())
	if total > 0 && current > total {
		current = total
	}
	return current, total
}

// Pause suspends the decode clock
func (s *VideoSource) Pause() error {
	if s.pipeline == nil {
		return fmt.Errorf("source not started")
	}
	if err := s.pipeline.SetState(gst.StatePaused); err != nil {
		return fmt.Errorf("failed to pause source: %w", err)
	}
	return nil
}

// Resume continues playback after Pause
func (s *VideoSource) Resume() error {
	if s.pipeline == nil {
		return fmt.Errorf("source not started")
	}
	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to resume source: %w", err)
	}
	return nil
}

// Stop tears down the pipeline. Safe to call multiple times.
func (s *VideoSource) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	close(s.stopCh)
	s.wg.Wait()

	if s.pipeline != nil {
		if err := s.pipeline.SetState(gst.StateNull); err != nil {
			return fmt.Errorf("failed to stop source pipeline: %w", err)
		}
	}

	slog.Info("video source stopped",
		"uri", s.cfg.URI,
		"frames_delivered", s.frameSeq.Load(),
	)
	return nil
}
