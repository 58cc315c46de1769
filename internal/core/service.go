// Package core wires the mattecast components into one service: it
// owns the projection session, builds the source/segmenter/compositor
// chain, runs the pipeline driver, and fans progress out to the
// control API and the telemetry emitter.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/care/mattecast/internal/capability"
	"github.com/care/mattecast/internal/config"
	"github.com/care/mattecast/internal/control"
	"github.com/care/mattecast/internal/emitter"
	"github.com/care/mattecast/internal/matte"
	"github.com/care/mattecast/internal/pipeline"
	"github.com/care/mattecast/internal/recorder"
	"github.com/care/mattecast/internal/segment"
	"github.com/care/mattecast/internal/session"
	"github.com/care/mattecast/internal/source"
)

// Service is the mattecast orchestrator
type Service struct {
	cfg        *config.Config
	configPath string

	sessions *session.Manager
	caps     *capability.Set

	src     source.FrameSource
	engine  *segment.WorkerEngine
	comp    *matte.Compositor
	driver  *pipeline.Driver
	store   *recorder.Store
	emitter *emitter.MQTTEmitter
	control *control.Server

	started   time.Time
	mu        sync.RWMutex
	isRunning bool
	lastEmit  time.Time

	wg sync.WaitGroup
}

// NewService loads configuration and builds all components that do not
// need the source dimensions.
func NewService(configPath string) (*Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"input", cfg.Input.URI,
		"matte_mode", cfg.Matte.Mode,
		"recorder_enabled", cfg.Recorder.Enabled,
	)

	policy, err := matte.ParsePolicy(cfg.Matte.Mode, cfg.Matte.BackgroundColor)
	if err != nil {
		return nil, err
	}

	engine, err := segment.NewWorkerEngine(segment.Config{
		WorkerCmd:          cfg.Segmentation.WorkerCmd,
		InternalResolution: cfg.Segmentation.InternalResolution,
		Threshold:          cfg.Segmentation.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create segmentation engine: %w", err)
	}

	s := &Service{
		cfg:        cfg,
		configPath: configPath,
		sessions:   session.NewManager(),
		caps:       capability.NewSet(),
		engine:     engine,
		comp:       matte.NewCompositor(policy, cfg.Pipeline.FlipVertical, cfg.Pipeline.FallbackMinPixels),
	}
	s.registerCapabilities()

	if cfg.Recorder.Enabled {
		store, err := recorder.NewStore(cfg.Recorder.OutputDir,
			time.Duration(cfg.Recorder.RetentionMaxAge)*time.Hour)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	if cfg.MQTT.Broker != "" {
		s.emitter = emitter.NewMQTTEmitter(cfg)
	}
	if cfg.Control.Listen != "" {
		s.control = control.NewServer(cfg.Control.Listen, s.healthSnapshot)
	}

	return s, nil
}

// registerCapabilities installs the environment probes
func (s *Service) registerCapabilities() {
	s.caps.Register("encoder.vp8", capability.Bool(func() bool {
		return recorder.GstElementAvailable("vp8enc") &&
			recorder.GstElementAvailable("webmmux")
	}))
	s.caps.Register("encoder.h264", capability.Bool(func() bool {
		return recorder.GstElementAvailable("x264enc") &&
			recorder.GstElementAvailable("mp4mux")
	}))
	s.caps.Register("segmentation.worker", capability.Bool(func() bool {
		if s.cfg.Segmentation.WorkerCmd == "" {
			return false
		}
		_, err := exec.LookPath(firstField(s.cfg.Segmentation.WorkerCmd))
		return err == nil
	}))
}

// Run acquires the projection session and executes one pipeline run.
// It blocks until the source ends, ctx is cancelled, or a fatal error
// occurs, and returns the artifact path when recording was enabled.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	if err := s.sessions.TryEnter(s.cfg.InstanceID); err != nil {
		return err
	}
	defer s.sessions.Leave()

	if s.cfg.Input.URI != "" {
		src, err := source.NewVideoSource(source.VideoConfig{
			URI: s.cfg.Input.URI,
			FPS: s.cfg.Pipeline.FPS,
		})
		if err != nil {
			return err
		}
		s.src = src
		slog.Info("using video source", "uri", s.cfg.Input.URI)
	} else {
		s.src = source.NewMockSource(source.FallbackWidth, source.FallbackHeight,
			s.cfg.Pipeline.FPS, 10*time.Second)
		slog.Info("using mock source (no input.uri configured)")
	}

	if err := s.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start segmentation engine: %w", err)
	}
	defer s.engine.Stop()

	if s.emitter != nil {
		if err := s.emitter.Connect(ctx); err != nil {
			// Telemetry is optional: run without it
			slog.Warn("mqtt connect failed, telemetry disabled", "error", err)
			s.emitter = nil
		}
	}

	if s.control != nil {
		if err := s.control.Start(); err != nil {
			return fmt.Errorf("failed to start control api: %w", err)
		}
	}

	if s.store != nil {
		s.store.StartRetention()
	}

	// Tunable hot-reload runs for the lifetime of the pipeline
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := config.Watch(ctx, s.configPath, s.cfg, func(t config.Tunables) {
			s.comp.SetFallbackMinPixels(t.FallbackMinPixels)
			s.engine.SetThreshold(t.Threshold)
		})
		if err != nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	driverCfg := pipeline.Config{
		FPS:      s.cfg.Pipeline.FPS,
		Progress: s.onProgress,
	}
	if s.cfg.Recorder.Enabled {
		driverCfg.NewRecorder = func(width, height, fps int) (*recorder.Session, error) {
			return recorder.NewSession(recorder.SessionConfig{
				Width:            width,
				Height:           height,
				FPS:              fps,
				AudioURI:         s.cfg.Input.URI,
				MimeType:         s.cfg.Recorder.MimeType,
				ElementAvailable: recorder.GstElementAvailable,
			}, s.store)
		}
	}

	driver, err := pipeline.NewDriver(driverCfg, s.src, s.engine, s.comp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.driver = driver
	s.mu.Unlock()

	artifact, err := driver.Run(ctx)
	if err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}
	if artifact != nil {
		slog.Info("recording available",
			"path", artifact.Path,
			"mime_type", artifact.MimeType,
			"bytes", artifact.SizeBytes,
		)
	}
	if s.emitter != nil {
		if payload, err := json.Marshal(s.healthSnapshot()); err == nil {
			s.emitter.PublishHealth(payload)
		}
	}
	return nil
}

// onProgress fans a progress fraction out to the websocket feed and,
// rate-limited, to MQTT. Called from the driver tick loop.
func (s *Service) onProgress(fraction float64) {
	if s.control != nil {
		s.control.BroadcastProgress(fraction)
	}
	if s.emitter == nil {
		return
	}

	s.mu.Lock()
	emit := time.Since(s.lastEmit) >= 500*time.Millisecond || fraction >= 1.0
	if emit {
		s.lastEmit = time.Now()
	}
	s.mu.Unlock()

	if emit {
		if err := s.emitter.PublishProgress(fraction); err != nil {
			slog.Debug("progress publish failed", "error", err)
		}
	}
}

// healthSnapshot builds the /health payload
func (s *Service) healthSnapshot() any {
	s.mu.RLock()
	driver := s.driver
	uptime := time.Since(s.started)
	running := s.isRunning
	s.mu.RUnlock()

	snap := map[string]any{
		"instance_id":  s.cfg.InstanceID,
		"uptime_s":     uptime.Seconds(),
		"running":      running,
		"capabilities": s.caps.Report(),
		"worker":       s.engine.Stats(),
	}
	if driver != nil {
		snap["pipeline"] = driver.Stats()
	}
	if s.emitter != nil {
		snap["mqtt"] = s.emitter.Stats()
	}
	if s.store != nil {
		if artifacts, err := s.store.List(); err == nil {
			snap["artifacts"] = len(artifacts)
		}
	}
	return snap
}

// Shutdown stops the auxiliary components after the pipeline has
// finished or been cancelled.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	slog.Info("shutting down mattecast service")

	if s.control != nil {
		if err := s.control.Shutdown(ctx); err != nil {
			slog.Error("failed to stop control api", "error", err)
		}
	}
	if s.store != nil {
		s.store.StopRetention()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown timeout waiting for goroutines")
	}

	if s.emitter != nil {
		if err := s.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("mattecast service shutdown complete", "uptime", uptime)
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (s *Service) ShutdownTimeout() time.Duration {
	timeout := time.Duration(s.cfg.ShutdownTimeoutS) * time.Second
	if timeout == 0 {
		return 5 * time.Second
	}
	return timeout
}

func firstField(cmd string) string {
	for i := 0; i < len(cmd); i++ {
		if cmd[i] == ' ' {
			return cmd[:i]
		}
	}
	return cmd
}
