// Package recorder encodes published surface frames into a media
// artifact. Raw RGBA frames are pushed into a GStreamer encode
// pipeline over a pipe; the muxed output streams back over a second
// pipe and is appended to the artifact in chunks as encoding
// progresses, so memory use stays flat regardless of duration.
package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

const (
	// chunkSize is the read granularity on the encoder output pipe
	chunkSize = 32 << 10

	// finalizeTimeout bounds how long Stop waits for the muxer to
	// flush after the last frame
	finalizeTimeout = 5 * time.Second
)

// SessionConfig describes one recording
type SessionConfig struct {
	Width  int
	Height int
	FPS    int

	// AudioURI is the source media URI whose audio track is muxed in.
	// Empty means video-only.
	AudioURI string

	// MimeType is the requested container/codec; unsupported values
	// fall back to DefaultMimeType
	MimeType string

	// ElementAvailable probes GStreamer element availability for MIME
	// negotiation. Nil assumes everything is available.
	ElementAvailable func(string) bool

	// OnChunk is invoked from the reader goroutine for every encoded
	// chunk appended to the artifact. Optional.
	OnChunk func(n int)
}

type sessionState int

const (
	stateNew sessionState = iota
	stateRecording
	stateStopped
)

// Session is a single recording. Lifecycle is Start, zero or more
// PushFrame calls, then Stop. Stop is idempotent; a session produces
// at most one artifact.
type Session struct {
	cfg   SessionConfig
	store *Store
	enc   Encoding

	mu    sync.Mutex
	state sessionState

	pipeline *gst.Pipeline
	rawW     *os.File // raw RGBA frames in
	rawR     *os.File
	outW     *os.File // muxed container bytes out
	outR     *os.File
	rawOnce  sync.Once

	file       *os.File
	eosCh      chan struct{}
	readerDone chan struct{}
	busDone    chan struct{}
	encodeErr  error

	bytesOut int64
	frames   uint64

	artifact Artifact
	result   error
}

// NewSession prepares a recording into the given store
func NewSession(cfg SessionConfig, store *Store) (*Session, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid recording dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("invalid recording framerate %d", cfg.FPS)
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	return &Session{
		cfg:        cfg,
		store:      store,
		enc:        Negotiate(cfg.MimeType, cfg.ElementAvailable),
		eosCh:      make(chan struct{}),
		readerDone: make(chan struct{}),
		busDone:    make(chan struct{}),
	}, nil
}

// MimeType returns the negotiated container type
func (s *Session) MimeType() string {
	return s.enc.MimeType
}

// launchString builds the encode pipeline description. withAudio adds
// a decode branch pulling the source's audio track into the muxer.
func (s *Session) launchString(withAudio bool) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		"fdsrc fd=%d ! rawvideoparse format=rgba width=%d height=%d framerate=%d/1"+
			" ! videoconvert ! %s ! queue ! %s name=mux ! fdsink fd=%d sync=false",
		s.rawR.Fd(), s.cfg.Width, s.cfg.Height, s.cfg.FPS,
		s.enc.VideoEnc, s.enc.Muxer, s.outW.Fd(),
	)
	if withAudio {
		fmt.Fprintf(&b,
			" uridecodebin uri=\"%s\" caps=\"audio/x-raw\" expose-all-streams=false"+
				" ! queue ! audioconvert ! audioresample ! %s ! queue ! mux.",
			s.cfg.AudioURI, s.enc.AudioEnc,
		)
	}
	return b.String()
}

// Start opens the artifact, builds the encode pipeline and begins
// consuming its output. When the source's audio track cannot be wired
// the session degrades to video-only rather than failing.
func (s *Session) Start(ctx context.Context) error {
	ensureGst()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateNew {
		return fmt.Errorf("recording session already started")
	}

	file, err := s.store.Create(s.enc.Ext)
	if err != nil {
		return err
	}

	rawR, rawW, err := os.Pipe()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create frame pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		file.Close()
		rawR.Close()
		rawW.Close()
		return fmt.Errorf("failed to create output pipe: %w", err)
	}
	s.file = file
	s.rawR, s.rawW = rawR, rawW
	s.outR, s.outW = outR, outW

	withAudio := s.cfg.AudioURI != ""
	pipeline, err := gst.NewPipelineFromString(s.launchString(withAudio))
	if err != nil && withAudio {
		slog.Warn("audio branch failed to build, recording video-only",
			"uri", s.cfg.AudioURI,
			"error", err,
		)
		pipeline, err = gst.NewPipelineFromString(s.launchString(false))
	}
	if err != nil {
		s.closePipes()
		file.Close()
		os.Remove(file.Name())
		return fmt.Errorf("failed to build encode pipeline: %w", err)
	}
	s.pipeline = pipeline

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		s.closePipes()
		file.Close()
		os.Remove(file.Name())
		return fmt.Errorf("failed to start encode pipeline: %w", err)
	}

	go s.readOutput()
	go s.watchBus(ctx)

	s.state = stateRecording
	slog.Info("recording started",
		"artifact", file.Name(),
		"mime_type", s.enc.MimeType,
		"size", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"fps", s.cfg.FPS,
		"audio", withAudio,
	)
	return nil
}

// PushFrame appends one published RGBA frame to the recording. Frames
// pushed after Stop are silently dropped.
func (s *Session) PushFrame(pix []byte) error {
	s.mu.Lock()
	if s.state != stateRecording || s.encodeErr != nil {
		// Encoder failures were already surfaced on the bus; further
		// frames are dropped and the artifact stays valid up to the
		// failure point
		s.mu.Unlock()
		return nil
	}
	w := s.rawW
	s.mu.Unlock()

	want := s.cfg.Width * s.cfg.Height * 4
	if len(pix) != want {
		return fmt.Errorf("frame size mismatch: got %d bytes, want %d", len(pix), want)
	}

	if _, err := w.Write(pix); err != nil {
		return fmt.Errorf("failed to push frame to encoder: %w", err)
	}
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
	return nil
}

// Stop finalizes the recording and returns the artifact. Calling Stop
// again returns the same result. Stopping a session that was never
// started is a caller error.
func (s *Session) Stop() (Artifact, error) {
	s.mu.Lock()
	switch s.state {
	case stateNew:
		s.mu.Unlock()
		return Artifact{}, fmt.Errorf("recording session was never started")
	case stateStopped:
		defer s.mu.Unlock()
		return s.artifact, s.result
	}
	s.state = stateStopped
	s.mu.Unlock()

	// Closing the frame pipe delivers EOS through fdsrc, letting the
	// muxer write its trailer before the pipeline is torn down
	s.closeRawW()

	select {
	case <-s.eosCh:
	case <-s.busDone:
	case <-time.After(finalizeTimeout):
		slog.Warn("encode pipeline did not reach EOS in time")
	}

	if s.pipeline != nil {
		s.pipeline.SetState(gst.StateNull)
	}
	s.outW.Close()
	<-s.readerDone
	s.rawR.Close()
	s.outR.Close()

	err := s.file.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	// An encode error truncates the recording but whatever the muxer
	// flushed before the failure is still a valid artifact
	if s.encodeErr != nil {
		slog.Warn("recording truncated by encoder error", "error", s.encodeErr)
	}

	if err != nil {
		os.Remove(s.file.Name())
		s.result = fmt.Errorf("recording failed: %w", err)
		slog.Error("recording discarded", "error", s.result)
		return Artifact{}, s.result
	}

	info, statErr := os.Stat(s.file.Name())
	if statErr != nil {
		s.result = fmt.Errorf("failed to stat artifact: %w", statErr)
		return Artifact{}, s.result
	}

	s.artifact = Artifact{
		Path:      s.file.Name(),
		MimeType:  s.enc.MimeType,
		SizeBytes: info.Size(),
		CreatedAt: info.ModTime(),
	}
	slog.Info("recording finalized",
		"artifact", s.artifact.Path,
		"bytes", s.artifact.SizeBytes,
		"frames", s.frames,
	)
	return s.artifact, nil
}

// readOutput streams encoded chunks from the pipeline into the
// artifact file as they are produced
func (s *Session) readOutput() {
	defer close(s.readerDone)

	buf := make([]byte, chunkSize)
	for {
		n, err := s.outR.Read(buf)
		if n > 0 {
			if _, werr := s.file.Write(buf[:n]); werr != nil {
				s.setEncodeErr(fmt.Errorf("failed to write artifact: %w", werr))
				return
			}
			s.mu.Lock()
			s.bytesOut += int64(n)
			s.mu.Unlock()
			if s.cfg.OnChunk != nil {
				s.cfg.OnChunk(n)
			}
		}
		if err != nil {
			if err != io.EOF {
				slog.Warn("encoder output read error", "error", err)
			}
			return
		}
	}
}

// watchBus surfaces pipeline errors and detects EOS
func (s *Session) watchBus(ctx context.Context) {
	defer close(s.busDone)

	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			close(s.eosCh)
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			s.setEncodeErr(fmt.Errorf("encode pipeline error: %s", gerr.Error()))
			slog.Error("encode pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			return
		}
	}
}

func (s *Session) setEncodeErr(err error) {
	s.mu.Lock()
	if s.encodeErr == nil {
		s.encodeErr = err
	}
	s.mu.Unlock()

	// A PushFrame blocked on the full frame pipe would otherwise wait
	// forever once the pipeline stops draining it
	s.closeRawW()
}

// closeRawW closes the frame pipe exactly once. Both Stop and encoder
// failure paths race to it.
func (s *Session) closeRawW() {
	if s.rawW == nil {
		return
	}
	s.rawOnce.Do(func() { s.rawW.Close() })
}

func (s *Session) closePipes() {
	s.rawR.Close()
	s.closeRawW()
	s.outR.Close()
	s.outW.Close()
}
