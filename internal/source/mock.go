package source

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockSource generates synthetic frames for testing.
//
// The clock is deterministic: it advances one frame per DrawInto call
// instead of tracking wall time, so tests can step the pipeline
// tick-by-tick without sleeping.
type MockSource struct {
	width    int
	height   int
	fps      int
	duration time.Duration

	mu        sync.Mutex
	frameIdx  uint64
	isRunning bool
	isPaused  bool
	stopped   bool
	fatalErr  error

	// FrameFunc optionally overrides the generated pixel pattern.
	// Called with the frame index and the destination RGBA buffer.
	FrameFunc func(idx uint64, buf []byte)
}

// NewMockSource creates a mock source with fixed dimensions, rate and duration
func NewMockSource(width, height, fps int, duration time.Duration) *MockSource {
	return &MockSource{
		width:    width,
		height:   height,
		fps:      fps,
		duration: duration,
	}
}

// Start begins frame generation
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		return fmt.Errorf("source already running")
	}
	m.isRunning = true
	return nil
}

// Fail marks the source as fatally broken, for error-path tests
func (m *MockSource) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fatalErr = err
}

// CurrentFrameAvailable reports true once started
func (m *MockSource) CurrentFrameAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning && !m.stopped
}

// IntrinsicSize returns the configured dimensions
func (m *MockSource) IntrinsicSize() (int, int) {
	return m.width, m.height
}

// IsEnded reports whether the synthetic clock passed the configured duration
func (m *MockSource) IsEnded() bool {
	current, total := m.Position()
	return current >= total
}

// Err returns the injected fatal error, if any
func (m *MockSource) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatalErr
}

// DrawInto fills buf with a deterministic pattern and advances the clock
func (m *MockSource) DrawInto(buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning || m.stopped {
		return ErrNotReady
	}
	want := m.width * m.height * 4
	if len(buf) != want {
		return fmt.Errorf("draw buffer size mismatch: got %d bytes, want %d", len(buf), want)
	}

	if m.FrameFunc != nil {
		m.FrameFunc(m.frameIdx, buf)
	} else {
		for y := 0; y < m.height; y++ {
			for x := 0; x < m.width; x++ {
				i := (y*m.width + x) * 4
				buf[i] = byte(x + int(m.frameIdx))
				buf[i+1] = byte(y + int(m.frameIdx))
				buf[i+2] = byte(m.frameIdx)
				buf[i+3] = 255
			}
		}
	}

	if !m.isPaused {
		m.frameIdx++
	}
	return nil
}

// Position reports the synthetic clock
func (m *MockSource) Position() (time.Duration, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := time.Duration(m.frameIdx) * time.Second / time.Duration(m.fps)
	if current > m.duration {
		current = m.duration
	}
	return current, m.duration
}

// Pause freezes the synthetic clock
func (m *MockSource) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isPaused = true
	return nil
}

// Resume unfreezes the synthetic clock
func (m *MockSource) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isPaused = false
	return nil
}

// Stop halts the source. Idempotent.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.isRunning = false
	return nil
}
