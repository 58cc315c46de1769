package recorder

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), time.Hour)
	require.NoError(t, err)
	return store
}

func TestNewSession_Validation(t *testing.T) {
	store := testStore(t)

	_, err := NewSession(SessionConfig{Width: 0, Height: 10, FPS: 25}, store)
	assert.Error(t, err)
	_, err = NewSession(SessionConfig{Width: 10, Height: 10, FPS: 0}, store)
	assert.Error(t, err)
	_, err = NewSession(SessionConfig{Width: 10, Height: 10, FPS: 25}, nil)
	assert.Error(t, err)
}

func TestSession_NegotiatesMimeTypeAtConstruction(t *testing.T) {
	store := testStore(t)

	s, err := NewSession(SessionConfig{
		Width: 4, Height: 4, FPS: 25,
		MimeType:         "video/ogg",
		ElementAvailable: allAvailable,
	}, store)
	require.NoError(t, err)
	assert.Equal(t, DefaultMimeType, s.MimeType(),
		"unsupported request falls back before any pipeline exists")
}

func TestSession_StopBeforeStartIsAnError(t *testing.T) {
	s, err := NewSession(SessionConfig{Width: 4, Height: 4, FPS: 25}, testStore(t))
	require.NoError(t, err)

	_, err = s.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never started")
}

func TestSession_PushFrameBeforeStartIsDropped(t *testing.T) {
	s, err := NewSession(SessionConfig{Width: 4, Height: 4, FPS: 25}, testStore(t))
	require.NoError(t, err)

	assert.NoError(t, s.PushFrame(make([]byte, 4*4*4)),
		"frames outside the recording window are dropped, not fatal")
}

// recordingSession wires a session into the recording state with live
// pipes and an open artifact, standing in for a running encode
// pipeline so finalization can be exercised on its own.
func recordingSession(t *testing.T, store *Store) *Session {
	t.Helper()

	s, err := NewSession(SessionConfig{Width: 2, Height: 2, FPS: 25}, store)
	require.NoError(t, err)

	file, err := store.Create(s.enc.Ext)
	require.NoError(t, err)

	rawR, rawW, err := os.Pipe()
	require.NoError(t, err)
	outR, outW, err := os.Pipe()
	require.NoError(t, err)

	s.file = file
	s.rawR, s.rawW = rawR, rawW
	s.outR, s.outW = outR, outW
	s.state = stateRecording
	go s.readOutput()
	return s
}

func TestSession_StopTwiceYieldsOneArtifact(t *testing.T) {
	store := testStore(t)
	s := recordingSession(t, store)

	// Muxed bytes the encoder flushed before end of stream
	_, err := s.outW.Write([]byte("muxed-container-bytes"))
	require.NoError(t, err)
	close(s.eosCh)

	first, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, int64(21), first.SizeBytes)

	second, err := s.Stop()
	require.NoError(t, err, "repeated stop is a no-op")
	assert.Equal(t, first, second, "both stops report the same artifact")

	artifacts, err := store.List()
	require.NoError(t, err)
	assert.Len(t, artifacts, 1, "a session finalizes exactly one artifact")
	assert.Equal(t, first.Path, artifacts[0].Path)

	assert.NoError(t, s.PushFrame(make([]byte, 2*2*4)),
		"frames after stop are dropped")
}

func TestSession_EncodeErrorUnblocksPushFrame(t *testing.T) {
	s := recordingSession(t, testStore(t))

	// A frame far larger than the pipe buffer blocks the writer until
	// something drains or closes the pipe
	blocked := make(chan error, 1)
	go func() {
		_, err := s.rawW.Write(make([]byte, 4<<20))
		blocked <- err
	}()

	time.Sleep(50 * time.Millisecond)
	s.setEncodeErr(errors.New("encode pipeline error: internal data stream error"))

	select {
	case err := <-blocked:
		assert.Error(t, err, "closing the frame pipe fails the pending write")
	case <-time.After(2 * time.Second):
		t.Fatal("writer stayed blocked after the encoder failed")
	}

	// Finalization still completes and keeps the truncated artifact
	close(s.eosCh)
	artifact, err := s.Stop()
	require.NoError(t, err)
	assert.NotEmpty(t, artifact.Path)
}
