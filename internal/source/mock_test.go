package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSource_Lifecycle(t *testing.T) {
	m := NewMockSource(4, 4, 25, time.Second)

	assert.False(t, m.CurrentFrameAvailable(), "nothing available before Start")
	assert.Error(t, m.DrawInto(make([]byte, 4*4*4)))

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()), "double start is rejected")
	assert.True(t, m.CurrentFrameAvailable())

	w, h := m.IntrinsicSize()
	assert.Equal(t, 4, w)
	assert.Equal(t, 4, h)

	require.NoError(t, m.Stop())
	assert.False(t, m.CurrentFrameAvailable())
	assert.ErrorIs(t, m.DrawInto(make([]byte, 4*4*4)), ErrNotReady)
	require.NoError(t, m.Stop(), "stop is idempotent")
}

func TestMockSource_DeterministicClock(t *testing.T) {
	m := NewMockSource(2, 2, 10, time.Second)
	require.NoError(t, m.Start(context.Background()))

	buf := make([]byte, 2*2*4)

	require.NoError(t, m.DrawInto(buf))
	current, duration := m.Position()
	assert.Equal(t, 100*time.Millisecond, current, "one frame at 10fps is 100ms")
	assert.Equal(t, time.Second, duration)

	// Ten frames reach the end
	for i := 0; i < 9; i++ {
		require.NoError(t, m.DrawInto(buf))
	}
	assert.True(t, m.IsEnded())
}

func TestMockSource_PauseFreezesClock(t *testing.T) {
	m := NewMockSource(2, 2, 10, time.Second)
	require.NoError(t, m.Start(context.Background()))

	buf := make([]byte, 2*2*4)
	require.NoError(t, m.DrawInto(buf))
	require.NoError(t, m.Pause())

	require.NoError(t, m.DrawInto(buf))
	require.NoError(t, m.DrawInto(buf))
	current, _ := m.Position()
	assert.Equal(t, 100*time.Millisecond, current, "paused clock does not advance")

	require.NoError(t, m.Resume())
	require.NoError(t, m.DrawInto(buf))
	current, _ = m.Position()
	assert.Equal(t, 200*time.Millisecond, current)
}

func TestMockSource_FrameFuncAndSizeCheck(t *testing.T) {
	m := NewMockSource(2, 2, 10, time.Second)
	m.FrameFunc = func(idx uint64, buf []byte) {
		for i := range buf {
			buf[i] = byte(idx)
		}
	}
	require.NoError(t, m.Start(context.Background()))

	buf := make([]byte, 2*2*4)
	require.NoError(t, m.DrawInto(buf))
	assert.Equal(t, byte(0), buf[0])
	require.NoError(t, m.DrawInto(buf))
	assert.Equal(t, byte(1), buf[0])

	assert.Error(t, m.DrawInto(make([]byte, 3)), "wrong buffer size is rejected")
}

func TestMockSource_InjectedFailure(t *testing.T) {
	m := NewMockSource(2, 2, 10, time.Second)
	require.NoError(t, m.Start(context.Background()))
	assert.NoError(t, m.Err())

	boom := errors.New("decoder exploded")
	m.Fail(boom)
	assert.ErrorIs(t, m.Err(), boom)
}
