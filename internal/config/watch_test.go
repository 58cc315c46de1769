package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_AppliesTunableUpdates(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan Tunables, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Watch(ctx, path, cfg, func(tun Tunables) {
			select {
			case applied <- tun:
			default:
			}
		})
	}()

	// Give the watcher a moment to register before rewriting
	time.Sleep(50 * time.Millisecond)

	updated := strings.Replace(minimalConfig,
		"segmentation:",
		"pipeline:\n  fallback_min_pixels: 250\nsegmentation:\n  threshold: 0.4", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case tun := <-applied:
		assert.Equal(t, 250, tun.FallbackMinPixels)
		assert.Equal(t, 0.4, tun.Threshold)
	case <-time.After(3 * time.Second):
		t.Fatal("tunable update was never applied")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on context cancellation")
	}
}

func TestWatch_KeepsPreviousValuesOnBadReload(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan Tunables, 1)
	go Watch(ctx, path, cfg, func(tun Tunables) {
		select {
		case applied <- tun:
		default:
		}
	})

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("matte: [broken"), 0o644))

	select {
	case <-applied:
		t.Fatal("invalid config must not be applied")
	case <-time.After(300 * time.Millisecond):
	}
}
