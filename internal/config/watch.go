package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Tunables are the configuration values that may change while the
// pipeline is running. Everything else requires a restart.
type Tunables struct {
	FallbackMinPixels int
	Threshold         float64
}

// Watch monitors the configuration file and invokes apply with the
// updated tunables whenever the file is rewritten. Changes to fields
// outside Tunables are logged and ignored until restart.
//
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, current *Config, apply func(Tunables)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which drops
	// a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	target := filepath.Clean(path)

	slog.Info("watching config for tunable updates", "path", target)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			updated, err := Load(path)
			if err != nil {
				slog.Warn("config reload failed, keeping previous values", "error", err)
				continue
			}

			if updated.Pipeline.FPS != current.Pipeline.FPS {
				slog.Warn("pipeline.fps change requires restart",
					"old", current.Pipeline.FPS,
					"new", updated.Pipeline.FPS,
				)
			}
			if updated.Input.URI != current.Input.URI {
				slog.Warn("input.uri change requires restart")
			}

			t := Tunables{
				FallbackMinPixels: updated.Pipeline.FallbackMinPixels,
				Threshold:         updated.Segmentation.Threshold,
			}
			slog.Info("applying config update",
				"fallback_min_pixels", t.FallbackMinPixels,
				"threshold", t.Threshold,
			)
			apply(t)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
