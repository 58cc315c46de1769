package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func allAvailable(string) bool  { return true }
func noneAvailable(string) bool { return false }

func TestIsTypeSupported(t *testing.T) {
	assert.True(t, IsTypeSupported("video/webm;codecs=vp8", allAvailable))
	assert.True(t, IsTypeSupported("video/webm", allAvailable))
	assert.True(t, IsTypeSupported("video/mp4", allAvailable))

	assert.False(t, IsTypeSupported("video/x-matroska", allAvailable),
		"unknown container is unsupported regardless of elements")
	assert.False(t, IsTypeSupported("video/webm;codecs=vp8", noneAvailable),
		"missing encoder elements make the type unsupported")
}

func TestIsTypeSupported_NormalizesRequest(t *testing.T) {
	assert.True(t, IsTypeSupported("Video/WebM; Codecs=VP8", allAvailable))
	assert.True(t, IsTypeSupported("video/webm ;codecs=vp9", allAvailable))
}

func TestNegotiate(t *testing.T) {
	t.Run("honors supported request", func(t *testing.T) {
		enc := Negotiate("video/mp4", allAvailable)
		assert.Equal(t, "video/mp4", enc.MimeType)
		assert.Equal(t, "mp4mux", enc.Muxer)
		assert.Equal(t, "mp4", enc.Ext)
	})

	t.Run("falls back on unknown type", func(t *testing.T) {
		enc := Negotiate("video/ogg", allAvailable)
		assert.Equal(t, DefaultMimeType, enc.MimeType)
		assert.Equal(t, "webmmux", enc.Muxer)
	})

	t.Run("falls back when elements are missing", func(t *testing.T) {
		onlyVP8 := func(name string) bool {
			return name == "vp8enc" || name == "webmmux"
		}
		enc := Negotiate("video/mp4", onlyVP8)
		assert.Equal(t, DefaultMimeType, enc.MimeType)
	})

	t.Run("empty request gets the default", func(t *testing.T) {
		enc := Negotiate("", allAvailable)
		assert.Equal(t, DefaultMimeType, enc.MimeType)
	})
}
