package recorder

import (
	"log/slog"
	"strings"
)

// DefaultMimeType is the widely supported fallback container/codec
const DefaultMimeType = "video/webm;codecs=vp8"

// Encoding maps a MIME type onto a GStreamer encoder/muxer pair
type Encoding struct {
	MimeType string
	VideoEnc string // encoder element plus properties, launch syntax
	AudioEnc string
	Muxer    string
	Ext      string
}

// encodings lists the containers the recorder knows how to produce.
// Keys are normalized MIME types (lowercase, no spaces).
var encodings = map[string]Encoding{
	"video/webm;codecs=vp8": {
		MimeType: "video/webm;codecs=vp8",
		VideoEnc: "vp8enc deadline=1 cpu-used=4",
		AudioEnc: "vorbisenc",
		Muxer:    "webmmux",
		Ext:      "webm",
	},
	"video/webm;codecs=vp9": {
		MimeType: "video/webm;codecs=vp9",
		VideoEnc: "vp9enc deadline=1 cpu-used=4",
		AudioEnc: "vorbisenc",
		Muxer:    "webmmux",
		Ext:      "webm",
	},
	"video/webm": {
		MimeType: "video/webm",
		VideoEnc: "vp8enc deadline=1 cpu-used=4",
		AudioEnc: "vorbisenc",
		Muxer:    "webmmux",
		Ext:      "webm",
	},
	"video/mp4": {
		MimeType: "video/mp4",
		VideoEnc: "x264enc speed-preset=veryfast tune=zerolatency",
		AudioEnc: "avenc_aac",
		Muxer:    "mp4mux",
		Ext:      "mp4",
	},
}

// normalizeMime canonicalizes a requested MIME type for lookup
func normalizeMime(mime string) string {
	return strings.ToLower(strings.ReplaceAll(mime, " ", ""))
}

// IsTypeSupported reports whether the requested MIME type maps to an
// encoding whose elements are available. elementAvailable is the
// capability check for a single GStreamer element factory.
func IsTypeSupported(mime string, elementAvailable func(string) bool) bool {
	enc, ok := encodings[normalizeMime(mime)]
	if !ok {
		return false
	}
	if elementAvailable == nil {
		return true
	}
	return elementAvailable(firstWord(enc.VideoEnc)) && elementAvailable(enc.Muxer)
}

// Negotiate resolves the requested MIME type against capture
// capability, falling back to the default supported type when the
// request cannot be honored.
func Negotiate(requested string, elementAvailable func(string) bool) Encoding {
	if requested != "" && IsTypeSupported(requested, elementAvailable) {
		return encodings[normalizeMime(requested)]
	}
	if requested != "" {
		slog.Warn("requested mime type unsupported, falling back",
			"requested", requested,
			"fallback", DefaultMimeType,
		)
	}
	return encodings[DefaultMimeType]
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}
