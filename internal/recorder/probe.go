package recorder

import (
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
)

var gstInit sync.Once

// ensureGst initializes GStreamer once for the encode path. The video
// source performs its own init, but the recorder must not depend on
// it: recording stays available with the mock source.
func ensureGst() {
	gstInit.Do(func() { gst.Init(nil) })
}

// GstElementAvailable reports whether a GStreamer element factory can
// be instantiated. Used as the ElementAvailable probe for MIME
// negotiation.
func GstElementAvailable(name string) bool {
	ensureGst()
	elem, err := gst.NewElement(name)
	return err == nil && elem != nil
}
