// Package matte composites a source frame with a segmentation mask
// into the shared output surface, replacing the background per policy.
package matte

import (
	"fmt"
	"image/color"
	"strconv"
)

// Mode selects what happens to background pixels
type Mode int

const (
	// ModeSolid paints background pixels with a solid color. The output
	// is fully opaque; downstream chroma-keying removes the color.
	ModeSolid Mode = iota
	// ModeTransparent zeroes the alpha of background pixels
	ModeTransparent
)

// String returns a human-readable mode name
func (m Mode) String() string {
	switch m {
	case ModeSolid:
		return "solid"
	case ModeTransparent:
		return "transparent"
	default:
		return "unknown"
	}
}

// Policy is the background replacement policy
type Policy struct {
	Mode Mode
	// Color is the background paint for ModeSolid
	Color color.NRGBA
}

// ParsePolicy builds a Policy from configuration strings.
// hexColor is only consulted in solid mode and must be "#RRGGBB".
func ParsePolicy(mode, hexColor string) (Policy, error) {
	switch mode {
	case "solid":
		c, err := parseHexColor(hexColor)
		if err != nil {
			return Policy{}, err
		}
		return Policy{Mode: ModeSolid, Color: c}, nil
	case "transparent":
		return Policy{Mode: ModeTransparent}, nil
	default:
		return Policy{}, fmt.Errorf("unknown matte mode %q", mode)
	}
}

func parseHexColor(s string) (color.NRGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.NRGBA{}, fmt.Errorf("background color must be #RRGGBB, got %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid background color %q: %w", s, err)
	}
	return color.NRGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 255,
	}, nil
}
