package matte

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/care/mattecast/internal/surface"
	"github.com/care/mattecast/internal/types"
)

func makeFrame(width, height int, fill func(x, y int) [4]byte) *types.Frame {
	data := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px := fill(x, y)
			i := (y*width + x) * 4
			copy(data[i:i+4], px[:])
		}
	}
	return &types.Frame{Seq: 1, Width: width, Height: height, Data: data}
}

func uniformMask(width, height int, v uint8) types.Mask {
	m := make(types.Mask, width*height)
	for i := range m {
		m[i] = v
	}
	return m
}

func TestComposite_TransparentAlphaIsBinary(t *testing.T) {
	policy := Policy{Mode: ModeTransparent}
	comp := NewCompositor(policy, false, 1)

	frame := makeFrame(8, 6, func(x, y int) [4]byte {
		return [4]byte{byte(x * 30), byte(y * 40), 128, 255}
	})
	mask := uniformMask(8, 6, 0)
	for i := 0; i < len(mask); i += 2 {
		mask[i] = 1
	}

	surf, err := surface.New(8, 6)
	require.NoError(t, err)
	require.NoError(t, comp.Composite(surf, frame, mask))

	out := surf.Pix()
	for i := 0; i < len(mask); i++ {
		alpha := out[i*4+3]
		if mask[i] != 0 {
			assert.Equal(t, byte(255), alpha, "person pixel %d must be opaque", i)
			// Person pixels keep the source RGB
			assert.Equal(t, frame.Data[i*4:i*4+3], out[i*4:i*4+3])
		} else {
			assert.Equal(t, byte(0), alpha, "background pixel %d must be transparent", i)
		}
	}
}

func TestComposite_SolidPaintsBackgroundOpaque(t *testing.T) {
	green := color.NRGBA{R: 0, G: 255, B: 0, A: 255}
	comp := NewCompositor(Policy{Mode: ModeSolid, Color: green}, false, 1)

	frame := makeFrame(4, 4, func(x, y int) [4]byte {
		return [4]byte{200, 100, 50, 255}
	})
	mask := uniformMask(4, 4, 0)
	mask[5] = 1
	mask[6] = 1

	surf, err := surface.New(4, 4)
	require.NoError(t, err)
	require.NoError(t, comp.Composite(surf, frame, mask))

	out := surf.Pix()
	for i := 0; i < len(mask); i++ {
		assert.Equal(t, byte(255), out[i*4+3], "solid output must be fully opaque")
		if mask[i] != 0 {
			assert.Equal(t, []byte{200, 100, 50}, out[i*4:i*4+3], "person RGB unchanged")
		} else {
			assert.Equal(t, []byte{0, 255, 0}, out[i*4:i*4+3], "background painted green")
		}
	}
}

func TestComposite_TwoByTwoTransparentVector(t *testing.T) {
	// Known-answer vector: 2x2 frame, mask keeps top-left and
	// bottom-right pixels
	comp := NewCompositor(Policy{Mode: ModeTransparent}, false, 1)

	frame := &types.Frame{
		Seq: 1, Width: 2, Height: 2,
		Data: []byte{
			255, 0, 0, 255, // red
			0, 255, 0, 255, // green
			0, 0, 255, 255, // blue
			255, 255, 0, 255, // yellow
		},
	}
	mask := types.Mask{1, 0, 0, 1}

	surf, err := surface.New(2, 2)
	require.NoError(t, err)
	require.NoError(t, comp.Composite(surf, frame, mask))

	want := []byte{
		255, 0, 0, 255,
		0, 255, 0, 0,
		0, 0, 255, 0,
		255, 255, 0, 255,
	}
	assert.Equal(t, want, surf.Pix())
}

func TestComposite_FallbackEmitsFrameUnmodified(t *testing.T) {
	comp := NewCompositor(Policy{Mode: ModeTransparent}, false, 100)

	frame := makeFrame(10, 10, func(x, y int) [4]byte {
		return [4]byte{byte(x), byte(y), byte(x + y), 255}
	})
	// 3 positive pixels, well below the threshold of 100
	mask := uniformMask(10, 10, 0)
	mask[0], mask[1], mask[2] = 1, 1, 1

	surf, err := surface.New(10, 10)
	require.NoError(t, err)
	require.NoError(t, comp.Composite(surf, frame, mask))

	assert.Equal(t, frame.Data, surf.Pix(),
		"failed mask must pass the frame through untouched")
}

func TestComposite_FallbackRespectsFlip(t *testing.T) {
	comp := NewCompositor(Policy{Mode: ModeSolid, Color: color.NRGBA{G: 255, A: 255}}, true, 100)

	frame := makeFrame(2, 2, func(x, y int) [4]byte {
		return [4]byte{byte(y), byte(y), byte(y), 255} // row-identifying
	})
	mask := uniformMask(2, 2, 0)

	surf, err := surface.New(2, 2)
	require.NoError(t, err)
	require.NoError(t, comp.Composite(surf, frame, mask))

	out := surf.Pix()
	// Row 1 of the source is now row 0 of the output
	assert.Equal(t, byte(1), out[0])
	assert.Equal(t, byte(0), out[2*4])
}

func TestComposite_VerticalFlip(t *testing.T) {
	comp := NewCompositor(Policy{Mode: ModeTransparent}, true, 1)

	frame := makeFrame(2, 3, func(x, y int) [4]byte {
		return [4]byte{byte(y * 10), 0, 0, 255}
	})
	mask := uniformMask(2, 3, 1)

	surf, err := surface.New(2, 3)
	require.NoError(t, err)
	require.NoError(t, comp.Composite(surf, frame, mask))

	out := surf.Pix()
	assert.Equal(t, byte(20), out[0], "bottom source row lands on top")
	assert.Equal(t, byte(10), out[2*4])
	assert.Equal(t, byte(0), out[4*4])
}

func TestComposite_SizeMismatchesFailFast(t *testing.T) {
	comp := NewCompositor(Policy{Mode: ModeTransparent}, false, 1)

	frame := makeFrame(4, 4, func(x, y int) [4]byte { return [4]byte{0, 0, 0, 255} })

	t.Run("mask too small", func(t *testing.T) {
		surf, err := surface.New(4, 4)
		require.NoError(t, err)
		err = comp.Composite(surf, frame, uniformMask(2, 2, 1))
		assert.Error(t, err)
	})

	t.Run("surface dimensions differ", func(t *testing.T) {
		surf, err := surface.New(8, 8)
		require.NoError(t, err)
		err = comp.Composite(surf, frame, uniformMask(4, 4, 1))
		assert.Error(t, err)
	})

	t.Run("frame buffer truncated", func(t *testing.T) {
		surf, err := surface.New(4, 4)
		require.NoError(t, err)
		bad := &types.Frame{Width: 4, Height: 4, Data: make([]byte, 7)}
		err = comp.Composite(surf, bad, uniformMask(4, 4, 1))
		assert.Error(t, err)
	})
}

func TestSetFallbackMinPixels(t *testing.T) {
	comp := NewCompositor(Policy{Mode: ModeTransparent}, false, 100)

	frame := makeFrame(10, 10, func(x, y int) [4]byte { return [4]byte{1, 2, 3, 255} })
	mask := uniformMask(10, 10, 0)
	mask[0], mask[1], mask[2] = 1, 1, 1

	surf, err := surface.New(10, 10)
	require.NoError(t, err)

	// Lowering the threshold below the positive count disables fallback
	comp.SetFallbackMinPixels(2)
	require.NoError(t, comp.Composite(surf, frame, mask))
	assert.Equal(t, byte(0), surf.Pix()[5*4+3], "mask applied once below threshold")

	// Negative updates are ignored
	comp.SetFallbackMinPixels(-1)
	require.NoError(t, comp.Composite(surf, frame, mask))
	assert.Equal(t, byte(0), surf.Pix()[5*4+3])
}

func TestParsePolicy(t *testing.T) {
	t.Run("solid with color", func(t *testing.T) {
		p, err := ParsePolicy("solid", "#11AB2f")
		require.NoError(t, err)
		assert.Equal(t, ModeSolid, p.Mode)
		assert.Equal(t, color.NRGBA{R: 0x11, G: 0xAB, B: 0x2F, A: 255}, p.Color)
	})

	t.Run("transparent ignores color", func(t *testing.T) {
		p, err := ParsePolicy("transparent", "")
		require.NoError(t, err)
		assert.Equal(t, ModeTransparent, p.Mode)
	})

	t.Run("invalid mode", func(t *testing.T) {
		_, err := ParsePolicy("blurred", "#000000")
		assert.Error(t, err)
	})

	t.Run("malformed color", func(t *testing.T) {
		_, err := ParsePolicy("solid", "00FF00")
		assert.Error(t, err)
		_, err = ParsePolicy("solid", "#12345")
		assert.Error(t, err)
		_, err = ParsePolicy("solid", "#GGGGGG")
		assert.Error(t, err)
	})
}
