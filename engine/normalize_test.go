package engine

import (
	iface "CardDetServer/interface"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestOrderCorners(t *testing.T) {
	want := [4]image.Point{{10, 20}, {210, 25}, {205, 170}, {12, 160}}

	t.Run("any rotation of the input", func(t *testing.T) {
		for shift := 0; shift < 4; shift++ {
			var in [4]image.Point
			for i := range in {
				in[i] = want[(i+shift)%4]
			}
			assert.Equal(t, want, OrderCorners(in), "shift %d", shift)
		}
	})

	t.Run("reversed input", func(t *testing.T) {
		in := [4]image.Point{want[3], want[2], want[1], want[0]}
		assert.Equal(t, want, OrderCorners(in))
	})

	t.Run("diamond", func(t *testing.T) {
		in := [4]image.Point{{0, 50}, {50, 100}, {100, 50}, {50, 0}}
		assert.Equal(t, [4]image.Point{{50, 0}, {100, 50}, {50, 100}, {0, 50}}, OrderCorners(in))
	})

	t.Run("duplicate points are kept", func(t *testing.T) {
		out := OrderCorners([4]image.Point{{0, 0}, {0, 0}, {30, 30}, {30, 0}})
		assert.ElementsMatch(t, []image.Point{{0, 0}, {0, 0}, {30, 30}, {30, 0}}, out[:])
	})
}

func TestWarpSize(t *testing.T) {
	q := [4]image.Point{{100, 100}, {299, 100}, {299, 249}, {100, 249}}
	assert.Equal(t, image.Pt(199, 149), warpSize(q))

	skewed := [4]image.Point{{0, 0}, {100, 0}, {120, 50}, {0, 50}}
	assert.Equal(t, image.Pt(120, 53), warpSize(skewed))
}

func TestNormalize(t *testing.T) {
	frame := blankFrame(image.Rect(100, 100, 300, 250))
	defer frame.Close()
	region := iface.Region{Points: [4]image.Point{{299, 249}, {100, 249}, {100, 100}, {299, 100}}}

	t.Run("derived size", func(t *testing.T) {
		out, err := Normalize(frame, region)
		require.NoError(t, err)
		defer out.Close()
		assert.Equal(t, 199, out.Cols())
		assert.Equal(t, 149, out.Rows())
		assert.Equal(t, gocv.MatTypeCV8UC3, out.Type())
		// the warped card is white throughout
		px := out.GetVecbAt(75, 100)
		assert.Equal(t, uint8(255), px[0])
	})

	t.Run("fixed size", func(t *testing.T) {
		out, err := NormalizeTo(frame, region, image.Pt(64, 48))
		require.NoError(t, err)
		defer out.Close()
		assert.Equal(t, 64, out.Cols())
		assert.Equal(t, 48, out.Rows())
	})

	t.Run("empty frame", func(t *testing.T) {
		empty := gocv.NewMat()
		defer empty.Close()
		out, err := Normalize(empty, region)
		defer out.Close()
		assert.ErrorIs(t, err, ErrEmptyImage)
	})

	t.Run("degenerate region", func(t *testing.T) {
		out, err := Normalize(frame, iface.Region{})
		defer out.Close()
		assert.Error(t, err)
	})
}
