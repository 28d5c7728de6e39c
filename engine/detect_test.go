package engine

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var white = color.RGBA{R: 255, G: 255, B: 255}

// blankFrame returns a black 640x480 BGR frame with the given filled
// rectangles drawn in white.
func blankFrame(rects ...image.Rectangle) gocv.Mat {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	frame.SetTo(gocv.NewScalar(0, 0, 0, 0))
	for _, r := range rects {
		gocv.Rectangle(&frame, r, white, -1)
	}
	return frame
}

func TestFindQuads(t *testing.T) {
	p := DefaultParams()

	t.Run("single card", func(t *testing.T) {
		frame := blankFrame(image.Rect(100, 100, 300, 250))
		defer frame.Close()

		regions := FindQuads(frame, p)
		require.Len(t, regions, 1)
		r := regions[0]
		assert.GreaterOrEqual(t, r.Area, p.SizeThreshold)
		b := r.Bounds()
		assert.InDelta(t, 100, b.Min.X, 6)
		assert.InDelta(t, 100, b.Min.Y, 6)
		assert.InDelta(t, 300, b.Max.X, 6)
		assert.InDelta(t, 250, b.Max.Y, 6)
	})

	t.Run("two cards", func(t *testing.T) {
		frame := blankFrame(image.Rect(40, 40, 240, 190), image.Rect(350, 200, 550, 400))
		defer frame.Close()
		assert.Len(t, FindQuads(frame, p), 2)
	})

	t.Run("too small", func(t *testing.T) {
		frame := blankFrame(image.Rect(100, 100, 150, 140))
		defer frame.Close()
		assert.Empty(t, FindQuads(frame, p))
	})

	t.Run("black frame", func(t *testing.T) {
		frame := blankFrame()
		defer frame.Close()
		assert.Empty(t, FindQuads(frame, p))
	})

	t.Run("empty frame", func(t *testing.T) {
		frame := gocv.NewMat()
		defer frame.Close()
		assert.Empty(t, FindQuads(frame, p))
	})

	t.Run("candidate cap", func(t *testing.T) {
		frame := blankFrame(image.Rect(40, 40, 240, 190), image.Rect(350, 200, 550, 400))
		defer frame.Close()
		capped := p
		capped.MaxCandidates = 1
		assert.Len(t, FindQuads(frame, capped), 1)
	})
}
