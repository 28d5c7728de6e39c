package engine

import (
	iface "CardDetServer/interface"
	"CardDetServer/tracker"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnnotate(t *testing.T) {
	frame := blankFrame()
	defer frame.Close()

	region := iface.Region{Points: [4]image.Point{{100, 100}, {300, 100}, {300, 250}, {100, 250}}}
	Annotate(&frame, []tracker.Detection{{Fingerprint: "1A2B", Region: region}})

	// black + 0.75 * fill, BGR order
	px := frame.GetVecbAt(200, 200)
	assert.InDelta(t, 128, int(px[0]), 1)
	assert.InDelta(t, 90, int(px[1]), 1)
	assert.InDelta(t, 45, int(px[2]), 1)

	outside := frame.GetVecbAt(400, 500)
	assert.Equal(t, []uint8{0, 0, 0}, []uint8(outside))

	t.Run("no detections leaves frame untouched", func(t *testing.T) {
		clean := blankFrame()
		defer clean.Close()
		Annotate(&clean, nil)
		assert.Equal(t, []uint8{0, 0, 0}, []uint8(clean.GetVecbAt(200, 200)))
	})
}
