package engine

import (
	"CardDetServer/tracker"
	"image/color"

	"gocv.io/x/gocv"
)

const (
	fillAlpha = 0.75
	fontScale = 0.5
	thickness = 2
)

var (
	fillColor  = color.RGBA{R: 60, G: 120, B: 170}
	labelColor = color.RGBA{R: 255, G: 255, B: 255}
)

// Annotate 在帧上叠加半透明填充的候选区域，并在区域左上角标注指纹
func Annotate(frame *gocv.Mat, dets []tracker.Detection) {
	if len(dets) == 0 || frame.Empty() {
		return
	}
	overlay := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), frame.Rows(), frame.Cols(), frame.Type())
	defer overlay.Close()

	polys := gocv.NewPointsVector()
	defer polys.Close()
	for _, d := range dets {
		pv := gocv.NewPointVectorFromPoints(d.Region.PointSlice())
		polys.Append(pv)
		pv.Close()
	}
	gocv.DrawContours(&overlay, polys, -1, fillColor, -1)
	gocv.AddWeighted(*frame, 1, overlay, fillAlpha, 0, frame)

	for _, d := range dets {
		gocv.PutText(frame, d.Fingerprint, d.Region.TopLeft(), gocv.FontHersheySimplex, fontScale, labelColor, thickness)
	}
}
