package engine

import (
	iface "CardDetServer/interface"
	"cmp"
	"fmt"
	"image"
	"math"
	"slices"

	"gocv.io/x/gocv"
)

// OrderCorners returns the corners as top-left, top-right, bottom-right,
// bottom-left. The result depends only on the set of points, not on their
// input order.
func OrderCorners(pts [4]image.Point) [4]image.Point {
	var cx, cy float64
	for _, p := range pts {
		cx += float64(p.X)
		cy += float64(p.Y)
	}
	cx, cy = cx/4, cy/4

	angle := func(p image.Point) float64 {
		return math.Atan2(float64(p.Y)-cy, float64(p.X)-cx)
	}
	sorted := pts
	slices.SortFunc(sorted[:], func(a, b image.Point) int {
		if c := cmp.Compare(angle(a), angle(b)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.X, b.X); c != 0 {
			return c
		}
		return cmp.Compare(a.Y, b.Y)
	})

	start := 0
	for i, p := range sorted {
		s, best := p.X+p.Y, sorted[start].X+sorted[start].Y
		if s < best || (s == best && p.Y < sorted[start].Y) {
			start = i
		}
	}

	var out [4]image.Point
	for i := range out {
		out[i] = sorted[(start+i)%4]
	}
	return out
}

func dist(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

// warpSize derives the output size from the longer of each pair of opposite
// sides of the ordered quad.
func warpSize(q [4]image.Point) image.Point {
	tl, tr, br, bl := q[0], q[1], q[2], q[3]
	w := max(int(dist(br, bl)), int(dist(tr, tl)))
	h := max(int(dist(tr, br)), int(dist(tl, bl)))
	return image.Pt(w, h)
}

// Normalize 将区域透视变换为正视矩形图像，尺寸由区域边长决定。调用方负责 Close
func Normalize(frame gocv.Mat, r iface.Region) (gocv.Mat, error) {
	return NormalizeTo(frame, r, image.Point{})
}

// NormalizeTo is Normalize with a fixed output size. A zero size falls back
// to the derived one.
func NormalizeTo(frame gocv.Mat, r iface.Region, size image.Point) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), ErrEmptyImage
	}
	q := OrderCorners(r.Points)
	if size.X <= 0 || size.Y <= 0 {
		size = warpSize(q)
	}
	if size.X < 2 || size.Y < 2 {
		return gocv.NewMat(), fmt.Errorf("degenerate region %v: warp size %dx%d", r.Points, size.X, size.Y)
	}

	src := gocv.NewPointVectorFromPoints(q[:])
	defer src.Close()
	dst := gocv.NewPointVectorFromPoints([]image.Point{
		{0, 0},
		{size.X - 1, 0},
		{size.X - 1, size.Y - 1},
		{0, size.Y - 1},
	})
	defer dst.Close()

	m := gocv.GetPerspectiveTransform(src, dst)
	defer m.Close()
	if m.Empty() {
		return gocv.NewMat(), fmt.Errorf("no perspective transform for region %v", r.Points)
	}

	out := gocv.NewMat()
	gocv.WarpPerspective(frame, &out, m, size)
	if out.Empty() {
		out.Close()
		return gocv.NewMat(), ErrEmptyImage
	}
	return out, nil
}
