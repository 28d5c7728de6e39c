package iface

import (
	"image"
)

// Region 候选四边形区域：轮廓近似后的 4 个角点（原始顺序），以及原轮廓的面积和周长
type Region struct {
	Points    [4]image.Point
	Area      float64
	Perimeter float64
}

// TopLeft returns the top-left extent of the region's bounding box.
func (r Region) TopLeft() image.Point {
	return r.Bounds().Min
}

// Bounds returns the axis-aligned bounding box of the region.
func (r Region) Bounds() image.Rectangle {
	lo, hi := r.Points[0], r.Points[0]
	for _, p := range r.Points[1:] {
		lo.X, lo.Y = min(lo.X, p.X), min(lo.Y, p.Y)
		hi.X, hi.Y = max(hi.X, p.X), max(hi.Y, p.Y)
	}
	return image.Rectangle{Min: lo, Max: hi}
}

func (r Region) PointSlice() []image.Point {
	return r.Points[:]
}

type Card struct {
	Fingerprint string  `json:"fingerprint"`
	Confidence  float64 `json:"confidence"`
	Image       string  `json:"image,omitempty"`
}

// CardsReply 旁路查询结果：当前确认的指纹列表，以及最近一次新确认卡片的 JPEG（base64）
type CardsReply struct {
	Ids    []string `json:"ids"`
	Latest string   `json:"latest,omitempty"`
	Image  string   `json:"image,omitempty"`
}
