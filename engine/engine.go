package engine

import (
	iface "CardDetServer/interface"
	"CardDetServer/logger"
	"CardDetServer/tracker"
	"image"
	"sync/atomic"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const IDLE = 0x0003
const BUSY = 0x0004

// Detector 单帧处理流水线：候选检测 -> 透视归一化 -> 指纹 -> 标注 -> 跟踪
type Detector struct {
	Params Params
	state  atomic.Int32
}

func NewDetector(p Params) (*Detector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{Params: p}
	d.state.Store(IDLE)
	return d, nil
}

func (d *Detector) State() int {
	return int(d.state.Load())
}

// Card is a newly confirmed identity together with its normalized image.
type Card struct {
	Fingerprint string
	Confidence  float64
	Region      iface.Region
	Image       gocv.Mat
}

// FrameResult 单帧处理结果
//
// Skipped 为 true 时 Annotated 就是输入帧本身，跟踪器未被修改。
type FrameResult struct {
	Annotated  gocv.Mat
	Detections []tracker.Detection
	// cards that became confirmed in this frame
	Cards   []Card
	Skipped bool
}

// Close releases the Mats owned by the result. A skipped result does not own
// its frame.
func (r *FrameResult) Close() {
	if !r.Skipped {
		_ = r.Annotated.Close()
	}
	for i := range r.Cards {
		_ = r.Cards[i].Image.Close()
	}
	r.Cards = nil
}

func processable(frame gocv.Mat) bool {
	return !frame.Empty() && frame.Type() == gocv.MatTypeCV8UC3
}

func (d *Detector) warpSize() image.Point {
	return image.Pt(d.Params.WarpWidth, d.Params.WarpHeight)
}

// Detect 检测帧中的候选区域并计算指纹，无法生成指纹的候选被丢弃
func (d *Detector) Detect(frame gocv.Mat) []tracker.Detection {
	regions := FindQuads(frame, d.Params)
	dets := make([]tracker.Detection, 0, len(regions))
	for _, r := range regions {
		fp := d.fingerprint(frame, r)
		if fp == EmptyFingerprint {
			logger.Log().Debug("candidate dropped, empty fingerprint", zap.Any("points", r.Points))
			continue
		}
		dets = append(dets, tracker.Detection{Fingerprint: fp, Region: r})
	}
	return dets
}

func (d *Detector) fingerprint(frame gocv.Mat, r iface.Region) string {
	warped, err := NormalizeTo(frame, r, d.warpSize())
	defer warped.Close()
	if err != nil {
		return EmptyFingerprint
	}
	return Fingerprint(warped, d.Params.CropScale, d.Params.HashSize, d.Params.HighFreqFactor)
}

// Process 处理一帧并更新跟踪器
//
// 空帧或非 3 通道 8 位帧原样返回（Skipped），不修改跟踪器。
// 没有候选时跟踪器仍以空检测更新，已有条目照常衰减。
func (d *Detector) Process(frame gocv.Mat, tr *tracker.Tracker) *FrameResult {
	if !processable(frame) {
		return &FrameResult{Annotated: frame, Skipped: true}
	}
	if !d.state.CompareAndSwap(IDLE, BUSY) {
		logger.Log().Warn("detector is busy, frame skipped")
		return &FrameResult{Annotated: frame, Skipped: true}
	}
	defer d.state.Store(IDLE)

	annotated := frame.Clone()
	if annotated.Empty() {
		_ = annotated.Close()
		return &FrameResult{Annotated: frame, Skipped: true}
	}

	dets := d.Detect(frame)
	Annotate(&annotated, dets)
	confirmed := tr.Update(dets)

	cards := d.cropCards(frame, confirmed)
	return &FrameResult{Annotated: annotated, Detections: dets, Cards: cards}
}

// cropCards 为新确认的卡片生成规范化图像，无法透视变换的卡片被跳过
func (d *Detector) cropCards(frame gocv.Mat, confirmed []tracker.Confirmation) []Card {
	cards := make([]Card, 0, len(confirmed))
	for _, c := range confirmed {
		img, err := NormalizeTo(frame, c.Region, d.warpSize())
		if err != nil {
			logger.Log().Warn("normalize confirmed card failed, card skipped",
				zap.String("fingerprint", c.Fingerprint), zap.Error(err))
			_ = img.Close()
			continue
		}
		cards = append(cards, Card{
			Fingerprint: c.Fingerprint,
			Confidence:  c.Confidence,
			Region:      c.Region,
			Image:       img,
		})
	}
	return cards
}
