package engine

import (
	"errors"
	"fmt"
)

// EmptyFingerprint 无法生成归一化图像时返回的哨兵指纹
const EmptyFingerprint = ""

// approxEpsilon is the polygon simplification tolerance as a fraction of the
// contour perimeter.
const approxEpsilon = 0.04

const (
	medianKsize   = 5
	thresholdSize = 5
)

var ErrEmptyImage = errors.New("image is empty")

// Params 检测器参数（帧间固定）
type Params struct {
	// Bias subtracted from the local mean in adaptive thresholding. Default 5
	ThresholdConstant float64 `yaml:"thresholdConstant" json:"thresholdConstant"`
	// Side of the square dilate/erode kernel. Default 3
	KernelSize int `yaml:"kernelSize" json:"kernelSize"`
	// Minimum contour area in pixels for a candidate. Default 10000
	SizeThreshold float64 `yaml:"sizeThreshold" json:"sizeThreshold"`
	// Central fraction of the normalized image kept for hashing. Default 0.95
	CropScale float64 `yaml:"cropScale" json:"cropScale"`
	// Side of the retained DCT block; the fingerprint has HashSize² bits. Default 4
	HashSize int `yaml:"hashSize" json:"hashSize"`
	// The image is resized to HashSize*HighFreqFactor before the DCT. Default 4
	HighFreqFactor int `yaml:"highFreqFactor" json:"highFreqFactor"`
	// Upper bound on hierarchy nodes visited per frame, 0 = unbounded. Default 4096
	MaxContours int `yaml:"maxContours" json:"maxContours"`
	// Upper bound on candidates accepted per frame, 0 = unbounded. Default 64
	MaxCandidates int `yaml:"maxCandidates" json:"maxCandidates"`
	// Fixed normalized size. When either is 0 the size follows the region sides.
	WarpWidth  int `yaml:"warpWidth" json:"warpWidth"`
	WarpHeight int `yaml:"warpHeight" json:"warpHeight"`
}

func DefaultParams() Params {
	return Params{
		ThresholdConstant: 5,
		KernelSize:        3,
		SizeThreshold:     10000,
		CropScale:         0.95,
		HashSize:          4,
		HighFreqFactor:    4,
		MaxContours:       4096,
		MaxCandidates:     64,
	}
}

func (p Params) Validate() error {
	if p.KernelSize < 1 || p.KernelSize%2 == 0 {
		return fmt.Errorf("kernelSize must be a positive odd number, got %d", p.KernelSize)
	}
	if p.SizeThreshold < 0 {
		return fmt.Errorf("sizeThreshold must not be negative, got %v", p.SizeThreshold)
	}
	if p.CropScale <= 0 || p.CropScale > 1 {
		return fmt.Errorf("cropScale must be within (0, 1], got %v", p.CropScale)
	}
	if p.HashSize < 2 {
		return fmt.Errorf("hashSize must be at least 2, got %d", p.HashSize)
	}
	if p.HighFreqFactor < 1 {
		return fmt.Errorf("highFreqFactor must be at least 1, got %d", p.HighFreqFactor)
	}
	if p.MaxContours < 0 || p.MaxCandidates < 0 {
		return fmt.Errorf("maxContours and maxCandidates must not be negative, got %d and %d", p.MaxContours, p.MaxCandidates)
	}
	if p.WarpWidth < 0 || p.WarpHeight < 0 {
		return fmt.Errorf("warp size must not be negative, got %dx%d", p.WarpWidth, p.WarpHeight)
	}
	return nil
}
