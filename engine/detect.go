package engine

import (
	iface "CardDetServer/interface"
	"CardDetServer/logger"
	"image"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// FindQuads 在帧中查找候选四边形区域
//
// 灰度 -> 中值滤波 -> 自适应阈值（反转）-> 膨胀/腐蚀，然后自顶向下遍历轮廓树。
// 面积不小于 SizeThreshold 且多边形近似恰好 4 个顶点的轮廓被接受，其子轮廓不再访问。
func FindQuads(frame gocv.Mat, p Params) []iface.Region {
	if frame.Empty() {
		return nil
	}
	mask := binarize(frame, p)
	defer mask.Close()

	hierarchy := gocv.NewMat()
	defer hierarchy.Close()
	contours := gocv.FindContoursWithParams(mask, &hierarchy, gocv.RetrievalTree, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return nil
	}

	tree := readHierarchy(hierarchy, contours.Size())
	regions := make([]iface.Region, 0, 8)
	accepted, truncated := walkHierarchy(tree, func(i int) bool {
		r, ok := quadFromContour(contours.At(i), p.SizeThreshold)
		if ok {
			regions = append(regions, r)
		}
		return ok
	}, p.MaxContours, p.MaxCandidates)
	if truncated {
		logger.Log().Warn("contour walk truncated",
			zap.Int("contours", len(tree)),
			zap.Int("accepted", len(accepted)),
			zap.Int("maxContours", p.MaxContours),
			zap.Int("maxCandidates", p.MaxCandidates))
	}
	return regions
}

// binarize returns the cleaned inverted threshold mask. The caller owns it.
func binarize(frame gocv.Mat, p Params) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	toGray(frame, &gray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.MedianBlur(gray, &blurred, medianKsize)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.AdaptiveThreshold(blurred, &thresh, 255, gocv.AdaptiveThresholdMean,
		gocv.ThresholdBinaryInv, thresholdSize, float32(p.ThresholdConstant))

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(p.KernelSize, p.KernelSize))
	defer kernel.Close()

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(thresh, &dilated, kernel)

	mask := gocv.NewMat()
	gocv.Erode(dilated, &mask, kernel)
	return mask
}

func toGray(src gocv.Mat, dst *gocv.Mat) {
	switch src.Channels() {
	case 1:
		src.CopyTo(dst)
	case 4:
		gocv.CvtColor(src, dst, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
	}
}

func readHierarchy(hierarchy gocv.Mat, n int) []node {
	tree := make([]node, n)
	if hierarchy.Empty() || hierarchy.Total() < n {
		for i := range tree {
			tree[i] = node{-1, -1, -1, -1}
		}
		return tree
	}
	for i := range tree {
		v := hierarchy.GetVeciAt(0, i)
		tree[i] = node{int(v[hNext]), int(v[hPrev]), int(v[hChild]), int(v[hParent])}
	}
	return tree
}

func quadFromContour(contour gocv.PointVector, sizeThreshold float64) (iface.Region, bool) {
	area := gocv.ContourArea(contour)
	if area < sizeThreshold {
		return iface.Region{}, false
	}
	perimeter := gocv.ArcLength(contour, true)
	approx := gocv.ApproxPolyDP(contour, approxEpsilon*perimeter, true)
	defer approx.Close()
	if approx.Size() != 4 {
		return iface.Region{}, false
	}
	pts := approx.ToPoints()
	return iface.Region{
		Points:    [4]image.Point{pts[0], pts[1], pts[2], pts[3]},
		Area:      area,
		Perimeter: perimeter,
	}, true
}
