package engine

import (
	"image"
	"math"
	"slices"
	"strings"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

const hexDigits = "0123456789ABCDEF"

// minHexWidth is the minimum number of hex digits in a fingerprint.
const minHexWidth = 4

// Fingerprint 计算图像的感知哈希（pHash），返回大写十六进制字符串
//
// 图像先按 cropScale 居中裁剪，转灰度后缩放到 hashSize*highFreqFactor 见方，
// 做二维 DCT-II，取左上角 hashSize×hashSize 低频系数，与其中位数比较得到比特位，
// 按行优先、高位在前编码。空图像返回 EmptyFingerprint。
func Fingerprint(img gocv.Mat, cropScale float64, hashSize, highFreqFactor int) string {
	if img.Empty() || hashSize < 2 {
		return EmptyFingerprint
	}
	highFreqFactor = max(highFreqFactor, 1)

	src := img
	if cropScale > 0 && cropScale < 1 {
		rect := centerCrop(img.Cols(), img.Rows(), cropScale)
		if rect.Empty() {
			return EmptyFingerprint
		}
		roi := img.Region(rect)
		defer roi.Close()
		src = roi
	}

	gray := gocv.NewMat()
	defer gray.Close()
	toGray(src, &gray)

	side := hashSize * highFreqFactor
	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(gray, &small, image.Pt(side, side), 0, 0, gocv.InterpolationArea)
	if small.Empty() {
		return EmptyFingerprint
	}

	pixels := make([]float64, side*side)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			pixels[y*side+x] = float64(small.GetUCharAt(y, x))
		}
	}
	coeffs := dct2(pixels, side)

	low := make([]float64, 0, hashSize*hashSize)
	for y := 0; y < hashSize; y++ {
		for x := 0; x < hashSize; x++ {
			low = append(low, coeffs.At(y, x))
		}
	}
	med := median(low)
	bits := make([]bool, len(low))
	for i, v := range low {
		bits[i] = v > med
	}
	return bitsToHex(bits)
}

// centerCrop keeps the central scale fraction of a w×h image.
func centerCrop(w, h int, scale float64) image.Rectangle {
	cw, ch := int(float64(w)*scale), int(float64(h)*scale)
	x0, y0 := (w-cw)/2, (h-ch)/2
	return image.Rect(x0, y0, x0+cw, y0+ch)
}

// dctMatrix is the unnormalized DCT-II basis: C[k][i] = 2cos(πk(2i+1)/2n).
func dctMatrix(n int) *mat.Dense {
	c := mat.NewDense(n, n, nil)
	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			c.Set(k, i, 2*math.Cos(math.Pi*float64(k)*float64(2*i+1)/float64(2*n)))
		}
	}
	return c
}

// dct2 applies the DCT-II along columns and then rows of an n×n row-major
// block.
func dct2(pixels []float64, n int) *mat.Dense {
	x := mat.NewDense(n, n, pixels)
	c := dctMatrix(n)
	var out mat.Dense
	out.Product(c, x, c.T())
	return &out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := slices.Clone(values)
	slices.Sort(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

// bitsToHex packs bits most significant first into uppercase hex, left
// padded with zeros to at least minHexWidth digits.
func bitsToHex(bits []bool) string {
	digits := (len(bits) + 3) / 4
	var sb strings.Builder
	for i := digits; i < minHexWidth; i++ {
		sb.WriteByte('0')
	}
	nibble, count := 0, digits*4-len(bits)
	for _, b := range bits {
		nibble <<= 1
		if b {
			nibble |= 1
		}
		count++
		if count == 4 {
			sb.WriteByte(hexDigits[nibble])
			nibble, count = 0, 0
		}
	}
	return sb.String()
}
