package engine

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"gocv.io/x/gocv"
)

// Base64ToMat 将 base64 字符串（可带 data:image/... 前缀）转为 gocv.Mat
func Base64ToMat(b64 string) (gocv.Mat, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("base64 decode failed: %w", err)
	}
	return DecodeFrame(data)
}

// DecodeFrame decodes an encoded image (JPEG, PNG, ...) into a BGR Mat.
func DecodeFrame(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), ErrEmptyImage
	}
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		_ = img.Close()
		return gocv.NewMat(), fmt.Errorf("image decode failed: %w", err)
	}
	if img.Empty() {
		// IMDecode 返回空 Mat 表示解码失败
		_ = img.Close()
		return gocv.NewMat(), fmt.Errorf("decoded image is empty or unsupported format: %w", ErrEmptyImage)
	}
	return img, nil
}

func EncodeJPEG(img gocv.Mat) ([]byte, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}
	defer buf.Close()
	return bytes.Clone(buf.GetBytes()), nil
}

func EncodeBase64JPEG(img gocv.Mat) (string, error) {
	data, err := EncodeJPEG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
