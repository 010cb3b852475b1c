// Package opencv implements the camera device, the model service client and
// the QR decoder on top of GoCV.
package opencv

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

var errEmptyImage = errors.New("image is empty")

// toMat converts a frame image to a BGR Mat. The caller closes the Mat.
func toMat(img image.Image) (gocv.Mat, error) {
	if img == nil || img.Bounds().Empty() {
		return gocv.NewMat(), errEmptyImage
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("convert image: %w", err)
	}
	return mat, nil
}

// encodeJPEG encodes mat as JPEG.
func encodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases C memory released by Close.
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}

// EncodeImage encodes a frame image as JPEG.
func EncodeImage(img image.Image) ([]byte, error) {
	mat, err := toMat(img)
	defer mat.Close()
	if err != nil {
		return nil, err
	}
	return encodeJPEG(mat)
}
