// Package shmcam reads frames published by an external capture daemon into
// a POSIX shared-memory ring buffer. The ring reader needs cgo on linux;
// pixel conversion is portable.
package shmcam

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// Pixel formats written by the capture daemon
const (
	FormatJPEG = 0
	FormatNV12 = 1
	FormatRGB  = 2
	FormatH264 = 3
)

// DefaultName is the ring buffer opened when no source is configured
const DefaultName = "/camera_frames"

// ErrUnsupportedFormat marks frames that carry no decodable still image
var ErrUnsupportedFormat = fmt.Errorf("shmcam: unsupported frame format")

// ToImage converts one raw ring-buffer frame into an image
func ToImage(format, width, height int, data []byte) (image.Image, error) {
	switch format {
	case FormatJPEG:
		return jpeg.Decode(bytes.NewReader(data))
	case FormatNV12:
		return nv12ToYCbCr(width, height, data)
	case FormatRGB:
		return rgbToRGBA(width, height, data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFormat, format)
	}
}

// nv12ToYCbCr splits the interleaved chroma plane of NV12 into the planar
// layout image.YCbCr expects
func nv12ToYCbCr(w, h int, data []byte) (image.Image, error) {
	if w <= 0 || h <= 0 || w%2 != 0 || h%2 != 0 {
		return nil, fmt.Errorf("shmcam: bad NV12 size %dx%d", w, h)
	}
	ySize := w * h
	if len(data) < ySize+ySize/2 {
		return nil, fmt.Errorf("shmcam: short NV12 frame: %d bytes for %dx%d", len(data), w, h)
	}
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	copy(img.Y, data[:ySize])
	uv := data[ySize : ySize+ySize/2]
	for i := 0; i < len(img.Cb); i++ {
		img.Cb[i] = uv[2*i]
		img.Cr[i] = uv[2*i+1]
	}
	return img, nil
}

func rgbToRGBA(w, h int, data []byte) (image.Image, error) {
	if len(data) < w*h*3 {
		return nil, fmt.Errorf("shmcam: short RGB frame: %d bytes for %dx%d", len(data), w, h)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i < w*h*3; i, j = i+3, j+4 {
		img.Pix[j] = data[i]
		img.Pix[j+1] = data[i+1]
		img.Pix[j+2] = data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}
