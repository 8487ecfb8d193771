package types

import (
	"image"
	"time"
)

// Frame is a single still image sampled from a live video source
type Frame struct {
	Seq       uint64      // Sequential frame number, strictly increasing per stream
	Timestamp time.Time   // Frame capture timestamp
	DeviceID  string      // Device the frame was captured from
	Image     image.Image // Decodable image data
}

// Bounds returns the pixel bounds of the frame image
func (f Frame) Bounds() image.Rectangle {
	if f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}

// Width returns the frame width in pixels
func (f Frame) Width() int { return f.Bounds().Dx() }

// Height returns the frame height in pixels
func (f Frame) Height() int { return f.Bounds().Dy() }

// DeviceKind identifies the kind of media input device
type DeviceKind string

// KindVideoInput is the only kind the scanner consumes
const KindVideoInput DeviceKind = "videoinput"

// FacingMode is the camera facing preference
type FacingMode string

const (
	FacingAny         FacingMode = ""
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// DeviceDescriptor is an immutable snapshot of one input device
type DeviceDescriptor struct {
	DeviceID string     `json:"device_id"`
	Label    string     `json:"label"`
	Kind     DeviceKind `json:"kind"`
	Facing   FacingMode `json:"facing,omitempty"`
}

// Constraints select the device and stream shape for a camera session
type Constraints struct {
	DeviceID      string     `json:"device_id,omitempty" yaml:"device_id"`
	FacingMode    FacingMode `json:"facing_mode,omitempty" yaml:"facing_mode"`
	RequireFacing bool       `json:"require_facing,omitempty" yaml:"require_facing"`
	Width         int        `json:"width,omitempty" yaml:"width"`
	Height        int        `json:"height,omitempty" yaml:"height"`
}
