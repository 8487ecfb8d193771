// Package camtest provides an in-memory camera driver whose frames, faults
// and failures are driven by the test.
package camtest

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/dj-oyu/code-scanner/internal/camera"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

// Driver is a controllable camera.Driver
type Driver struct {
	mu      sync.Mutex
	devices []types.DeviceDescriptor
	caps    camera.Capabilities
	enumErr error
	openErr error
	streams []*Stream
}

var _ camera.Driver = (*Driver)(nil)

// New returns a driver exposing devs
func New(devs ...types.DeviceDescriptor) *Driver {
	return &Driver{devices: devs}
}

// Device is shorthand for a video input descriptor
func Device(id, label string, facing types.FacingMode) types.DeviceDescriptor {
	return types.DeviceDescriptor{DeviceID: id, Label: label, Kind: types.KindVideoInput, Facing: facing}
}

func (d *Driver) Name() string { return "camtest" }

// SetDevices replaces the device list
func (d *Driver) SetDevices(devs ...types.DeviceDescriptor) {
	d.mu.Lock()
	d.devices = devs
	d.mu.Unlock()
}

// SetCapabilities sets the capabilities of streams opened afterwards
func (d *Driver) SetCapabilities(c camera.Capabilities) {
	d.mu.Lock()
	d.caps = c
	d.mu.Unlock()
}

// FailDevices makes Devices return err (nil to clear)
func (d *Driver) FailDevices(err error) {
	d.mu.Lock()
	d.enumErr = err
	d.mu.Unlock()
}

// FailOpen makes Open return err (nil to clear)
func (d *Driver) FailOpen(err error) {
	d.mu.Lock()
	d.openErr = err
	d.mu.Unlock()
}

func (d *Driver) Devices(ctx context.Context) ([]types.DeviceDescriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enumErr != nil {
		return nil, d.enumErr
	}
	return append([]types.DeviceDescriptor(nil), d.devices...), nil
}

func (d *Driver) Open(ctx context.Context, dev types.DeviceDescriptor, c types.Constraints, sink camera.Sink) (camera.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := &Stream{Device: dev, sink: sink, caps: d.caps}
	d.streams = append(d.streams, s)
	return s, nil
}

// Streams returns every stream opened so far
func (d *Driver) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// Last returns the most recently opened stream, or nil
func (d *Driver) Last() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// Stream is an acquired fake stream
type Stream struct {
	Device types.DeviceDescriptor

	sink camera.Sink
	caps camera.Capabilities

	mu     sync.Mutex
	closes int
	torch  bool
	zoom   float64
}

func (s *Stream) Capabilities() camera.Capabilities { return s.caps }

func (s *Stream) SetTorch(on bool) error {
	s.mu.Lock()
	s.torch = on
	s.mu.Unlock()
	return nil
}

func (s *Stream) SetZoom(level float64) error {
	s.mu.Lock()
	s.zoom = level
	s.mu.Unlock()
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

// Push publishes img as a new frame
func (s *Stream) Push(img image.Image) {
	s.sink.Publish(img, time.Now())
}

// PushBlank publishes a small grey frame
func (s *Stream) PushBlank() {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	s.Push(img)
}

// Fault reports a hardware failure
func (s *Stream) Fault(err error) { s.sink.Fail(err) }

// CloseCount returns how many times Close was called
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Torch returns the last torch state set on the stream
func (s *Stream) Torch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.torch
}

// Zoom returns the last zoom level set on the stream
func (s *Stream) Zoom() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}
