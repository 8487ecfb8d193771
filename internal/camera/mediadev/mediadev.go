// Package mediadev is the webcam driver backed by pion/mediadevices
package mediadev

import (
	"context"
	"errors"
	"image"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pion/mediadevices/pkg/driver"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers platform cameras
	"github.com/pion/mediadevices/pkg/prop"
	"golang.org/x/image/draw"

	"github.com/dj-oyu/code-scanner/internal/camera"
	"github.com/dj-oyu/code-scanner/internal/logger"
	"github.com/dj-oyu/code-scanner/internal/scanerr"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

func init() {
	camera.Register("webcam", func(opts camera.DriverOptions) (camera.Driver, error) {
		return New(), nil
	})
}

// Driver enumerates and opens the video recorders known to the
// mediadevices driver manager
type Driver struct{}

// New returns the webcam driver
func New() *Driver { return &Driver{} }

func (d *Driver) Name() string { return "webcam" }

func recorders() []driver.Driver {
	return driver.GetManager().Query(driver.FilterVideoRecorder())
}

// facingFromLabel guesses the facing from labels such as "FaceTime HD
// Camera (Front)" or "Back Camera"
func facingFromLabel(label string) types.FacingMode {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "front"), strings.Contains(l, "facetime"), strings.Contains(l, "user"):
		return types.FacingUser
	case strings.Contains(l, "back"), strings.Contains(l, "rear"), strings.Contains(l, "environment"):
		return types.FacingEnvironment
	}
	return types.FacingAny
}

// Devices queries the driver manager on every call
func (d *Driver) Devices(ctx context.Context) ([]types.DeviceDescriptor, error) {
	var out []types.DeviceDescriptor
	for _, dr := range recorders() {
		label := dr.Info().Label
		out = append(out, types.DeviceDescriptor{
			DeviceID: dr.ID(),
			Label:    label,
			Kind:     types.KindVideoInput,
			Facing:   facingFromLabel(label),
		})
	}
	return out, nil
}

// pickProp returns the advertised mode closest to the requested size. A
// requested size larger than every mode cannot be satisfied.
func pickProp(props []prop.Media, c types.Constraints) (prop.Media, bool) {
	if len(props) == 0 {
		return prop.Media{}, false
	}
	if c.Width <= 0 && c.Height <= 0 {
		return props[0], true
	}
	best, bestScore := -1, 0
	for i, p := range props {
		if p.Width < c.Width || p.Height < c.Height {
			continue
		}
		score := (p.Width - c.Width) + (p.Height - c.Height)
		if best < 0 || score < bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return prop.Media{}, false
	}
	return props[best], true
}

// Open starts recording from the device with the mode closest to c
func (d *Driver) Open(ctx context.Context, dev types.DeviceDescriptor, c types.Constraints, sink camera.Sink) (camera.Stream, error) {
	var dr driver.Driver
	for _, cand := range recorders() {
		if cand.ID() == dev.DeviceID {
			dr = cand
			break
		}
	}
	if dr == nil {
		return nil, scanerr.NotFoundf("webcam %s disappeared", dev.DeviceID)
	}
	rec, ok := dr.(driver.VideoRecorder)
	if !ok {
		return nil, scanerr.Newf(scanerr.CodeConstraintUnsatisfiable, "device %s cannot record video", dev.DeviceID)
	}
	if dr.Status() != driver.StateClosed {
		return nil, scanerr.Busyf("device %s already opened by another process", dev.DeviceID)
	}

	if err := dr.Open(); err != nil {
		return nil, scanerr.Wrapf(err, scanerr.CodePermissionDenied, "open %s", dev.Label)
	}
	p, ok := pickProp(dr.Properties(), c)
	if !ok {
		_ = dr.Close()
		return nil, scanerr.Newf(scanerr.CodeConstraintUnsatisfiable,
			"no mode of %s satisfies %dx%d", dev.Label, c.Width, c.Height)
	}
	reader, err := rec.VideoRecord(p)
	if err != nil {
		_ = dr.Close()
		return nil, scanerr.Wrapf(err, scanerr.CodeConstraintUnsatisfiable, "record %s", dev.Label)
	}
	logger.Info("Webcam", "Recording %s at %dx%d %s", dev.Label, p.Width, p.Height, p.FrameFormat)

	s := &stream{dr: dr, sink: sink, stop: make(chan struct{}), done: make(chan struct{})}
	go s.run(reader)
	return s, nil
}

type frameReader interface {
	Read() (image.Image, func(), error)
}

type stream struct {
	dr   driver.Driver
	sink camera.Sink

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Capabilities is empty: mediadevices exposes no torch or zoom controls
func (s *stream) Capabilities() camera.Capabilities { return camera.Capabilities{} }
func (s *stream) SetTorch(bool) error               { return scanerr.ErrUnsupportedCapability }
func (s *stream) SetZoom(float64) error             { return scanerr.ErrUnsupportedCapability }

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.closeErr = s.dr.Close()
		<-s.done
	})
	return s.closeErr
}

func (s *stream) run(r frameReader) {
	defer close(s.done)
	for {
		img, release, err := r.Read()
		select {
		case <-s.stop:
			if release != nil {
				release()
			}
			return
		default:
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			s.sink.Fail(err)
			return
		}
		frame := clone(img)
		release()
		s.sink.Publish(frame, time.Now())
	}
}

// clone copies img out of the driver's buffer, which is reused after release
func clone(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
