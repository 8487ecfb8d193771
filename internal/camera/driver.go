// Package camera enumerates video input devices and manages exclusive
// camera sessions on top of pluggable capture drivers.
package camera

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/dj-oyu/code-scanner/pkg/types"
)

// Driver is a capture backend. Devices and Open may fail with scanerr codes
// (PermissionDenied, EnumerationUnsupported, ConstraintUnsatisfiable).
type Driver interface {
	Name() string
	Devices(ctx context.Context) ([]types.DeviceDescriptor, error)
	// Open starts capture on dev and publishes frames into sink until the
	// returned Stream is closed or the hardware fails.
	Open(ctx context.Context, dev types.DeviceDescriptor, c types.Constraints, sink Sink) (Stream, error)
}

// Stream is one acquired hardware stream
type Stream interface {
	Capabilities() Capabilities
	SetTorch(on bool) error
	SetZoom(level float64) error
	// Close stops capture. Called exactly once by the owning Session.
	Close() error
}

// Sink receives frames from a running Stream
type Sink interface {
	Publish(img image.Image, ts time.Time)
	// Fail reports a fatal hardware fault. The stream is released afterwards.
	Fail(err error)
}

// Capabilities describes the optional controls of an acquired stream
type Capabilities struct {
	Torch   bool    `json:"torch"`
	Zoom    bool    `json:"zoom"`
	ZoomMin float64 `json:"zoom_min,omitempty"`
	ZoomMax float64 `json:"zoom_max,omitempty"`
}

// ClampZoom limits level to the supported range
func (c Capabilities) ClampZoom(level float64) float64 {
	if level < c.ZoomMin {
		return c.ZoomMin
	}
	if level > c.ZoomMax {
		return c.ZoomMax
	}
	return level
}

// DriverOptions configures a driver from the registry
type DriverOptions struct {
	// Source is driver specific: an image directory for replay, a shared
	// memory name for shm.
	Source string
	// FPS bounds the frame rate of drivers that pace themselves
	FPS int
}

// Factory builds a Driver
type Factory func(opts DriverOptions) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a driver available by name. Drivers register themselves
// from init.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("camera: Register called twice for driver " + name)
	}
	registry[name] = f
}

// NewDriver builds the registered driver called name
func NewDriver(name string, opts DriverOptions) (Driver, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("camera: unknown driver %q (available: %v)", name, Drivers())
	}
	return f(opts)
}

// Drivers lists the registered driver names
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
