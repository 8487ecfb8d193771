// Package replay is a camera driver that plays still images from
// directories as live video. Each directory is one device.
package replay

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/dj-oyu/code-scanner/internal/camera"
	"github.com/dj-oyu/code-scanner/internal/logger"
	"github.com/dj-oyu/code-scanner/internal/scanerr"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

// DefaultFPS is used when the options leave FPS at zero
const DefaultFPS = 10

// Zoom range of the simulated zoom control
const (
	ZoomMin = 1.0
	ZoomMax = 4.0
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".webp": true,
}

func init() {
	camera.Register("replay", func(opts camera.DriverOptions) (camera.Driver, error) {
		return New(opts)
	})
}

// Driver replays image directories
type Driver struct {
	dirs []string
	fps  int
}

// New builds a driver from a list of directories separated by the OS list
// separator in opts.Source
func New(opts camera.DriverOptions) (*Driver, error) {
	if opts.Source == "" {
		return nil, fmt.Errorf("replay: no image directory configured")
	}
	fps := opts.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Driver{dirs: filepath.SplitList(opts.Source), fps: fps}, nil
}

func (d *Driver) Name() string { return "replay" }

func deviceID(dir string) string { return "replay:" + filepath.Base(filepath.Clean(dir)) }

func facingOf(dir string) types.FacingMode {
	base := strings.ToLower(filepath.Base(dir))
	switch {
	case strings.Contains(base, "front"), strings.Contains(base, "user"):
		return types.FacingUser
	case strings.Contains(base, "back"), strings.Contains(base, "rear"), strings.Contains(base, "environment"):
		return types.FacingEnvironment
	}
	return types.FacingAny
}

// Devices lists the configured directories that exist
func (d *Driver) Devices(ctx context.Context) ([]types.DeviceDescriptor, error) {
	var out []types.DeviceDescriptor
	for _, dir := range d.dirs {
		st, err := os.Stat(dir)
		if err != nil || !st.IsDir() {
			continue
		}
		out = append(out, types.DeviceDescriptor{
			DeviceID: deviceID(dir),
			Label:    dir,
			Kind:     types.KindVideoInput,
			Facing:   facingOf(dir),
		})
	}
	return out, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsPermission(err) {
			return nil, scanerr.Wrap(err, scanerr.CodePermissionDenied, "read image directory")
		}
		return nil, scanerr.Wrap(err, scanerr.CodeDeviceNotFound, "read image directory")
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// LoadImage decodes a single image file in any registered format
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Open starts replaying the directory of dev
func (d *Driver) Open(ctx context.Context, dev types.DeviceDescriptor, c types.Constraints, sink camera.Sink) (camera.Stream, error) {
	var dir string
	for _, cand := range d.dirs {
		if deviceID(cand) == dev.DeviceID {
			dir = cand
			break
		}
	}
	if dir == "" {
		return nil, scanerr.NotFoundf("replay device %s not configured", dev.DeviceID)
	}
	files, err := listImages(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, scanerr.Newf(scanerr.CodeConstraintUnsatisfiable, "no images in %s", dir)
	}

	s := &stream{
		files:  files,
		cache:  make(map[string]image.Image),
		sink:   sink,
		width:  c.Width,
		height: c.Height,
		zoom:   ZoomMin,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(time.Second / time.Duration(d.fps))
	logger.Info("Replay", "Replaying %d images from %s at %d fps", len(files), dir, d.fps)
	return s, nil
}

type stream struct {
	files  []string
	cache  map[string]image.Image
	sink   camera.Sink
	width  int
	height int

	mu    sync.Mutex
	torch bool
	zoom  float64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (s *stream) Capabilities() camera.Capabilities {
	return camera.Capabilities{Torch: true, Zoom: true, ZoomMin: ZoomMin, ZoomMax: ZoomMax}
}

func (s *stream) SetTorch(on bool) error {
	s.mu.Lock()
	s.torch = on
	s.mu.Unlock()
	return nil
}

func (s *stream) SetZoom(level float64) error {
	s.mu.Lock()
	s.zoom = level
	s.mu.Unlock()
	return nil
}

func (s *stream) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *stream) run(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; ; i = (i + 1) % len(s.files) {
		img, err := s.load(s.files[i])
		if err != nil {
			s.sink.Fail(err)
			return
		}
		s.sink.Publish(s.render(img), time.Now())

		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *stream) load(path string) (image.Image, error) {
	if img, ok := s.cache[path]; ok {
		return img, nil
	}
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	s.cache[path] = img
	return img, nil
}

// render applies the simulated zoom, torch and output size
func (s *stream) render(src image.Image) image.Image {
	s.mu.Lock()
	zoom, torch := s.zoom, s.torch
	s.mu.Unlock()

	b := src.Bounds()
	w, h := s.width, s.height
	if w <= 0 || h <= 0 {
		w, h = b.Dx(), b.Dy()
	}
	if zoom <= ZoomMin && !torch && w == b.Dx() && h == b.Dy() {
		return src
	}

	crop := ZoomRect(b, zoom)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	if torch {
		Brighten(dst, 48)
	}
	return dst
}

// ZoomRect returns the centred sub-rectangle of b shown at zoom level
func ZoomRect(b image.Rectangle, zoom float64) image.Rectangle {
	if zoom <= 1 {
		return b
	}
	w := int(float64(b.Dx()) / zoom)
	h := int(float64(b.Dy()) / zoom)
	x0 := b.Min.X + (b.Dx()-w)/2
	y0 := b.Min.Y + (b.Dy()-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}

// Brighten lifts every colour channel by delta, saturating at white
func Brighten(img *image.RGBA, delta uint8) {
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := int(img.Pix[i+c]) + int(delta)
			if v > 255 {
				v = 255
			}
			img.Pix[i+c] = uint8(v)
		}
	}
}
