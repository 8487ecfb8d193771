// Package config holds the application configuration: built-in defaults,
// optionally overlaid by a YAML file, then by command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/code-scanner/internal/decoder/zxing"
	"github.com/dj-oyu/code-scanner/internal/overlay"
	"github.com/dj-oyu/code-scanner/internal/scanner"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

// Config is the full application configuration
type Config struct {
	Camera  CameraConfig  `yaml:"camera"`
	Scan    ScanConfig    `yaml:"scan"`
	Decoder DecoderConfig `yaml:"decoder"`
	Monitor MonitorConfig `yaml:"monitor"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// CameraConfig selects the capture driver and device
type CameraConfig struct {
	// Driver is one of the registered camera drivers (replay, shm, webcam)
	Driver        string            `yaml:"driver"`
	Source        string            `yaml:"source"`
	FPS           int               `yaml:"fps"`
	Constraints   types.Constraints `yaml:"constraints"`
	WatchInterval time.Duration     `yaml:"watch_interval"`
}

// ScanConfig is the scan loop policy and its components
type ScanConfig struct {
	Formats       []string      `yaml:"formats"`
	AllowMultiple bool          `yaml:"allow_multiple"`
	ScanDelay     time.Duration `yaml:"scan_delay"`
	Paused        bool          `yaml:"paused"`
	Torch         bool          `yaml:"torch"`
	Zoom          *float64      `yaml:"zoom"`
	PollInterval  time.Duration `yaml:"poll_interval"`

	Components ComponentsConfig `yaml:"components"`
}

// ComponentsConfig names the overlay strategies and enables controls
type ComponentsConfig struct {
	Tracker string `yaml:"tracker"`
	Finder  bool   `yaml:"finder"`
	Torch   bool   `yaml:"torch"`
	Zoom    bool   `yaml:"zoom"`
	Audio   bool   `yaml:"audio"`
	OnOff   bool   `yaml:"on_off"`
}

// DecoderConfig tunes the zxing decoder
type DecoderConfig struct {
	TryHarder   bool `yaml:"try_harder"`
	PureBarcode bool `yaml:"pure_barcode"`
	MaxCodes    int  `yaml:"max_codes"`
}

// MonitorConfig configures the preview and status HTTP server
type MonitorConfig struct {
	Addr           string        `yaml:"addr"`
	FPS            int           `yaml:"fps"`
	StatusInterval time.Duration `yaml:"status_interval"`
	JPEGQuality    int           `yaml:"jpeg_quality"`
	MaxWidth       int           `yaml:"max_width"`
}

// MetricsConfig configures the Prometheus and pprof listeners. An empty
// address disables the listener.
type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	PprofAddr string `yaml:"pprof_addr"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Camera: CameraConfig{
			Driver:        "replay",
			Source:        "./testdata/frames",
			FPS:           10,
			Constraints:   types.Constraints{FacingMode: types.FacingEnvironment},
			WatchInterval: 2 * time.Second,
		},
		Scan: ScanConfig{
			ScanDelay:    scanner.DefaultScanDelay,
			PollInterval: scanner.DefaultPollInterval,
			Components: ComponentsConfig{
				Tracker: "outline",
				Finder:  true,
				Torch:   true,
				Zoom:    true,
				OnOff:   true,
			},
		},
		Decoder: DecoderConfig{
			TryHarder: true,
			MaxCodes:  zxing.DefaultMaxCodes,
		},
		Monitor: MonitorConfig{
			Addr:           ":8080",
			FPS:            15,
			StatusInterval: time.Second,
			JPEGQuality:    80,
			MaxWidth:       1280,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode overlays YAML data onto cfg
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks values that would otherwise fail late
func (c Config) Validate() error {
	var errs []error
	if c.Camera.Driver == "" {
		errs = append(errs, errors.New("camera.driver is required"))
	}
	if c.Camera.FPS < 0 {
		errs = append(errs, fmt.Errorf("camera.fps must not be negative, got %d", c.Camera.FPS))
	}
	if c.Scan.ScanDelay < 0 {
		errs = append(errs, fmt.Errorf("scan.scan_delay must not be negative, got %s", c.Scan.ScanDelay))
	}
	if _, err := c.Symbologies(); err != nil {
		errs = append(errs, err)
	}
	if _, ok := overlay.TrackerByName(c.Scan.Components.Tracker); !ok {
		errs = append(errs, fmt.Errorf("scan.components.tracker: unknown tracker %q (want one of %v)",
			c.Scan.Components.Tracker, overlay.TrackerNames()))
	}
	if q := c.Monitor.JPEGQuality; q < 1 || q > 100 {
		errs = append(errs, fmt.Errorf("monitor.jpeg_quality must be 1-100, got %d", q))
	}
	return errors.Join(errs...)
}

// Symbologies parses the configured formats. An empty list means all.
func (c Config) Symbologies() ([]types.Symbology, error) {
	out := make([]types.Symbology, 0, len(c.Scan.Formats))
	for _, f := range c.Scan.Formats {
		sym, ok := types.ParseSymbology(f)
		if !ok {
			return nil, fmt.Errorf("scan.formats: unknown symbology %q", f)
		}
		out = append(out, sym)
	}
	return out, nil
}

// ScannerConfig builds the scan loop config
func (c Config) ScannerConfig() (scanner.Config, error) {
	formats, err := c.Symbologies()
	if err != nil {
		return scanner.Config{}, err
	}
	tracker, ok := overlay.TrackerByName(c.Scan.Components.Tracker)
	if !ok {
		return scanner.Config{}, fmt.Errorf("unknown tracker %q", c.Scan.Components.Tracker)
	}
	var finder overlay.FinderFunc
	if c.Scan.Components.Finder {
		finder = overlay.DefaultFinder
	}
	return scanner.Config{
		Formats:       formats,
		Constraints:   c.Camera.Constraints,
		AllowMultiple: c.Scan.AllowMultiple,
		ScanDelay:     c.Scan.ScanDelay,
		Paused:        c.Scan.Paused,
		TorchEnabled:  c.Scan.Torch,
		ZoomLevel:     c.Scan.Zoom,
		Components: scanner.Components{
			Tracker: tracker,
			Finder:  finder,
			Torch:   c.Scan.Components.Torch,
			Zoom:    c.Scan.Components.Zoom,
			Audio:   c.Scan.Components.Audio,
			OnOff:   c.Scan.Components.OnOff,
		},
	}, nil
}

// DecoderOptions builds the zxing decoder options
func (c Config) DecoderOptions() (zxing.Options, error) {
	formats, err := c.Symbologies()
	if err != nil {
		return zxing.Options{}, err
	}
	return zxing.Options{
		Formats:     formats,
		TryHarder:   c.Decoder.TryHarder,
		PureBarcode: c.Decoder.PureBarcode,
		MaxCodes:    c.Decoder.MaxCodes,
	}, nil
}
