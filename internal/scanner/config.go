package scanner

import (
	"reflect"
	"time"

	"github.com/dj-oyu/code-scanner/internal/overlay"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

// DefaultScanDelay is the dedup window used by DefaultConfig
const DefaultScanDelay = 500 * time.Millisecond

// DefaultPollInterval bounds the wait between frame pulls when the camera
// gives no ready signal
const DefaultPollInterval = 33 * time.Millisecond

// Components selects the visual and control affordances of a scanner
type Components struct {
	Tracker overlay.TrackFunc
	Finder  overlay.FinderFunc
	Torch   bool
	Zoom    bool
	Audio   bool
	OnOff   bool
}

// Config is the caller-owned scan policy. The loop reads it on every tick;
// change it with UpdateConfig.
type Config struct {
	Formats       []types.Symbology
	Constraints   types.Constraints
	AllowMultiple bool
	// ScanDelay suppresses a payload reported less than ScanDelay ago.
	// Zero disables deduplication.
	ScanDelay    time.Duration
	Paused       bool
	TorchEnabled bool
	// ZoomLevel is applied when non-nil; it is clamped by the camera
	ZoomLevel  *float64
	Components Components
}

// DefaultConfig scans every symbology from the environment-facing camera
// with the default finder
func DefaultConfig() Config {
	return Config{
		Constraints: types.Constraints{FacingMode: types.FacingEnvironment},
		ScanDelay:   DefaultScanDelay,
		Components: Components{
			Finder: overlay.DefaultFinder,
			OnOff:  true,
		},
	}
}

func sameZoom(a, b *float64) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	}
	return *a == *b
}

func sameFunc(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.IsNil() || vb.IsNil() {
		return va.IsNil() == vb.IsNil()
	}
	return va.Pointer() == vb.Pointer()
}
