package webmonitor

import (
	"github.com/dj-oyu/code-scanner/internal/metrics"
	"github.com/dj-oyu/code-scanner/internal/scanerr"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

// BoundingBox is the integer pixel box sent to browsers
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is one reported code as sent to browsers. Decoded payloads stay
// in process; only the symbology and where it was found go out.
type Detection struct {
	Format types.Symbology `json:"format"`
	BBox   BoundingBox     `json:"bbox"`
}

// ScanResult is one OnScan report
type ScanResult struct {
	Timestamp  float64     `json:"timestamp"`
	Version    int         `json:"version"`
	Count      int         `json:"count"`
	Detections []Detection `json:"detections"`
}

// ComponentState tells the page which controls to show
type ComponentState struct {
	Tracker bool `json:"tracker"`
	Finder  bool `json:"finder"`
	Torch   bool `json:"torch"`
	Zoom    bool `json:"zoom"`
	Audio   bool `json:"audio"`
	OnOff   bool `json:"on_off"`
}

// CameraState describes the open camera session
type CameraState struct {
	SessionID string                 `json:"session_id"`
	Device    types.DeviceDescriptor `json:"device"`
	State     string                 `json:"state"`
	Torch     bool                   `json:"torch"`
	TorchCap  bool                   `json:"torch_supported"`
	Zoom      float64                `json:"zoom"`
	ZoomMin   float64                `json:"zoom_min,omitempty"`
	ZoomMax   float64                `json:"zoom_max,omitempty"`
}

// MonitorStats summarises preview activity
type MonitorStats struct {
	FramesSeen   uint64  `json:"frames_seen"`
	CurrentFPS   float64 `json:"current_fps"`
	TargetFPS    int     `json:"target_fps"`
	ScanCount    int     `json:"scan_count"`
	FrameWidth   int     `json:"frame_width"`
	FrameHeight  int     `json:"frame_height"`
	UptimeSecond float64 `json:"uptime_seconds"`
}

// StatusPayload is the body of /api/status and each status SSE event
type StatusPayload struct {
	Status     types.ScanStatus `json:"status"`
	Camera     *CameraState     `json:"camera,omitempty"`
	Components ComponentState   `json:"components"`
	Monitor    MonitorStats     `json:"monitor"`
	Metrics    metrics.Snapshot `json:"metrics"`
	LatestScan *ScanResult      `json:"latest_scan,omitempty"`
	History    []ScanResult     `json:"scan_history"`
	LastError  *scanerr.Wire    `json:"last_error,omitempty"`
	Timestamp  float64          `json:"timestamp"`
}

func toDetections(codes []types.DetectedCode) []Detection {
	out := make([]Detection, len(codes))
	for i, c := range codes {
		out[i] = Detection{
			Format: c.Format,
			BBox: BoundingBox{
				X: int(c.BoundingBox.X),
				Y: int(c.BoundingBox.Y),
				W: int(c.BoundingBox.Width + 0.5),
				H: int(c.BoundingBox.Height + 0.5),
			},
		}
	}
	return out
}
