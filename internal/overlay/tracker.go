package overlay

import (
	"image/color"
	"sort"
	"strings"

	"github.com/dj-oyu/code-scanner/pkg/types"
)

// TrackFunc draws annotations for the detections of one decode onto s. It
// must not keep state between calls.
type TrackFunc func(codes []types.DetectedCode, s Surface)

// Tracker colours
var (
	TrackColor     = color.RGBA{R: 0x00, G: 0xe6, B: 0x4c, A: 0xff}
	TextColor      = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	TextBackground = color.RGBA{A: 0xb0}
)

const (
	trackWidth  = 3
	textPadding = 3
)

// Outline strokes the polygon through each code's corner points
func Outline(codes []types.DetectedCode, s Surface) {
	for _, c := range codes {
		s.StrokePolygon(c.CornerPoints, TrackColor, trackWidth)
	}
}

// BoundingBox strokes each code's axis-aligned box
func BoundingBox(codes []types.DetectedCode, s Surface) {
	for _, c := range codes {
		s.StrokeRect(c.BoundingBox, TrackColor, trackWidth)
	}
}

// CenterText writes each code's payload centred on its box
func CenterText(codes []types.DetectedCode, s Surface) {
	for _, c := range codes {
		label := Truncate(c.RawValue, 48)
		w, h := s.TextSize(label)
		center := c.Center()
		x, y := center.X-w/2, center.Y-h/2
		s.FillRect(types.Rect{
			X: x - textPadding, Y: y - textPadding,
			Width: w + 2*textPadding, Height: h + 2*textPadding,
		}, TextBackground)
		s.Text(types.Point{X: x, Y: y}, label, TextColor)
	}
}

// Truncate shortens s to at most n runes, marking the cut
func Truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

var trackers = map[string]TrackFunc{
	"outline":      Outline,
	"bounding_box": BoundingBox,
	"center_text":  CenterText,
}

// TrackerByName returns a built-in strategy. Accepts snake_case and
// camelCase names; "" and "none" select no tracker.
func TrackerByName(name string) (TrackFunc, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "", "none", "off":
		return nil, true
	case "boundingbox":
		key = "bounding_box"
	case "centertext":
		key = "center_text"
	}
	f, ok := trackers[strings.ReplaceAll(key, "-", "_")]
	return f, ok
}

// TrackerNames lists the built-in strategies
func TrackerNames() []string {
	names := make([]string, 0, len(trackers))
	for n := range trackers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
