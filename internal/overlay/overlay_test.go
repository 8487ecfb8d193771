package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/code-scanner/pkg/types"
)

func detected(t *testing.T, raw string, pts ...types.Point) types.DetectedCode {
	t.Helper()
	c, err := types.NewDetectedCode(raw, types.QRCode, pts)
	require.NoError(t, err)
	return c
}

func squareCode(t *testing.T) types.DetectedCode {
	return detected(t, "ABC123",
		types.Point{X: 20, Y: 20}, types.Point{X: 80, Y: 20},
		types.Point{X: 80, Y: 80}, types.Point{X: 20, Y: 80})
}

func alpha(img *image.RGBA, x, y int) uint8 { return img.RGBAAt(x, y).A }

func painted(img *image.RGBA) int {
	n := 0
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			n++
		}
	}
	return n
}

func TestOutlineDrawsOnEdgesOnly(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	Outline([]types.DetectedCode{squareCode(t)}, NewCanvas(img))

	require.NotZero(t, alpha(img, 50, 20), "top edge")
	require.NotZero(t, alpha(img, 80, 50), "right edge")
	require.NotZero(t, alpha(img, 20, 20), "corner joint")
	require.Zero(t, alpha(img, 50, 50), "interior untouched")
	require.Zero(t, alpha(img, 5, 5), "exterior untouched")
}

func TestBoundingBoxOfSkewedCode(t *testing.T) {
	c := detected(t, "x",
		types.Point{X: 50, Y: 10}, types.Point{X: 90, Y: 50},
		types.Point{X: 50, Y: 90}, types.Point{X: 10, Y: 50})
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	BoundingBox([]types.DetectedCode{c}, NewCanvas(img))

	require.NotZero(t, alpha(img, 10, 10), "box corner is drawn though no point lies there")
	require.Zero(t, alpha(img, 50, 50))
}

func TestCenterTextIsCentred(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	c := detected(t, "HELLO", types.Point{X: 60, Y: 30}, types.Point{X: 140, Y: 70})
	CenterText([]types.DetectedCode{c}, NewCanvas(img))

	require.NotZero(t, alpha(img, 100, 50), "label covers the centre")
	require.Zero(t, alpha(img, 5, 5))
	require.Zero(t, alpha(img, 195, 95))
}

func TestTrackerByName(t *testing.T) {
	for _, name := range []string{"outline", "boundingBox", "bounding_box", "centerText", "center-text"} {
		f, ok := TrackerByName(name)
		require.True(t, ok, name)
		require.NotNil(t, f, name)
	}
	f, ok := TrackerByName("none")
	require.True(t, ok)
	require.Nil(t, f)
	_, ok = TrackerByName("sparkles")
	require.False(t, ok)
	require.Equal(t, []string{"bounding_box", "center_text", "outline"}, TrackerNames())
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", Truncate("short", 10))
	require.Equal(t, "abcd...", Truncate("abcdefghij", 7))
	require.Equal(t, "a b", Truncate("a\nb", 10))
}

func TestDefaultFinderPerStatus(t *testing.T) {
	require.False(t, DefaultFinder(types.StatusIdle).Visible)
	scanning := DefaultFinder(types.StatusScanning)
	paused := DefaultFinder(types.StatusPaused)
	failed := DefaultFinder(types.StatusError)
	require.True(t, scanning.Visible && paused.Visible && failed.Visible)
	require.NotEqual(t, scanning.Border, paused.Border)
	require.NotEqual(t, scanning.Border, failed.Border)
}

func TestDrawFinderMasksOutsideWindow(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	v := DefaultFinder(types.StatusScanning)
	NewCanvas(img).DrawFinder(v)

	win := v.Window(img.Bounds())
	require.InDelta(t, 70, win.Width, 0.001)

	require.NotZero(t, alpha(img, 5, 50), "mask outside the window")
	require.Zero(t, alpha(img, 100, 50), "window centre is clear")
	border := img.RGBAAt(int(win.X+win.Width/2), int(win.Y))
	require.Equal(t, uint8(0xff), border.R, "border on the window edge")
}

func TestLayerRunsFinderOnStatusChangeOnly(t *testing.T) {
	calls := 0
	l := NewLayer(nil, func(s types.ScanStatus) FinderView {
		calls++
		return DefaultFinder(s)
	})
	l.SetStatus(types.StatusScanning)
	l.SetStatus(types.StatusScanning)
	l.SetStatus(types.StatusScanning)
	require.Equal(t, 1, calls)
	require.Equal(t, FinderScanning, l.View().Border)

	l.SetStatus(types.StatusPaused)
	require.Equal(t, 2, calls)
	require.Equal(t, 2, l.FinderEvaluations())
}

func TestLayerTrack(t *testing.T) {
	b := image.Rect(0, 0, 100, 100)
	l := NewLayer(Outline, nil)
	l.Track([]types.DetectedCode{squareCode(t)}, b)
	require.Equal(t, 1, l.Tracked())
	require.NotZero(t, painted(l.TrackImage()))

	l.Track(nil, b)
	require.Zero(t, l.Tracked())
	require.Zero(t, painted(l.TrackImage()), "empty decode clears the previous annotations")
}

func TestLayerWithoutTrackerDrawsNothing(t *testing.T) {
	l := NewLayer(nil, nil)
	l.Track([]types.DetectedCode{squareCode(t)}, image.Rect(0, 0, 100, 100))
	require.Zero(t, l.Tracked())
	require.Zero(t, painted(l.TrackImage()))
}

func TestLayerCompose(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for i := range frame.Pix {
		frame.Pix[i] = 0xff
	}
	l := NewLayer(Outline, DefaultFinder)
	l.SetStatus(types.StatusScanning)
	l.Track([]types.DetectedCode{squareCode(t)}, frame.Bounds())

	out := l.Compose(frame)
	require.Equal(t, TrackColor, out.RGBAAt(50, 20))
	require.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, out.RGBAAt(50, 50))
	require.Less(t, out.RGBAAt(2, 2).R, uint8(0xff), "mask darkens the corner")
	require.Equal(t, uint8(0xff), frame.Pix[0], "frame is not modified")
}
