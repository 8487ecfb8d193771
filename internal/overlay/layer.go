package overlay

import (
	"image"
	"sync"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/code-scanner/pkg/types"
)

// Layer holds the visual feedback state of a scanner: the tracking image
// redrawn after every decode and the finder view derived from status.
type Layer struct {
	mu      sync.Mutex
	tracker TrackFunc
	finder  FinderFunc

	status    types.ScanStatus
	view      FinderView
	viewValid bool
	finderRun int

	track   *image.RGBA
	tracked int
}

// NewLayer returns a layer using the given strategies; either may be nil
func NewLayer(tracker TrackFunc, finder FinderFunc) *Layer {
	return &Layer{tracker: tracker, finder: finder}
}

// SetTracker swaps the tracker strategy
func (l *Layer) SetTracker(f TrackFunc) {
	l.mu.Lock()
	l.tracker = f
	l.mu.Unlock()
}

// SetFinder swaps the finder strategy and re-evaluates it
func (l *Layer) SetFinder(f FinderFunc) {
	l.mu.Lock()
	l.finder = f
	l.viewValid = false
	l.refreshLocked()
	l.mu.Unlock()
}

// SetStatus re-evaluates the finder when status changed
func (l *Layer) SetStatus(s types.ScanStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.viewValid && s == l.status {
		return
	}
	l.status = s
	l.viewValid = false
	l.refreshLocked()
}

func (l *Layer) refreshLocked() {
	if l.finder == nil {
		l.view = FinderView{}
	} else {
		l.view = l.finder(l.status)
		l.finderRun++
	}
	l.viewValid = true
}

// View returns the current finder view
func (l *Layer) View() FinderView {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.viewValid {
		l.refreshLocked()
	}
	return l.view
}

// FinderEvaluations counts finder calls, for callers checking that the
// finder runs on status changes only
func (l *Layer) FinderEvaluations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finderRun
}

// Track clears the tracking image and hands codes to the tracker. Nothing
// is drawn without a tracker or without codes.
func (l *Layer) Track(codes []types.DetectedCode, bounds image.Rectangle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.track == nil || l.track.Bounds() != bounds {
		l.track = image.NewRGBA(bounds)
	} else {
		NewCanvas(l.track).Clear()
	}
	l.tracked = 0
	if l.tracker == nil || len(codes) == 0 || bounds.Empty() {
		return
	}
	l.tracker(codes, NewCanvas(l.track))
	l.tracked = len(codes)
}

// Reset clears the tracking image
func (l *Layer) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.track != nil {
		NewCanvas(l.track).Clear()
	}
	l.tracked = 0
}

// Tracked returns how many codes the last Track drew
func (l *Layer) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracked
}

// TrackImage returns a copy of the tracking image, or nil before the first
// Track
func (l *Layer) TrackImage() *image.RGBA {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.track == nil {
		return nil
	}
	cp := image.NewRGBA(l.track.Bounds())
	copy(cp.Pix, l.track.Pix)
	return cp
}

// Compose returns a copy of frame with the finder and tracking image drawn
// over it
func (l *Layer) Compose(frame image.Image) *image.RGBA {
	b := frame.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, frame, b.Min, draw.Src)

	view := l.View()
	NewCanvas(dst).DrawFinder(view)

	l.mu.Lock()
	if l.track != nil && l.track.Bounds() == b && l.tracked > 0 {
		draw.Draw(dst, b, l.track, b.Min, draw.Over)
	}
	l.mu.Unlock()
	return dst
}
