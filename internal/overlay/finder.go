package overlay

import (
	"image"
	"image/color"
	"math"

	"github.com/dj-oyu/code-scanner/pkg/types"
)

// FinderView describes the viewfinder for one scan status
type FinderView struct {
	Visible bool
	// Inset is the margin around the window as a fraction of the shorter
	// frame side (0 to 0.45)
	Inset       float64
	Radius      float64
	StrokeWidth float64
	Border      color.RGBA
	Mask        color.RGBA
}

// FinderFunc maps status to a viewfinder. It depends on status only.
type FinderFunc func(status types.ScanStatus) FinderView

// Window returns the square viewfinder window centred in b
func (v FinderView) Window(b image.Rectangle) types.Rect {
	inset := math.Max(0, math.Min(v.Inset, 0.45))
	short := float64(b.Dx())
	if dy := float64(b.Dy()); dy < short {
		short = dy
	}
	side := short * (1 - 2*inset)
	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2
	return types.Rect{X: cx - side/2, Y: cy - side/2, Width: side, Height: side}
}

// Status colours of the default finder
var (
	FinderScanning = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	FinderPaused   = color.RGBA{R: 0xff, G: 0xc1, B: 0x07, A: 0xff}
	FinderError    = color.RGBA{R: 0xe5, G: 0x39, B: 0x35, A: 0xff}
	FinderMask     = color.RGBA{A: 0x80}
)

// DefaultFinder shows a dimmed mask with a rounded window whose border
// colour reflects status. Nothing is drawn while idle.
func DefaultFinder(status types.ScanStatus) FinderView {
	v := FinderView{
		Visible:     true,
		Inset:       0.15,
		Radius:      12,
		StrokeWidth: 4,
		Mask:        FinderMask,
	}
	switch status {
	case types.StatusScanning:
		v.Border = FinderScanning
	case types.StatusPaused:
		v.Border = FinderPaused
		v.Mask = color.RGBA{A: 0xb0}
	case types.StatusError:
		v.Border = FinderError
		v.StrokeWidth = 6
	default:
		return FinderView{}
	}
	return v
}
