package types

import (
	"errors"
	"math"
	"strings"
)

// Symbology identifies a barcode/QR encoding standard
type Symbology string

const (
	QRCode     Symbology = "qr_code"
	Aztec      Symbology = "aztec"
	DataMatrix Symbology = "data_matrix"
	PDF417     Symbology = "pdf417"
	EAN13      Symbology = "ean_13"
	EAN8       Symbology = "ean_8"
	UPCA       Symbology = "upc_a"
	UPCE       Symbology = "upc_e"
	Code128    Symbology = "code_128"
	Code39     Symbology = "code_39"
	Code93     Symbology = "code_93"
	Codabar    Symbology = "codabar"
	ITF        Symbology = "itf"
	Unknown    Symbology = "unknown"
)

var allSymbologies = []Symbology{
	QRCode, Aztec, DataMatrix, PDF417,
	EAN13, EAN8, UPCA, UPCE,
	Code128, Code39, Code93, Codabar, ITF,
}

// AllSymbologies returns every known symbology except Unknown
func AllSymbologies() []Symbology {
	out := make([]Symbology, len(allSymbologies))
	copy(out, allSymbologies)
	return out
}

// ParseSymbology accepts the canonical identifiers plus a few common spellings
func ParseSymbology(s string) (Symbology, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	switch norm {
	case "qr", "qrcode":
		return QRCode, true
	case "datamatrix":
		return DataMatrix, true
	case "ean13":
		return EAN13, true
	case "ean8":
		return EAN8, true
	case "upca":
		return UPCA, true
	case "upce":
		return UPCE, true
	case "code128":
		return Code128, true
	case "code39":
		return Code39, true
	case "code93":
		return Code93, true
	}
	for _, sym := range allSymbologies {
		if string(sym) == norm {
			return sym, true
		}
	}
	return Unknown, false
}

// Point is a position in frame-pixel coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned box in frame-pixel coordinates
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// BoundsOf returns the axis-aligned hull of pts. pts must not be empty.
func BoundsOf(pts []Point) Rect {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// ErrNoCornerPoints is returned when a detection has no geometry
var ErrNoCornerPoints = errors.New("detected code has no corner points")

// DetectedCode is one decoded code instance with payload and geometry
type DetectedCode struct {
	RawValue     string    `json:"raw_value"`
	Format       Symbology `json:"format"`
	CornerPoints []Point   `json:"corner_points"`
	BoundingBox  Rect      `json:"bounding_box"`
}

// NewDetectedCode builds a detection and derives its bounding box from the
// corner points. Points are kept in the order given.
func NewDetectedCode(raw string, format Symbology, points []Point) (DetectedCode, error) {
	if len(points) == 0 {
		return DetectedCode{}, ErrNoCornerPoints
	}
	pts := make([]Point, len(points))
	copy(pts, points)
	return DetectedCode{
		RawValue:     raw,
		Format:       format,
		CornerPoints: pts,
		BoundingBox:  BoundsOf(pts),
	}, nil
}

// Center returns the centre of the bounding box
func (d DetectedCode) Center() Point { return d.BoundingBox.Center() }
