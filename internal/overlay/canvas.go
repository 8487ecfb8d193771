// Package overlay draws scan feedback: per-code tracker annotations and the
// status-driven viewfinder.
package overlay

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/dj-oyu/code-scanner/pkg/types"
)

// Surface is the drawing context handed to tracker strategies. Coordinates
// are frame pixels.
type Surface interface {
	Bounds() image.Rectangle
	StrokePolygon(pts []types.Point, c color.Color, width float64)
	StrokeRect(r types.Rect, c color.Color, width float64)
	FillRect(r types.Rect, c color.Color)
	// Text draws s with its top-left corner at p
	Text(p types.Point, s string, c color.Color)
	TextSize(s string) (w, h float64)
}

// Canvas implements Surface on an RGBA image
type Canvas struct {
	img  *image.RGBA
	face font.Face
}

var _ Surface = (*Canvas)(nil)

// NewCanvas draws onto img
func NewCanvas(img *image.RGBA) *Canvas {
	return &Canvas{img: img, face: basicfont.Face7x13}
}

// Image returns the backing image
func (c *Canvas) Image() *image.RGBA { return c.img }

func (c *Canvas) Bounds() image.Rectangle { return c.img.Bounds() }

// Clear makes every pixel transparent
func (c *Canvas) Clear() {
	for i := range c.img.Pix {
		c.img.Pix[i] = 0
	}
}

func (c *Canvas) rasterizer() *vector.Rasterizer {
	b := c.img.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	return z
}

func (c *Canvas) fill(z *vector.Rasterizer, col color.Color) {
	b := c.img.Bounds()
	z.Draw(c.img, b, image.NewUniform(col), image.Point{})
}

// quad adds a convex quadrilateral with positive winding
func quad(z *vector.Rasterizer, b image.Rectangle, p [4]types.Point) {
	area := 0.0
	for i := range p {
		j := (i + 1) % 4
		area += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	if area < 0 {
		p[1], p[3] = p[3], p[1]
	}
	ox, oy := float64(b.Min.X), float64(b.Min.Y)
	z.MoveTo(float32(p[0].X-ox), float32(p[0].Y-oy))
	for _, q := range p[1:] {
		z.LineTo(float32(q.X-ox), float32(q.Y-oy))
	}
	z.ClosePath()
}

func square(z *vector.Rasterizer, b image.Rectangle, at types.Point, half float64) {
	quad(z, b, [4]types.Point{
		{X: at.X - half, Y: at.Y - half},
		{X: at.X + half, Y: at.Y - half},
		{X: at.X + half, Y: at.Y + half},
		{X: at.X - half, Y: at.Y + half},
	})
}

// StrokePolygon draws the closed outline through pts. Each edge is a
// quad and each vertex a square joint, all wound the same way so
// overlaps do not cancel.
func (c *Canvas) StrokePolygon(pts []types.Point, col color.Color, width float64) {
	if len(pts) < 2 || width <= 0 {
		return
	}
	b := c.img.Bounds()
	z := c.rasterizer()
	half := width / 2
	n := len(pts)
	if n == 2 {
		n = 1 // an open segment, not a degenerate loop
	}
	for i := 0; i < n; i++ {
		a, e := pts[i], pts[(i+1)%len(pts)]
		dx, dy := e.X-a.X, e.Y-a.Y
		l := math.Hypot(dx, dy)
		if l == 0 {
			continue
		}
		nx, ny := -dy/l*half, dx/l*half
		quad(z, b, [4]types.Point{
			{X: a.X + nx, Y: a.Y + ny},
			{X: e.X + nx, Y: e.Y + ny},
			{X: e.X - nx, Y: e.Y - ny},
			{X: a.X - nx, Y: a.Y - ny},
		})
	}
	for _, p := range pts {
		square(z, b, p, half)
	}
	c.fill(z, col)
}

// StrokeRect outlines r
func (c *Canvas) StrokeRect(r types.Rect, col color.Color, width float64) {
	c.StrokePolygon(rectPoints(r), col, width)
}

// FillRect paints r
func (c *Canvas) FillRect(r types.Rect, col color.Color) {
	if r.Width <= 0 || r.Height <= 0 {
		return
	}
	z := c.rasterizer()
	p := rectPoints(r)
	quad(z, c.img.Bounds(), [4]types.Point{p[0], p[1], p[2], p[3]})
	c.fill(z, col)
}

func rectPoints(r types.Rect) []types.Point {
	return []types.Point{
		{X: r.X, Y: r.Y},
		{X: r.X + r.Width, Y: r.Y},
		{X: r.X + r.Width, Y: r.Y + r.Height},
		{X: r.X, Y: r.Y + r.Height},
	}
}

func (c *Canvas) Text(p types.Point, s string, col color.Color) {
	ascent := c.face.Metrics().Ascent
	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: c.face,
		Dot:  fixed.Point26_6{X: fixed.I(int(math.Round(p.X))), Y: fixed.I(int(math.Round(p.Y))) + ascent},
	}
	d.DrawString(s)
}

func (c *Canvas) TextSize(s string) (float64, float64) {
	w := font.MeasureString(c.face, s).Ceil()
	h := c.face.Metrics().Height.Ceil()
	return float64(w), float64(h)
}

// roundedRect adds a rounded rectangle path. Clockwise and counter
// clockwise paths cancel where they overlap, which cuts holes.
func roundedRect(z *vector.Rasterizer, b image.Rectangle, r types.Rect, radius float64, clockwise bool) {
	radius = math.Max(0, math.Min(radius, math.Min(r.Width, r.Height)/2))
	ox, oy := float64(b.Min.X), float64(b.Min.Y)
	x0, y0 := float32(r.X-ox), float32(r.Y-oy)
	x1, y1 := float32(r.X+r.Width-ox), float32(r.Y+r.Height-oy)
	k := float32(radius)

	if clockwise {
		z.MoveTo(x0+k, y0)
		z.LineTo(x1-k, y0)
		z.QuadTo(x1, y0, x1, y0+k)
		z.LineTo(x1, y1-k)
		z.QuadTo(x1, y1, x1-k, y1)
		z.LineTo(x0+k, y1)
		z.QuadTo(x0, y1, x0, y1-k)
		z.LineTo(x0, y0+k)
		z.QuadTo(x0, y0, x0+k, y0)
	} else {
		z.MoveTo(x0+k, y0)
		z.QuadTo(x0, y0, x0, y0+k)
		z.LineTo(x0, y1-k)
		z.QuadTo(x0, y1, x0+k, y1)
		z.LineTo(x1-k, y1)
		z.QuadTo(x1, y1, x1, y1-k)
		z.LineTo(x1, y0+k)
		z.QuadTo(x1, y0, x1-k, y0)
		z.LineTo(x0+k, y0)
	}
	z.ClosePath()
}

// DrawFinder renders the viewfinder mask and border described by v
func (c *Canvas) DrawFinder(v FinderView) {
	if !v.Visible {
		return
	}
	b := c.img.Bounds()
	win := v.Window(b)
	frame := types.Rect{X: float64(b.Min.X), Y: float64(b.Min.Y), Width: float64(b.Dx()), Height: float64(b.Dy())}

	if v.Mask.A > 0 {
		z := c.rasterizer()
		roundedRect(z, b, frame, 0, true)
		roundedRect(z, b, win, v.Radius, false)
		c.fill(z, v.Mask)
	}
	if v.Border.A > 0 && v.StrokeWidth > 0 {
		half := v.StrokeWidth / 2
		outer := types.Rect{X: win.X - half, Y: win.Y - half, Width: win.Width + v.StrokeWidth, Height: win.Height + v.StrokeWidth}
		inner := types.Rect{X: win.X + half, Y: win.Y + half, Width: win.Width - v.StrokeWidth, Height: win.Height - v.StrokeWidth}
		z := c.rasterizer()
		roundedRect(z, b, outer, v.Radius+half, true)
		roundedRect(z, b, inner, math.Max(0, v.Radius-half), false)
		c.fill(z, v.Border)
	}
}
