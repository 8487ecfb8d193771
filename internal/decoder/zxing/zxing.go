// Package zxing implements decoder.Decoder with gozxing
package zxing

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"golang.org/x/image/draw"

	"github.com/dj-oyu/code-scanner/internal/decoder"
	"github.com/dj-oyu/code-scanner/internal/logger"
	"github.com/dj-oyu/code-scanner/internal/scanerr"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

// DefaultMaxCodes bounds how many codes one frame may yield
const DefaultMaxCodes = 8

// Options configure the decoder at construction
type Options struct {
	// Formats restricts the readers built; empty means every supported one
	Formats     []types.Symbology
	TryHarder   bool
	PureBarcode bool
	MaxCodes    int
}

type reader struct {
	format types.Symbology
	r      gozxing.Reader
}

// Decoder runs one gozxing reader per symbology and masks each hit so the
// next pass can find further codes in the same frame. gozxing readers keep
// state between calls, so every Decode builds its own and a Decoder is safe
// for concurrent use.
type Decoder struct {
	formats  []types.Symbology
	hints    map[gozxing.DecodeHintType]interface{}
	maxCodes int
}

var _ decoder.Decoder = (*Decoder)(nil)

func newReader(f types.Symbology) gozxing.Reader {
	switch f {
	case types.QRCode:
		return qrcode.NewQRCodeReader()
	case types.DataMatrix:
		return datamatrix.NewDataMatrixReader()
	case types.Aztec:
		return aztec.NewAztecReader()
	case types.EAN13:
		return oned.NewEAN13Reader()
	case types.EAN8:
		return oned.NewEAN8Reader()
	case types.UPCA:
		return oned.NewUPCAReader()
	case types.UPCE:
		return oned.NewUPCEReader()
	case types.Code128:
		return oned.NewCode128Reader()
	case types.Code39:
		return oned.NewCode39Reader()
	case types.Code93:
		return oned.NewCode93Reader()
	case types.Codabar:
		return oned.NewCodaBarReader()
	case types.ITF:
		return oned.NewITFReader()
	}
	return nil
}

var formatOf = map[gozxing.BarcodeFormat]types.Symbology{
	gozxing.BarcodeFormat_QR_CODE:     types.QRCode,
	gozxing.BarcodeFormat_DATA_MATRIX: types.DataMatrix,
	gozxing.BarcodeFormat_AZTEC:       types.Aztec,
	gozxing.BarcodeFormat_PDF_417:     types.PDF417,
	gozxing.BarcodeFormat_EAN_13:      types.EAN13,
	gozxing.BarcodeFormat_EAN_8:       types.EAN8,
	gozxing.BarcodeFormat_UPC_A:       types.UPCA,
	gozxing.BarcodeFormat_UPC_E:       types.UPCE,
	gozxing.BarcodeFormat_CODE_128:    types.Code128,
	gozxing.BarcodeFormat_CODE_39:     types.Code39,
	gozxing.BarcodeFormat_CODE_93:     types.Code93,
	gozxing.BarcodeFormat_CODABAR:     types.Codabar,
	gozxing.BarcodeFormat_ITF:         types.ITF,
}

// New builds a decoder. Symbologies gozxing cannot read are skipped with a
// warning.
func New(opts Options) *Decoder {
	formats := opts.Formats
	if len(formats) == 0 {
		formats = types.AllSymbologies()
	}
	d := &Decoder{
		hints:    map[gozxing.DecodeHintType]interface{}{},
		maxCodes: opts.MaxCodes,
	}
	if d.maxCodes <= 0 {
		d.maxCodes = DefaultMaxCodes
	}
	if opts.TryHarder {
		d.hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	if opts.PureBarcode {
		d.hints[gozxing.DecodeHintType_PURE_BARCODE] = true
	}
	for _, f := range formats {
		if newReader(f) == nil {
			if len(opts.Formats) > 0 {
				logger.Warn("Decoder", "No reader for %s, skipping", f)
			}
			continue
		}
		d.formats = append(d.formats, f)
	}
	return d
}

// Formats lists the symbologies this decoder reads
func (d *Decoder) Formats() []types.Symbology {
	return append([]types.Symbology(nil), d.formats...)
}

// readers builds fresh readers for the configured formats that the caller
// asked for
func (d *Decoder) readers(wanted []types.Symbology) []reader {
	out := make([]reader, 0, len(d.formats))
	for _, f := range d.formats {
		if decoder.Wants(wanted, f) {
			out = append(out, reader{format: f, r: newReader(f)})
		}
	}
	return out
}

// Decode scans frame for the requested formats. A frame without codes
// yields an empty result, not an error.
func (d *Decoder) Decode(ctx context.Context, frame types.Frame, formats []types.Symbology) ([]types.DetectedCode, error) {
	if frame.Image == nil {
		return nil, decoder.Failure(scanerr.New(scanerr.CodeDecodeFailure, "frame has no image"), frame.Seq)
	}

	readers := d.readers(formats)
	var work *image.RGBA
	src := frame.Image
	var out []types.DetectedCode

	for len(out) < d.maxCodes {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		bmp, err := gozxing.NewBinaryBitmapFromImage(src)
		if err != nil {
			return nil, decoder.Failure(err, frame.Seq)
		}

		found := false
		for _, rd := range readers {
			res, err := rd.r.Decode(bmp, d.hints)
			rd.r.Reset()
			if err != nil {
				// not found / checksum / format: nothing of this symbology
				continue
			}
			code := toCode(res, rd.format, src.Bounds())
			out = append(out, code)

			if work == nil {
				work = cloneRGBA(src)
				src = work
			}
			mask(work, code.BoundingBox)
			found = true
			break
		}
		if !found {
			break
		}
	}
	return out, nil
}

func toCode(res *gozxing.Result, fallback types.Symbology, bounds image.Rectangle) types.DetectedCode {
	format, ok := formatOf[res.GetBarcodeFormat()]
	if !ok {
		format = fallback
	}
	var pts []types.Point
	for _, p := range res.GetResultPoints() {
		if p == nil {
			continue
		}
		pts = append(pts, types.Point{X: p.GetX(), Y: p.GetY()})
	}
	if len(pts) == 0 {
		pts = []types.Point{
			{X: float64(bounds.Min.X), Y: float64(bounds.Min.Y)},
			{X: float64(bounds.Max.X), Y: float64(bounds.Min.Y)},
			{X: float64(bounds.Max.X), Y: float64(bounds.Max.Y)},
			{X: float64(bounds.Min.X), Y: float64(bounds.Max.Y)},
		}
	}
	code, _ := types.NewDetectedCode(res.GetText(), format, pts)
	return code
}

func cloneRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	return dst
}

// mask paints over a found code so the next pass cannot find it again.
// Result points sit inside the symbol, so the box is grown by a margin.
func mask(img *image.RGBA, box types.Rect) {
	margin := math.Max(8, 0.25*math.Max(box.Width, box.Height))
	if box.Height < 1 {
		// 1D results are a single scan line
		margin = math.Max(margin, 0.15*box.Width)
	}
	r := image.Rect(
		int(box.X-margin), int(box.Y-margin),
		int(math.Ceil(box.X+box.Width+margin)), int(math.Ceil(box.Y+box.Height+margin)),
	).Intersect(img.Bounds())
	draw.Draw(img, r, image.NewUniform(color.White), image.Point{}, draw.Src)
}
