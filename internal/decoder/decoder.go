// Package decoder defines the optical-code decoding capability the scan loop
// drives. Implementations are configured at construction; the loop only
// passes the requested symbologies per call.
package decoder

import (
	"context"

	"github.com/dj-oyu/code-scanner/internal/scanerr"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

// Decoder finds codes in one frame. An empty result with a nil error means
// nothing was found. Errors are per frame and never end the scan loop.
type Decoder interface {
	Decode(ctx context.Context, frame types.Frame, formats []types.Symbology) ([]types.DetectedCode, error)
}

// Func adapts a function to Decoder
type Func func(ctx context.Context, frame types.Frame, formats []types.Symbology) ([]types.DetectedCode, error)

// Decode calls f
func (f Func) Decode(ctx context.Context, frame types.Frame, formats []types.Symbology) ([]types.DetectedCode, error) {
	return f(ctx, frame, formats)
}

// FormatLister is implemented by decoders that can report what they read
type FormatLister interface {
	Formats() []types.Symbology
}

// Wants reports whether format is requested. An empty request means all.
func Wants(formats []types.Symbology, format types.Symbology) bool {
	if len(formats) == 0 {
		return true
	}
	for _, f := range formats {
		if f == format {
			return true
		}
	}
	return false
}

// Filter keeps the codes whose format is requested, preserving order
func Filter(codes []types.DetectedCode, formats []types.Symbology) []types.DetectedCode {
	if len(formats) == 0 {
		return codes
	}
	out := codes[:0:0]
	for _, c := range codes {
		if Wants(formats, c.Format) {
			out = append(out, c)
		}
	}
	return out
}

// Failure wraps err as a transient DecodeFailure
func Failure(err error, frameSeq uint64) error {
	if err == nil || scanerr.IsCode(err, scanerr.CodeDecodeFailure) {
		return err
	}
	return scanerr.Wrapf(err, scanerr.CodeDecodeFailure, "decode frame %d", frameSeq)
}
