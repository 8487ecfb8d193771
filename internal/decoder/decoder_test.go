package decoder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/code-scanner/internal/scanerr"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

func code(t *testing.T, raw string, f types.Symbology) types.DetectedCode {
	t.Helper()
	c, err := types.NewDetectedCode(raw, f, []types.Point{{X: 0, Y: 0}, {X: 10, Y: 10}})
	require.NoError(t, err)
	return c
}

func TestFuncAdapter(t *testing.T) {
	var got []types.Symbology
	var d Decoder = Func(func(ctx context.Context, f types.Frame, formats []types.Symbology) ([]types.DetectedCode, error) {
		got = formats
		return nil, nil
	})
	_, err := d.Decode(context.Background(), types.Frame{}, []types.Symbology{types.QRCode})
	require.NoError(t, err)
	require.Equal(t, []types.Symbology{types.QRCode}, got)
}

func TestFilter(t *testing.T) {
	codes := []types.DetectedCode{
		code(t, "a", types.QRCode),
		code(t, "b", types.EAN13),
		code(t, "c", types.QRCode),
	}
	out := Filter(codes, []types.Symbology{types.QRCode})
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0].RawValue)
	require.Equal(t, "c", out[1].RawValue)
	require.Len(t, codes, 3, "input untouched")
	require.Len(t, Filter(codes, nil), 3)
}

func TestFailure(t *testing.T) {
	err := Failure(errors.New("boom"), 7)
	require.ErrorIs(t, err, scanerr.ErrDecodeFailure)
	require.True(t, scanerr.Transient(err))
	require.Contains(t, err.Error(), "frame 7")
	require.Same(t, err, Failure(err, 8))
	require.NoError(t, Failure(nil, 1))
}
