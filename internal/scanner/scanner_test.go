package scanner

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/code-scanner/internal/camera"
	"github.com/dj-oyu/code-scanner/internal/camera/camtest"
	"github.com/dj-oyu/code-scanner/internal/clock"
	"github.com/dj-oyu/code-scanner/internal/decoder"
	"github.com/dj-oyu/code-scanner/internal/metrics"
	"github.com/dj-oyu/code-scanner/internal/overlay"
	"github.com/dj-oyu/code-scanner/internal/scanerr"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

const wait = 2 * time.Second

type harness struct {
	t       *testing.T
	drv     *camtest.Driver
	mgr     *camera.Manager
	clk     *clock.Mock
	metrics *metrics.Metrics
	layer   *overlay.Layer
	sc      *Scanner

	scans    chan []types.DetectedCode
	errs     chan error
	statuses chan types.ScanStatus
	frames   atomic.Int32
	decoded  chan uint64
	beeps    atomic.Int32
}

type beeper struct{ n *atomic.Int32 }

func (b beeper) Beep() { b.n.Add(1) }

func newHarness(t *testing.T, dec decoder.Func) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		drv:      camtest.New(camtest.Device("cam0", "Back Camera", types.FacingEnvironment)),
		clk:      clock.NewMock(time.Unix(1_700_000_000, 0)),
		metrics:  metrics.New(),
		layer:    overlay.NewLayer(nil, nil),
		scans:    make(chan []types.DetectedCode, 32),
		errs:     make(chan error, 32),
		statuses: make(chan types.ScanStatus, 32),
		decoded:  make(chan uint64, 32),
	}
	h.mgr = camera.NewManager(h.drv, camera.WithMetrics(h.metrics))
	h.sc = New(h.mgr, dec, Options{
		OnScan:   func(c []types.DetectedCode) { h.scans <- c },
		OnError:  func(err error) { h.errs <- err },
		OnStatus: func(s types.ScanStatus) { h.statuses <- s },
		OnFrame:  func(types.Frame) { h.frames.Add(1) },
		Layer:    h.layer,
		Metrics:  h.metrics,
		Clock:    h.clk,
		Beeper:   beeper{&h.beeps},
	})
	h.sc.afterDecode = func() { h.decoded <- h.metrics.DecodesDispatched.Load() }
	t.Cleanup(h.sc.Stop)
	return h
}

func (h *harness) start(cfg Config) *camtest.Stream {
	h.t.Helper()
	require.NoError(h.t, h.sc.Start(context.Background(), cfg))
	st := h.drv.Last()
	require.NotNil(h.t, st)
	return st
}

// step pushes one frame and waits until its decode result was handled
func (h *harness) step(st *camtest.Stream) {
	h.t.Helper()
	st.Push(image.NewRGBA(image.Rect(0, 0, 100, 100)))
	h.waitDecoded()
}

func (h *harness) waitDecoded() {
	h.t.Helper()
	select {
	case <-h.decoded:
	case <-time.After(wait):
		h.t.Fatal("timed out waiting for a decode")
	}
}

func (h *harness) nextScan() []types.DetectedCode {
	h.t.Helper()
	select {
	case c := <-h.scans:
		return c
	case <-time.After(wait):
		h.t.Fatal("timed out waiting for OnScan")
		return nil
	}
}

func (h *harness) noScan() {
	h.t.Helper()
	select {
	case c := <-h.scans:
		h.t.Fatalf("unexpected OnScan %v", c)
	default:
	}
}

func (h *harness) nextErr() error {
	h.t.Helper()
	select {
	case err := <-h.errs:
		return err
	case <-time.After(wait):
		h.t.Fatal("timed out waiting for OnError")
		return nil
	}
}

func code(t *testing.T, raw string, x float64) types.DetectedCode {
	t.Helper()
	c, err := types.NewDetectedCode(raw, types.QRCode, []types.Point{
		{X: x, Y: 10}, {X: x + 30, Y: 10}, {X: x + 30, Y: 40}, {X: x, Y: 40},
	})
	require.NoError(t, err)
	return c
}

func returns(codes ...types.DetectedCode) decoder.Func {
	return func(context.Context, types.Frame, []types.Symbology) ([]types.DetectedCode, error) {
		return codes, nil
	}
}

func rawValues(codes []types.DetectedCode) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = c.RawValue
	}
	return out
}

func TestSingleDetectionUnlessAllowMultiple(t *testing.T) {
	two := []types.DetectedCode{code(t, "A", 10), code(t, "B", 50)}

	h := newHarness(t, returns(two...))
	st := h.start(Config{})
	h.step(st)
	require.Equal(t, []string{"A"}, rawValues(h.nextScan()))

	h2 := newHarness(t, returns(two...))
	st2 := h2.start(Config{AllowMultiple: true})
	h2.step(st2)
	require.Equal(t, []string{"A", "B"}, rawValues(h2.nextScan()))
}

func TestDedupWindow(t *testing.T) {
	h := newHarness(t, returns(code(t, "ABC123", 10)))
	st := h.start(Config{ScanDelay: 1000 * time.Millisecond})

	h.step(st)
	require.Equal(t, []string{"ABC123"}, rawValues(h.nextScan()))

	h.clk.Advance(500 * time.Millisecond)
	h.step(st)
	h.noScan()

	h.clk.Advance(600 * time.Millisecond)
	h.step(st)
	require.Equal(t, []string{"ABC123"}, rawValues(h.nextScan()))

	require.Equal(t, uint64(1), h.metrics.ResultsSuppressed.Load())
	require.Equal(t, uint64(2), h.metrics.ResultsEmitted.Load())
}

func TestZeroScanDelayReportsEveryDecode(t *testing.T) {
	h := newHarness(t, returns(code(t, "ABC123", 10)))
	st := h.start(Config{})
	for i := 0; i < 3; i++ {
		h.step(st)
		require.Equal(t, []string{"ABC123"}, rawValues(h.nextScan()))
	}
}

func TestDedupKeepsNewPayloadsInsideWindow(t *testing.T) {
	now := time.Unix(100, 0)
	reported := map[string]time.Time{}
	a, b := code(t, "A", 0), code(t, "B", 0)

	out := dedup([]types.DetectedCode{a}, reported, now, time.Second)
	require.Len(t, out, 1)

	out = dedup([]types.DetectedCode{a, b}, reported, now.Add(100*time.Millisecond), time.Second)
	require.Equal(t, []string{"B"}, rawValues(out))

	out = dedup([]types.DetectedCode{a, a}, reported, now.Add(2*time.Second), time.Second)
	require.Equal(t, []string{"A"}, rawValues(out), "duplicate payload in one batch")
}

func TestPauseDiscardsInFlightDecode(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	h := newHarness(t, func(ctx context.Context, f types.Frame, _ []types.Symbology) ([]types.DetectedCode, error) {
		if calls.Add(1) == 1 {
			entered <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return []types.DetectedCode{code(t, "ABC123", 10)}, nil
	})
	st := h.start(Config{})

	st.Push(image.NewRGBA(image.Rect(0, 0, 100, 100)))
	<-entered
	require.NoError(t, h.sc.Pause())
	close(release)
	h.waitDecoded()

	h.noScan()
	require.Equal(t, types.StatusPaused, h.sc.Status())
	require.Equal(t, uint64(1), h.metrics.DecodesDiscarded.Load())
	require.Zero(t, h.layer.Tracked())

	require.NoError(t, h.sc.Resume())
	h.step(st)
	require.Equal(t, []string{"ABC123"}, rawValues(h.nextScan()))
}

func TestNoDispatchWhilePaused(t *testing.T) {
	h := newHarness(t, returns(code(t, "A", 10)))
	st := h.start(Config{Paused: true})
	require.Equal(t, types.StatusPaused, h.sc.Status())

	st.PushBlank()
	require.Eventually(t, func() bool { return h.frames.Load() == 1 }, wait, time.Millisecond,
		"preview frames still flow while paused")
	require.Zero(t, h.metrics.DecodesDispatched.Load())
}

func TestStopTwiceReleasesCameraOnce(t *testing.T) {
	h := newHarness(t, returns())
	st := h.start(Config{})

	h.sc.Stop()
	h.sc.Stop()

	require.Equal(t, types.StatusIdle, h.sc.Status())
	require.Equal(t, 1, st.CloseCount())
	require.False(t, h.mgr.Busy("cam0"))
	require.Nil(t, h.sc.Session())
}

func TestDecodeFailureIsTransient(t *testing.T) {
	h := newHarness(t, func(_ context.Context, f types.Frame, _ []types.Symbology) ([]types.DetectedCode, error) {
		if f.Seq == 1 {
			return nil, errors.New("corrupt frame")
		}
		return []types.DetectedCode{code(t, "ABC123", 10)}, nil
	})
	st := h.start(Config{})

	h.step(st)
	err := h.nextErr()
	require.True(t, scanerr.IsCode(err, scanerr.CodeDecodeFailure), "got %v", err)
	h.noScan()

	h.step(st)
	require.Equal(t, []string{"ABC123"}, rawValues(h.nextScan()))
	require.Equal(t, types.StatusScanning, h.sc.Status())
	require.Equal(t, uint64(1), h.metrics.DecodeErrors.Load())
}

func TestDecoderPanicIsReportedAsFailure(t *testing.T) {
	h := newHarness(t, func(context.Context, types.Frame, []types.Symbology) ([]types.DetectedCode, error) {
		panic("boom")
	})
	st := h.start(Config{})
	h.step(st)
	require.True(t, scanerr.IsCode(h.nextErr(), scanerr.CodeDecodeFailure))
	require.Equal(t, types.StatusScanning, h.sc.Status())
}

func TestSessionFaultMovesToError(t *testing.T) {
	h := newHarness(t, returns())
	st := h.start(Config{})
	require.Equal(t, types.StatusScanning, <-h.statuses)

	st.Fault(errors.New("usb disconnected"))

	err := h.nextErr()
	require.True(t, scanerr.IsCode(err, scanerr.CodeSessionFault), "got %v", err)
	require.Equal(t, types.StatusError, <-h.statuses)
	require.Equal(t, types.StatusError, h.sc.Status())

	err = h.sc.Start(context.Background(), Config{})
	require.True(t, errors.Is(err, scanerr.ErrInvalidStateTransition))

	h.sc.Stop()
	require.Equal(t, types.StatusIdle, h.sc.Status())
	require.Equal(t, 1, st.CloseCount())

	h.start(Config{})
	require.Len(t, h.drv.Streams(), 2, "no automatic reacquisition, only the explicit Start")
}

func TestStartFailureEntersError(t *testing.T) {
	h := newHarness(t, returns())
	h.drv.FailOpen(scanerr.ErrPermissionDenied)

	err := h.sc.Start(context.Background(), Config{})
	require.True(t, errors.Is(err, scanerr.ErrPermissionDenied))
	require.Equal(t, types.StatusError, h.sc.Status())
	require.Equal(t, err, h.sc.LastError())
}

func TestStartOnBusyDevice(t *testing.T) {
	h := newHarness(t, returns())
	holder, err := h.mgr.Open(context.Background(), types.Constraints{})
	require.NoError(t, err)
	defer holder.Close()

	err = h.sc.Start(context.Background(), Config{})
	require.True(t, errors.Is(err, scanerr.ErrDeviceBusy))
	require.Equal(t, camera.StateOpen, holder.State())
	require.Zero(t, h.drv.Streams()[0].CloseCount())
}

func TestTransitions(t *testing.T) {
	h := newHarness(t, returns())

	require.True(t, errors.Is(h.sc.Pause(), scanerr.ErrInvalidStateTransition))
	require.True(t, errors.Is(h.sc.Resume(), scanerr.ErrInvalidStateTransition))

	h.start(Config{})
	require.NoError(t, h.sc.Start(context.Background(), Config{}), "start while scanning")
	require.Len(t, h.drv.Streams(), 1)
	require.NoError(t, h.sc.Resume(), "resume while scanning")

	require.NoError(t, h.sc.Pause())
	require.NoError(t, h.sc.Pause(), "pause while paused")
	require.True(t, h.sc.Config().Paused)
	require.NoError(t, h.sc.Start(context.Background(), Config{}), "start while paused")
	require.Equal(t, types.StatusPaused, h.sc.Status())
}

func TestUpdateConfigAppliesToCamera(t *testing.T) {
	h := newHarness(t, returns())
	h.drv.SetCapabilities(camera.Capabilities{Torch: true, Zoom: true, ZoomMin: 1, ZoomMax: 4})
	st := h.start(Config{})

	cfg := h.sc.Config()
	cfg.TorchEnabled = true
	zoom := 10.0
	cfg.ZoomLevel = &zoom
	cfg.Paused = true
	h.sc.UpdateConfig(cfg)

	require.True(t, st.Torch())
	require.Equal(t, 4.0, st.Zoom())
	require.Equal(t, types.StatusPaused, h.sc.Status())

	cfg.Paused = false
	h.sc.UpdateConfig(cfg)
	require.Equal(t, types.StatusScanning, h.sc.Status())
}

func TestUpdateConfigReportsUnsupportedZoom(t *testing.T) {
	h := newHarness(t, returns())
	h.start(Config{})

	zoom := 2.0
	cfg := h.sc.Config()
	cfg.ZoomLevel = &zoom
	h.sc.UpdateConfig(cfg)

	require.True(t, scanerr.IsCode(h.nextErr(), scanerr.CodeUnsupportedCapability))
	require.Equal(t, types.StatusScanning, h.sc.Status())
}

func TestUpdateConfigReopensOnNewConstraints(t *testing.T) {
	h := newHarness(t, returns())
	h.drv.SetDevices(
		camtest.Device("cam0", "Back Camera", types.FacingEnvironment),
		camtest.Device("cam1", "Front Camera", types.FacingUser),
	)
	first := h.start(Config{})
	require.Equal(t, "cam0", first.Device.DeviceID)

	cfg := h.sc.Config()
	cfg.Constraints = types.Constraints{DeviceID: "cam1"}
	h.sc.UpdateConfig(cfg)

	require.Equal(t, 1, first.CloseCount())
	require.Equal(t, "cam1", h.drv.Last().Device.DeviceID)
	require.Equal(t, "cam1", h.sc.Session().Device().DeviceID)
	require.Equal(t, types.StatusScanning, h.sc.Status())
}

func TestTrackerSeesFullSetEvenWhenSuppressed(t *testing.T) {
	h := newHarness(t, returns(code(t, "A", 10), code(t, "B", 50)))
	st := h.start(Config{
		ScanDelay:  time.Minute,
		Components: Components{Tracker: overlay.Outline, Audio: true},
	})

	h.step(st)
	require.Equal(t, []string{"A"}, rawValues(h.nextScan()))
	require.Equal(t, 2, h.layer.Tracked())

	h.step(st)
	h.noScan()
	require.Equal(t, 2, h.layer.Tracked(), "annotations refresh on suppressed decodes too")
	require.Equal(t, int32(1), h.beeps.Load())
}

func TestFinderComponentFollowsStatus(t *testing.T) {
	h := newHarness(t, returns())
	h.start(Config{Components: Components{Finder: overlay.DefaultFinder}})
	require.Equal(t, overlay.FinderScanning, h.layer.View().Border)

	require.NoError(t, h.sc.Pause())
	require.Equal(t, overlay.FinderPaused, h.layer.View().Border)

	runs := h.layer.FinderEvaluations()
	h.sc.UpdateConfig(h.sc.Config())
	require.Equal(t, runs, h.layer.FinderEvaluations(), "same finder is not re-evaluated")
}

func TestCallbackMayStopScanner(t *testing.T) {
	var sc *Scanner
	h := newHarness(t, returns(code(t, "A", 10)))
	sc = h.sc
	sc.opts.OnScan = func([]types.DetectedCode) { sc.Stop() }

	st := h.start(Config{})
	h.step(st)

	require.Equal(t, types.StatusIdle, sc.Status())
	require.Equal(t, 1, st.CloseCount())
}

// within fails the test when f does not return in time
func within(t *testing.T, what string, f func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f()
	}()
	select {
	case <-done:
	case <-time.After(wait):
		t.Fatalf("%s did not return", what)
	}
}

func TestDedupReportsAgainAtWindowBoundary(t *testing.T) {
	h := newHarness(t, returns(code(t, "ABC123", 10)))
	st := h.start(Config{ScanDelay: time.Second})

	h.step(st)
	require.Equal(t, []string{"ABC123"}, rawValues(h.nextScan()))

	h.clk.Advance(999 * time.Millisecond)
	h.step(st)
	h.noScan()

	h.clk.Advance(time.Millisecond)
	h.step(st)
	require.Equal(t, []string{"ABC123"}, rawValues(h.nextScan()))
}

func TestSessionFaultWhilePausedMovesToError(t *testing.T) {
	h := newHarness(t, returns())
	st := h.start(Config{Paused: true})
	require.Equal(t, types.StatusPaused, h.sc.Status())

	st.Fault(errors.New("usb disconnected"))

	err := h.nextErr()
	require.True(t, scanerr.IsCode(err, scanerr.CodeSessionFault), "got %v", err)
	require.Equal(t, types.StatusError, h.sc.Status())
	require.True(t, errors.Is(h.sc.Resume(), scanerr.ErrInvalidStateTransition))
	require.Len(t, h.drv.Streams(), 1)
}

func TestStatusCallbackMayStopScanner(t *testing.T) {
	h := newHarness(t, returns())
	var seen []types.ScanStatus
	h.sc.opts.OnStatus = func(st types.ScanStatus) {
		seen = append(seen, st)
		if st == types.StatusScanning {
			h.sc.Stop()
		}
	}

	var err error
	within(t, "Start", func() { err = h.sc.Start(context.Background(), Config{}) })

	require.NoError(t, err)
	require.Equal(t, types.StatusIdle, h.sc.Status())
	require.Equal(t, []types.ScanStatus{types.StatusScanning, types.StatusIdle}, seen)
	require.Equal(t, 1, h.drv.Last().CloseCount())
	require.False(t, h.mgr.Busy("cam0"))
}

func TestStatusCallbackMayResume(t *testing.T) {
	h := newHarness(t, returns())
	var resumeErr error
	h.sc.opts.OnStatus = func(st types.ScanStatus) {
		if st == types.StatusPaused {
			resumeErr = h.sc.Resume()
		}
	}
	h.start(Config{})

	var pauseErr error
	within(t, "Pause", func() { pauseErr = h.sc.Pause() })

	require.NoError(t, pauseErr)
	require.NoError(t, resumeErr)
	require.Equal(t, types.StatusScanning, h.sc.Status())
}

func TestErrorCallbackMayStopScanner(t *testing.T) {
	h := newHarness(t, returns())
	var got error
	h.sc.opts.OnError = func(err error) {
		got = err
		h.sc.Stop()
	}
	st := h.start(Config{})

	zoom := 2.0
	cfg := h.sc.Config()
	cfg.ZoomLevel = &zoom
	within(t, "UpdateConfig", func() { h.sc.UpdateConfig(cfg) })

	require.True(t, scanerr.IsCode(got, scanerr.CodeUnsupportedCapability), "got %v", got)
	require.Equal(t, types.StatusIdle, h.sc.Status())
	require.Equal(t, 1, st.CloseCount())
}

func TestRestartWaitsForPreviousDecode(t *testing.T) {
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	var calls, active, peak atomic.Int32
	h := newHarness(t, func(context.Context, types.Frame, []types.Symbology) ([]types.DetectedCode, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		first := calls.Add(1) == 1
		entered <- struct{}{}
		if first {
			// ignores cancellation, like a decoder stuck in a long pass
			<-release
		}
		return nil, nil
	})

	old := h.start(Config{})
	old.PushBlank()
	<-entered

	within(t, "Stop", h.sc.Stop)
	next := h.start(Config{})
	next.PushBlank()

	require.Never(t, func() bool { return calls.Load() > 1 }, 100*time.Millisecond, 5*time.Millisecond,
		"new session decoded while the old decode was still running")

	close(release)
	select {
	case <-entered:
	case <-time.After(wait):
		t.Fatal("new session never decoded")
	}
	h.waitDecoded()
	require.Equal(t, int32(1), peak.Load())
}
