package camera_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/code-scanner/internal/camera"
	"github.com/dj-oyu/code-scanner/internal/camera/camtest"
	"github.com/dj-oyu/code-scanner/internal/clock"
	"github.com/dj-oyu/code-scanner/internal/metrics"
	"github.com/dj-oyu/code-scanner/internal/scanerr"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

var (
	front = camtest.Device("cam-front", "Front Camera", types.FacingUser)
	back  = camtest.Device("cam-back", "Back Camera", types.FacingEnvironment)
)

func TestDevicesIsNotCached(t *testing.T) {
	drv := camtest.New(front)
	m := camera.NewManager(drv)
	ctx := context.Background()

	devs, err := m.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devs, 1)

	drv.SetDevices(front, back)
	devs, err = m.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devs, 2)
}

func TestDevicesPermissionDenied(t *testing.T) {
	drv := camtest.New(front)
	drv.FailDevices(scanerr.ErrPermissionDenied)
	_, err := camera.NewManager(drv).Devices(context.Background())
	require.ErrorIs(t, err, scanerr.ErrPermissionDenied)
}

func TestResolve(t *testing.T) {
	devs := []types.DeviceDescriptor{front, back}

	d, err := camera.Resolve(devs, types.Constraints{DeviceID: "cam-back"})
	require.NoError(t, err)
	require.Equal(t, "cam-back", d.DeviceID)

	d, err = camera.Resolve(devs, types.Constraints{FacingMode: types.FacingEnvironment})
	require.NoError(t, err)
	require.Equal(t, "cam-back", d.DeviceID)

	d, err = camera.Resolve(devs[:1], types.Constraints{FacingMode: types.FacingEnvironment})
	require.NoError(t, err, "facing is a preference unless required")
	require.Equal(t, "cam-front", d.DeviceID)

	_, err = camera.Resolve(devs[:1], types.Constraints{FacingMode: types.FacingEnvironment, RequireFacing: true})
	require.ErrorIs(t, err, scanerr.ErrConstraintUnsatisfiable)

	_, err = camera.Resolve(devs, types.Constraints{DeviceID: "missing"})
	require.ErrorIs(t, err, scanerr.ErrDeviceNotFound)

	_, err = camera.Resolve(nil, types.Constraints{})
	require.ErrorIs(t, err, scanerr.ErrDeviceNotFound)
}

func TestOpenBusyDeviceLeavesHolderUntouched(t *testing.T) {
	drv := camtest.New(back)
	m := camera.NewManager(drv)
	ctx := context.Background()

	first, err := m.Open(ctx, types.Constraints{})
	require.NoError(t, err)
	drv.Last().PushBlank()

	_, err = m.Open(ctx, types.Constraints{DeviceID: "cam-back"})
	require.ErrorIs(t, err, scanerr.ErrDeviceBusy)

	require.Equal(t, camera.StateOpen, first.State())
	f, err := first.NextFrame()
	require.NoError(t, err)
	require.NotNil(t, f)
	require.Len(t, drv.Streams(), 1)
	require.Zero(t, drv.Last().CloseCount())

	require.NoError(t, first.Close())
	second, err := m.Open(ctx, types.Constraints{})
	require.NoError(t, err, "device is free after close")
	require.NoError(t, second.Close())
}

func TestOpenDriverRefusal(t *testing.T) {
	drv := camtest.New(back)
	drv.FailOpen(scanerr.ErrPermissionDenied)
	m := camera.NewManager(drv)

	_, err := m.Open(context.Background(), types.Constraints{})
	require.ErrorIs(t, err, scanerr.ErrPermissionDenied)
	require.False(t, m.Busy("cam-back"), "failed open must not hold the device")
}

func TestNextFrameSemantics(t *testing.T) {
	drv := camtest.New(back)
	s, err := camera.NewManager(drv).Open(context.Background(), types.Constraints{})
	require.NoError(t, err)

	f, err := s.NextFrame()
	require.NoError(t, err)
	require.Nil(t, f, "no frame before the first publish")

	drv.Last().PushBlank()
	<-s.Ready()
	f1, err := s.NextFrame()
	require.NoError(t, err)
	require.EqualValues(t, 1, f1.Seq)
	require.Equal(t, "cam-back", f1.DeviceID)

	f2, err := s.NextFrame()
	require.NoError(t, err)
	require.Same(t, f1, f2, "previous frame is returned again when nothing new arrived")

	drv.Last().PushBlank()
	drv.Last().PushBlank()
	f3, _ := s.NextFrame()
	require.EqualValues(t, 3, f3.Seq, "only the latest frame is kept")

	require.NoError(t, s.Close())
	_, err = s.NextFrame()
	require.ErrorIs(t, err, scanerr.ErrEndOfStream)
}

func TestCloseIsIdempotent(t *testing.T) {
	drv := camtest.New(back)
	met := metrics.New()
	s, err := camera.NewManager(drv, camera.WithMetrics(met)).Open(context.Background(), types.Constraints{})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, 1, drv.Last().CloseCount())
	require.Equal(t, camera.StateClosed, s.State())
	require.EqualValues(t, 1, met.SessionsClosed.Load())
}

func TestFaultReleasesOnce(t *testing.T) {
	drv := camtest.New(back)
	met := metrics.New()
	m := camera.NewManager(drv, camera.WithMetrics(met))
	s, err := m.Open(context.Background(), types.Constraints{})
	require.NoError(t, err)

	drv.Last().Fault(errors.New("usb disconnect"))
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after fault")
	}
	require.ErrorIs(t, s.Err(), scanerr.ErrSessionFault)
	require.Eventually(t, func() bool { return !m.Busy("cam-back") }, time.Second, 5*time.Millisecond)
	require.Equal(t, camera.StateError, s.State())

	_, err = s.NextFrame()
	require.ErrorIs(t, err, scanerr.ErrSessionFault)

	require.NoError(t, s.Close())
	require.Equal(t, 1, drv.Last().CloseCount())
	require.EqualValues(t, 1, met.SessionFaults.Load())
}

func TestTorchAndZoom(t *testing.T) {
	drv := camtest.New(back)
	m := camera.NewManager(drv)

	plain, err := m.Open(context.Background(), types.Constraints{})
	require.NoError(t, err)
	require.NoError(t, plain.SetTorch(true), "torch without capability is a no-op")
	require.False(t, drv.Last().Torch())
	_, err = plain.SetZoom(2)
	require.ErrorIs(t, err, scanerr.ErrUnsupportedCapability)
	require.NoError(t, plain.Close())

	drv.SetCapabilities(camera.Capabilities{Torch: true, Zoom: true, ZoomMin: 1, ZoomMax: 4})
	s, err := m.Open(context.Background(), types.Constraints{})
	require.NoError(t, err)
	require.NoError(t, s.SetTorch(true))
	require.True(t, drv.Last().Torch())

	applied, err := s.SetZoom(10)
	require.NoError(t, err)
	require.Equal(t, 4.0, applied)
	applied, err = s.SetZoom(0.25)
	require.NoError(t, err)
	require.Equal(t, 1.0, applied)
	require.Equal(t, 1.0, drv.Last().Zoom())

	require.NoError(t, s.Close())
	_, err = s.SetZoom(2)
	require.ErrorIs(t, err, scanerr.ErrEndOfStream)
}

func TestWatchSignalsDeviceChange(t *testing.T) {
	drv := camtest.New(front)
	mock := clock.NewMock(time.Unix(0, 0))
	m := camera.NewManager(drv, camera.WithClock(mock))

	ctx, cancel := context.WithCancel(context.Background())
	ch := m.Watch(ctx, time.Second)

	drv.SetDevices(front, back)
	mock.Advance(time.Second)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestManagerCloseReleasesAll(t *testing.T) {
	drv := camtest.New(front, back)
	m := camera.NewManager(drv)
	ctx := context.Background()
	a, err := m.Open(ctx, types.Constraints{DeviceID: "cam-front"})
	require.NoError(t, err)
	b, err := m.Open(ctx, types.Constraints{DeviceID: "cam-back"})
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.Equal(t, camera.StateClosed, a.State())
	require.Equal(t, camera.StateClosed, b.State())
	for _, st := range drv.Streams() {
		require.Equal(t, 1, st.CloseCount())
	}
}

func TestRegistry(t *testing.T) {
	camera.Register("camtest-registry", func(opts camera.DriverOptions) (camera.Driver, error) {
		return camtest.New(), nil
	})
	d, err := camera.NewDriver("camtest-registry", camera.DriverOptions{})
	require.NoError(t, err)
	require.Equal(t, "camtest", d.Name())
	require.Contains(t, camera.Drivers(), "camtest-registry")

	_, err = camera.NewDriver("nope", camera.DriverOptions{})
	require.Error(t, err)
}
