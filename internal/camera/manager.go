package camera

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/code-scanner/internal/clock"
	"github.com/dj-oyu/code-scanner/internal/logger"
	"github.com/dj-oyu/code-scanner/internal/metrics"
	"github.com/dj-oyu/code-scanner/internal/scanerr"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

// Manager enumerates devices of one driver and hands out exclusive sessions
type Manager struct {
	driver  Driver
	metrics *metrics.Metrics
	clock   clock.Clock

	mu   sync.Mutex
	busy map[string]*Session // deviceID -> holder
}

// Option configures a Manager
type Option func(*Manager)

// WithMetrics counts session opens, closes and faults
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithClock replaces the clock used by Watch
func WithClock(c clock.Clock) Option {
	return func(mgr *Manager) { mgr.clock = c }
}

// NewManager returns a Manager over d
func NewManager(d Driver, opts ...Option) *Manager {
	m := &Manager{
		driver: d,
		clock:  clock.Real{},
		busy:   make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Driver returns the underlying capture driver
func (m *Manager) Driver() Driver { return m.driver }

// Devices returns a fresh snapshot of the video input devices. Nothing is
// cached between calls.
func (m *Manager) Devices(ctx context.Context) ([]types.DeviceDescriptor, error) {
	devs, err := m.driver.Devices(ctx)
	if err != nil {
		return nil, scanerr.WithOp(err, "camera.Devices")
	}
	out := make([]types.DeviceDescriptor, 0, len(devs))
	for _, d := range devs {
		if d.Kind == "" {
			d.Kind = types.KindVideoInput
		}
		if d.Kind == types.KindVideoInput {
			out = append(out, d)
		}
	}
	return out, nil
}

// Watch polls the device list every interval and signals when the set of
// device ids changes. The signal carries no payload; call Devices again.
// The channel is closed when ctx ends.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) <-chan struct{} {
	ch := make(chan struct{}, 1)
	prev := m.deviceKey(ctx)
	t := m.clock.NewTicker(interval)

	go func() {
		defer close(ch)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C():
			}
			key := m.deviceKey(ctx)
			if key == prev {
				continue
			}
			logger.Debug("Camera", "Device set changed: [%s] -> [%s]", prev, key)
			prev = key
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch
}

func (m *Manager) deviceKey(ctx context.Context) string {
	devs, err := m.Devices(ctx)
	if err != nil {
		return "!" + scanerr.CodeOf(err).String()
	}
	ids := make([]string, len(devs))
	for i, d := range devs {
		ids[i] = d.DeviceID
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// Resolve picks the device for c: an exact DeviceID match first, then the
// facing preference, then the first device.
func Resolve(devs []types.DeviceDescriptor, c types.Constraints) (types.DeviceDescriptor, error) {
	if len(devs) == 0 {
		return types.DeviceDescriptor{}, scanerr.NotFoundf("no video input devices")
	}
	if c.DeviceID != "" {
		for _, d := range devs {
			if d.DeviceID == c.DeviceID {
				return d, nil
			}
		}
		return types.DeviceDescriptor{}, scanerr.NotFoundf("device %q not found", c.DeviceID)
	}
	if c.FacingMode != types.FacingAny {
		for _, d := range devs {
			if d.Facing == c.FacingMode {
				return d, nil
			}
		}
		if c.RequireFacing {
			return types.DeviceDescriptor{}, scanerr.Newf(scanerr.CodeConstraintUnsatisfiable,
				"no device facing %q", c.FacingMode)
		}
	}
	return devs[0], nil
}

// Open acquires the device selected by c. Acquisition errors are returned
// here, never later. A device held by another session fails with DeviceBusy
// and the holder is left untouched.
func (m *Manager) Open(ctx context.Context, c types.Constraints) (*Session, error) {
	devs, err := m.Devices(ctx)
	if err != nil {
		return nil, err
	}
	dev, err := Resolve(devs, c)
	if err != nil {
		return nil, scanerr.WithOp(err, "camera.Open")
	}

	s := newSession(uuid.NewString(), dev, m)

	m.mu.Lock()
	if holder, ok := m.busy[dev.DeviceID]; ok {
		m.mu.Unlock()
		return nil, scanerr.WithOp(
			scanerr.Busyf("device %s held by session %s", dev.DeviceID, holder.id), "camera.Open")
	}
	m.busy[dev.DeviceID] = s
	m.mu.Unlock()

	st, err := m.driver.Open(ctx, dev, c, s.slot)
	if err != nil {
		m.mu.Lock()
		delete(m.busy, dev.DeviceID)
		m.mu.Unlock()
		s.slot.Finish()
		return nil, scanerr.WithOp(err, "camera.Open")
	}
	s.attach(st)

	if m.metrics != nil {
		m.metrics.SessionsOpened.Add(1)
	}
	logger.Info("Camera", "Opened %s (%s) via %s, session %s", dev.DeviceID, dev.Label, m.driver.Name(), s.id)
	return s, nil
}

// release frees the busy slot held by s
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	if m.busy[s.device.DeviceID] == s {
		delete(m.busy, s.device.DeviceID)
	}
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SessionsClosed.Add(1)
	}
}

// Busy reports whether deviceID is held by an open session
func (m *Manager) Busy(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.busy[deviceID]
	return ok
}

// Close closes every open session
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.busy))
	for _, s := range m.busy {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var first error
	for _, s := range sessions {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
