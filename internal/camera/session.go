package camera

import (
	"sync"

	"github.com/dj-oyu/code-scanner/internal/logger"
	"github.com/dj-oyu/code-scanner/internal/scanerr"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

// SessionState is the lifecycle state of a Session
type SessionState int

const (
	StateClosed SessionState = iota
	StateOpening
	StateOpen
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is an exclusive hold on one camera. The hardware stream is
// released exactly once, whether by Close, a fault or Manager.Close.
type Session struct {
	id     string
	device types.DeviceDescriptor
	stream Stream
	slot   *FrameSlot
	caps   Capabilities
	mgr    *Manager

	mu    sync.Mutex
	state SessionState
	torch bool
	zoom  float64

	releaseOnce sync.Once
	releaseErr  error
}

func newSession(id string, dev types.DeviceDescriptor, mgr *Manager) *Session {
	return &Session{
		id:     id,
		device: dev,
		slot:   NewFrameSlot(dev.DeviceID),
		mgr:    mgr,
		state:  StateOpening,
	}
}

// attach finishes opening once the driver returned a stream
func (s *Session) attach(st Stream) {
	s.mu.Lock()
	s.stream = st
	s.caps = st.Capabilities()
	if s.caps.Zoom {
		s.zoom = s.caps.ZoomMin
	}
	s.state = StateOpen
	s.mu.Unlock()
	go s.watch()
}

// watch releases the stream when the driver reports a fault
func (s *Session) watch() {
	<-s.slot.Done()
	err := s.slot.Err()
	if !scanerr.IsCode(err, scanerr.CodeSessionFault) {
		return
	}
	s.mu.Lock()
	if s.state == StateOpen {
		s.state = StateError
	}
	s.mu.Unlock()
	logger.Error("Camera", "Session %s on %s faulted: %v", s.id, s.device.DeviceID, err)
	if s.mgr.metrics != nil {
		s.mgr.metrics.SessionFaults.Add(1)
	}
	s.release()
}

func (s *Session) release() error {
	s.releaseOnce.Do(func() {
		if s.stream != nil {
			s.releaseErr = s.stream.Close()
		}
		s.mgr.release(s)
	})
	return s.releaseErr
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// Device returns the acquired device
func (s *Session) Device() types.DeviceDescriptor { return s.device }

// Capabilities returns the controls the stream supports
func (s *Session) Capabilities() Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// State returns the lifecycle state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NextFrame returns the most recent frame without blocking. It returns the
// previous frame again when nothing new arrived, nil before the first frame,
// EndOfStream once closed and the fault after a hardware failure.
func (s *Session) NextFrame() (*types.Frame, error) {
	return s.slot.Latest()
}

// Ready pulses whenever a new frame is available
func (s *Session) Ready() <-chan struct{} { return s.slot.Ready() }

// Done is closed when the session ends, by Close or by a fault
func (s *Session) Done() <-chan struct{} { return s.slot.Done() }

// Err returns the reason the session ended, nil while open
func (s *Session) Err() error { return s.slot.Err() }

// Torch reports the last torch state applied
func (s *Session) Torch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.torch
}

// Zoom reports the last zoom level applied
func (s *Session) Zoom() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

// SetTorch switches the torch. Without torch capability it is a no-op.
func (s *Session) SetTorch(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return scanerr.WithOp(scanerr.ErrEndOfStream, "camera.SetTorch")
	}
	if !s.caps.Torch {
		return nil
	}
	if err := s.stream.SetTorch(on); err != nil {
		return scanerr.Wrap(err, scanerr.CodeUnsupportedCapability, "set torch")
	}
	s.torch = on
	return nil
}

// SetZoom applies level clamped to the supported range and returns the
// level actually applied
func (s *Session) SetZoom(level float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return 0, scanerr.WithOp(scanerr.ErrEndOfStream, "camera.SetZoom")
	}
	if !s.caps.Zoom {
		return 0, scanerr.Unsupportedf("device %s has no zoom control", s.device.DeviceID)
	}
	applied := s.caps.ClampZoom(level)
	if err := s.stream.SetZoom(applied); err != nil {
		return s.zoom, scanerr.Wrap(err, scanerr.CodeUnsupportedCapability, "set zoom")
	}
	s.zoom = applied
	return applied, nil
}

// Close releases the camera. Safe to call any number of times.
func (s *Session) Close() error {
	s.mu.Lock()
	wasClosed := s.state == StateClosed
	s.state = StateClosed
	s.mu.Unlock()
	if wasClosed {
		return nil
	}

	s.slot.Finish()
	err := s.release()
	logger.Info("Camera", "Session %s on %s closed", s.id, s.device.DeviceID)
	return err
}
