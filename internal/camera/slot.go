package camera

import (
	"image"
	"sync"
	"time"

	"github.com/dj-oyu/code-scanner/internal/scanerr"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

// FrameSlot holds only the most recent frame of a stream. Publishing never
// blocks and older frames are overwritten, never queued.
type FrameSlot struct {
	deviceID string

	mu     sync.Mutex
	seq    uint64
	latest *types.Frame
	err    error

	ready    chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// NewFrameSlot returns an empty slot for deviceID
func NewFrameSlot(deviceID string) *FrameSlot {
	return &FrameSlot{
		deviceID: deviceID,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Publish stores img as the latest frame and pulses Ready. Frames published
// after the slot finished are dropped.
func (s *FrameSlot) Publish(img image.Image, ts time.Time) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.seq++
	s.latest = &types.Frame{Seq: s.seq, Timestamp: ts, DeviceID: s.deviceID, Image: img}
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Fail ends the slot with a session fault
func (s *FrameSlot) Fail(err error) {
	if err == nil {
		err = scanerr.ErrSessionFault
	} else if !scanerr.IsCode(err, scanerr.CodeSessionFault) {
		err = scanerr.Wrap(err, scanerr.CodeSessionFault, "camera stream failed")
	}
	s.finish(err)
}

// Finish ends the slot normally; later reads see EndOfStream
func (s *FrameSlot) Finish() {
	s.finish(scanerr.ErrEndOfStream)
}

func (s *FrameSlot) finish(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// Latest returns the most recent frame, or nil before the first one. After
// the slot finished it returns the terminal error.
func (s *FrameSlot) Latest() (*types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.latest, nil
}

// Seq returns the sequence number of the latest frame (0 before the first)
func (s *FrameSlot) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Ready pulses after each Publish. Pulses coalesce.
func (s *FrameSlot) Ready() <-chan struct{} { return s.ready }

// Done is closed once the slot finished or failed
func (s *FrameSlot) Done() <-chan struct{} { return s.done }

// Err returns the terminal error, nil while running
func (s *FrameSlot) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
