// Package scanner runs the scan loop: it pulls the latest camera frame,
// keeps at most one decode in flight, and reports deduplicated detections.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/code-scanner/internal/camera"
	"github.com/dj-oyu/code-scanner/internal/clock"
	"github.com/dj-oyu/code-scanner/internal/decoder"
	"github.com/dj-oyu/code-scanner/internal/logger"
	"github.com/dj-oyu/code-scanner/internal/metrics"
	"github.com/dj-oyu/code-scanner/internal/overlay"
	"github.com/dj-oyu/code-scanner/internal/scanerr"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

// Beeper gives audible feedback for reported detections
type Beeper interface {
	Beep()
}

// Options wires a Scanner to its consumers. Every field is optional.
//
// OnScan and OnFrame run on the loop goroutine. OnStatus and OnError are
// queued and delivered in order once the scanner has released its locks,
// on the goroutine that caused them or on one already delivering. No
// callback runs under a scanner lock, so callbacks may call back into the
// Scanner, Stop included.
type Options struct {
	OnScan   func(codes []types.DetectedCode)
	OnError  func(err error)
	OnStatus func(status types.ScanStatus)
	OnFrame  func(frame types.Frame)

	Layer        *overlay.Layer
	Metrics      *metrics.Metrics
	Clock        clock.Clock
	PollInterval time.Duration
	Beeper       Beeper
}

// Scanner owns one camera session at a time and the loop driving it
type Scanner struct {
	mgr  *camera.Manager
	dec  decoder.Decoder
	opts Options
	clk  clock.Clock

	// life serializes Start/Stop/Pause/Resume/UpdateConfig
	life sync.Mutex

	mu      sync.Mutex
	status  types.ScanStatus
	cfg     Config
	session *camera.Session
	gen     uint64
	lastErr error
	cancel  context.CancelFunc
	// loopDone closes when the most recent loop goroutine exited, which is
	// only after its last decode returned
	loopDone chan struct{}

	pending    []notice
	delivering bool

	finder    overlay.FinderFunc
	finderSet bool

	// afterDecode runs on the loop goroutine once a decode result has been
	// handled. Tests use it to step the loop.
	afterDecode func()
}

// notice is a queued OnStatus or OnError call
type notice struct {
	status types.ScanStatus
	err    error
}

type result struct {
	gen   uint64
	frame types.Frame
	codes []types.DetectedCode
	err   error
	took  time.Duration
}

// New creates an idle scanner
func New(mgr *camera.Manager, dec decoder.Decoder, opts Options) *Scanner {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	s := &Scanner{
		mgr:  mgr,
		dec:  dec,
		opts: opts,
		clk:  opts.Clock,
	}
	if opts.Layer != nil {
		opts.Layer.SetStatus(types.StatusIdle)
	}
	return s
}

// Status returns the loop state
func (s *Scanner) Status() types.ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Config returns the config in effect
func (s *Scanner) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Session returns the open camera session, or nil when idle
func (s *Scanner) Session() *camera.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// LastError returns the most recent error reported by the scanner
func (s *Scanner) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Layer returns the overlay layer, which may be nil
func (s *Scanner) Layer() *overlay.Layer { return s.opts.Layer }

// Start opens a camera session for cfg and begins scanning, or enters
// paused when cfg.Paused is set. Start is a no-op while scanning or paused
// and fails with InvalidStateTransition in error; call Stop first.
func (s *Scanner) Start(ctx context.Context, cfg Config) error {
	defer s.flush()
	s.life.Lock()
	defer s.life.Unlock()

	switch st := s.Status(); st {
	case types.StatusScanning, types.StatusPaused:
		return nil
	case types.StatusError:
		return scanerr.InvalidTransitionf("start from %s", st)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.applyComponents(cfg.Components)

	return s.openLocked(ctx, cfg)
}

// openLocked acquires a session and starts the loop. life must be held.
func (s *Scanner) openLocked(ctx context.Context, cfg Config) error {
	sess, err := s.mgr.Open(ctx, cfg.Constraints)
	if err != nil {
		err = scanerr.WithOp(err, "scanner.Start")
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		logger.Error("Scanner", "Failed to open camera: %v", err)
		s.setStatus(types.StatusError)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	status := types.StatusScanning
	if cfg.Paused {
		status = types.StatusPaused
	}

	s.mu.Lock()
	s.session = sess
	s.cancel = cancel
	prev := s.loopDone
	s.loopDone = done
	s.gen++
	s.lastErr = nil
	s.mu.Unlock()

	if cfg.TorchEnabled {
		if err := sess.SetTorch(true); err != nil {
			s.reportError(err)
		}
	}
	if cfg.ZoomLevel != nil {
		if _, err := sess.SetZoom(*cfg.ZoomLevel); err != nil {
			s.reportError(err)
		}
	}

	go s.run(loopCtx, sess, done, prev)

	logger.Info("Scanner", "Started on %s (session %s)", sess.Device().DeviceID, sess.ID())
	s.setStatus(status)
	return nil
}

// Stop ends the loop and releases the camera. It is idempotent and valid
// from any state. Stop does not wait for the loop goroutine: results of the
// stopped session are discarded, and a later Start holds back its first
// decode until the old loop and its decode have finished.
func (s *Scanner) Stop() {
	defer s.flush()
	s.life.Lock()
	defer s.life.Unlock()

	if s.closeLocked() {
		logger.Info("Scanner", "Stopped")
	}
	if s.opts.Layer != nil {
		s.opts.Layer.Reset()
	}
	s.setStatus(types.StatusIdle)
}

// closeLocked cancels the loop and closes the session. life must be held.
func (s *Scanner) closeLocked() bool {
	s.mu.Lock()
	cancel, sess := s.cancel, s.session
	s.cancel, s.session = nil, nil
	s.gen++
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		if err := sess.Close(); err != nil {
			logger.Warn("Scanner", "Camera close: %v", err)
		}
	}
	return sess != nil
}

// Pause keeps the camera open but stops dispatching decodes. A decode in
// flight is discarded when it completes.
func (s *Scanner) Pause() error {
	defer s.flush()
	s.life.Lock()
	defer s.life.Unlock()
	return s.pauseLocked()
}

func (s *Scanner) pauseLocked() error {
	s.mu.Lock()
	switch s.status {
	case types.StatusPaused:
		s.mu.Unlock()
		return nil
	case types.StatusScanning:
	default:
		st := s.status
		s.mu.Unlock()
		return scanerr.InvalidTransitionf("pause from %s", st)
	}
	s.gen++
	s.cfg.Paused = true
	s.mu.Unlock()

	if s.opts.Layer != nil {
		s.opts.Layer.Reset()
	}
	s.setStatus(types.StatusPaused)
	return nil
}

// Resume continues scanning after Pause
func (s *Scanner) Resume() error {
	defer s.flush()
	s.life.Lock()
	defer s.life.Unlock()
	return s.resumeLocked()
}

func (s *Scanner) resumeLocked() error {
	s.mu.Lock()
	switch s.status {
	case types.StatusScanning:
		s.mu.Unlock()
		return nil
	case types.StatusPaused:
	default:
		st := s.status
		s.mu.Unlock()
		return scanerr.InvalidTransitionf("resume from %s", st)
	}
	s.cfg.Paused = false
	s.mu.Unlock()

	s.setStatus(types.StatusScanning)
	return nil
}

// UpdateConfig replaces the config. While a session is open, a Paused flip
// pauses or resumes, torch and zoom changes are applied to the camera, and
// changed constraints reopen the camera. Camera failures go to OnError.
func (s *Scanner) UpdateConfig(cfg Config) {
	defer s.flush()
	s.life.Lock()
	defer s.life.Unlock()

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	st := s.status
	sess := s.session
	s.mu.Unlock()

	s.applyComponents(cfg.Components)

	if sess == nil || (st != types.StatusScanning && st != types.StatusPaused) {
		return
	}

	if cfg.Constraints != old.Constraints {
		logger.Info("Scanner", "Constraints changed, reopening camera")
		s.closeLocked()
		if s.opts.Layer != nil {
			s.opts.Layer.Reset()
		}
		if err := s.openLocked(context.Background(), cfg); err != nil {
			s.reportError(err)
		}
		return
	}

	if cfg.Paused != old.Paused {
		var err error
		if cfg.Paused {
			err = s.pauseLocked()
		} else {
			err = s.resumeLocked()
		}
		if err != nil {
			s.reportError(err)
		}
	}
	if cfg.TorchEnabled != old.TorchEnabled {
		if err := sess.SetTorch(cfg.TorchEnabled); err != nil {
			s.reportError(err)
		}
	}
	if cfg.ZoomLevel != nil && !sameZoom(cfg.ZoomLevel, old.ZoomLevel) {
		if _, err := sess.SetZoom(*cfg.ZoomLevel); err != nil {
			s.reportError(err)
		}
	}
}

// SetTorch records the torch setting and applies it to the open session
func (s *Scanner) SetTorch(on bool) error {
	s.life.Lock()
	defer s.life.Unlock()

	s.mu.Lock()
	s.cfg.TorchEnabled = on
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.SetTorch(on)
}

// SetZoom records the zoom level and applies it to the open session,
// returning the level the camera settled on
func (s *Scanner) SetZoom(level float64) (float64, error) {
	s.life.Lock()
	defer s.life.Unlock()

	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return 0, scanerr.InvalidTransitionf("zoom without an open camera")
	}
	applied, err := sess.SetZoom(level)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.cfg.ZoomLevel = &applied
	s.mu.Unlock()
	return applied, nil
}

func (s *Scanner) applyComponents(c Components) {
	l := s.opts.Layer
	if l == nil {
		return
	}
	l.SetTracker(c.Tracker)
	s.mu.Lock()
	changed := !s.finderSet || !sameFunc(c.Finder, s.finder)
	s.finder, s.finderSet = c.Finder, true
	s.mu.Unlock()
	if changed {
		l.SetFinder(c.Finder)
	}
}

// setStatus publishes a status change to the layer and metrics and queues
// OnStatus
func (s *Scanner) setStatus(st types.ScanStatus) {
	s.mu.Lock()
	changed := s.status != st
	s.status = st
	if changed && s.opts.OnStatus != nil {
		s.pending = append(s.pending, notice{status: st})
	}
	s.mu.Unlock()

	if s.opts.Metrics != nil {
		s.opts.Metrics.Status.Store(uint64(st))
	}
	if s.opts.Layer != nil {
		s.opts.Layer.SetStatus(st)
	}
}

func (s *Scanner) snapshot() (types.ScanStatus, Config, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.cfg, s.gen
}

func (s *Scanner) reportError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.lastErr = err
	if s.opts.OnError != nil {
		s.pending = append(s.pending, notice{err: err})
	}
	s.mu.Unlock()
}

// flush delivers queued notices. Callers must not hold life or mu. A
// nested or concurrent flush leaves the work to the one already running,
// which keeps delivery in order.
func (s *Scanner) flush() {
	s.mu.Lock()
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	for len(s.pending) > 0 {
		n := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		if n.err != nil {
			s.opts.OnError(n.err)
		} else {
			s.opts.OnStatus(n.status)
		}
		s.mu.Lock()
	}
	s.pending = nil
	s.delivering = false
	s.mu.Unlock()
}

// run is the loop goroutine. It owns the in-flight flag and the dedup
// table; decode goroutines only send to results. It starts once the
// previous loop is done and closes done only after its own decode returned,
// so at most one decode is outstanding across sessions.
func (s *Scanner) run(ctx context.Context, sess *camera.Session, done chan struct{}, prev <-chan struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	ticker := s.clk.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	results := make(chan result, 1)
	reported := make(map[string]time.Time)
	var (
		inFlight bool
		lastSeq  uint64
		shownSeq uint64
	)
	defer func() {
		if inFlight {
			<-results
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			if ctx.Err() != nil {
				return
			}
			s.fault(sess, sess.Err())
			s.flush()
			return
		case res := <-results:
			inFlight = false
			s.complete(ctx, res, reported)
			s.flush()
			if s.afterDecode != nil {
				s.afterDecode()
			}
			if ctx.Err() != nil {
				return
			}
		case <-sess.Ready():
		case <-ticker.C():
		}

		frame, err := sess.NextFrame()
		if err != nil || frame == nil {
			continue
		}
		if frame.Seq > shownSeq {
			shownSeq = frame.Seq
			s.emitFrame(*frame)
		}

		st, cfg, gen := s.snapshot()
		if st != types.StatusScanning {
			continue
		}
		if frame.Seq <= lastSeq {
			s.count(func(m *metrics.Metrics) { m.FramesStale.Add(1) })
			continue
		}
		if inFlight {
			s.count(func(m *metrics.Metrics) { m.DecodesSkipped.Add(1) })
			continue
		}

		lastSeq = frame.Seq
		inFlight = true
		s.count(func(m *metrics.Metrics) {
			m.FramesPulled.Add(1)
			m.DecodesDispatched.Add(1)
		})
		go s.decode(ctx, gen, *frame, cfg.Formats, results)
	}
}

func (s *Scanner) decode(ctx context.Context, gen uint64, frame types.Frame, formats []types.Symbology, out chan<- result) {
	start := s.clk.Now()
	res := result{gen: gen, frame: frame}
	func() {
		defer func() {
			if r := recover(); r != nil {
				res.err = fmt.Errorf("decoder panic: %v", r)
			}
		}()
		res.codes, res.err = s.dec.Decode(ctx, frame, formats)
	}()
	res.took = s.clk.Since(start)
	out <- res
}

// complete handles one decode result on the loop goroutine
func (s *Scanner) complete(ctx context.Context, res result, reported map[string]time.Time) {
	st, cfg, gen := s.snapshot()
	if res.gen != gen || st != types.StatusScanning || ctx.Err() != nil {
		s.count(func(m *metrics.Metrics) { m.DecodesDiscarded.Add(1) })
		logger.Debug("Scanner", "Discarded decode of frame %d", res.frame.Seq)
		return
	}
	s.count(func(m *metrics.Metrics) { m.ObserveDecode(res.took) })

	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			return
		}
		s.count(func(m *metrics.Metrics) { m.DecodeErrors.Add(1) })
		logger.Warn("Scanner", "Decode of frame %d failed: %v", res.frame.Seq, res.err)
		s.reportError(decoder.Failure(res.err, res.frame.Seq))
		return
	}

	s.count(func(m *metrics.Metrics) { m.DetectionsSeen.Add(uint64(len(res.codes))) })
	if s.opts.Layer != nil {
		s.opts.Layer.Track(res.codes, res.frame.Bounds())
	}

	codes := res.codes
	if !cfg.AllowMultiple && len(codes) > 1 {
		codes = codes[:1]
	}
	fresh := dedup(codes, reported, s.clk.Now(), cfg.ScanDelay)
	if n := len(codes) - len(fresh); n > 0 {
		s.count(func(m *metrics.Metrics) { m.ResultsSuppressed.Add(uint64(n)) })
	}
	if len(fresh) == 0 {
		return
	}

	s.count(func(m *metrics.Metrics) { m.ResultsEmitted.Add(uint64(len(fresh))) })
	logger.Debug("Scanner", "Frame %d: %d code(s), first %q", res.frame.Seq, len(fresh), fresh[0].RawValue)
	if cfg.Components.Audio && s.opts.Beeper != nil {
		s.opts.Beeper.Beep()
	}
	if s.opts.OnScan != nil {
		s.opts.OnScan(fresh)
	}
}

// dedup drops codes whose payload was reported less than window ago and
// records the time of those it keeps. A zero window keeps everything.
func dedup(codes []types.DetectedCode, reported map[string]time.Time, now time.Time, window time.Duration) []types.DetectedCode {
	if window <= 0 {
		return codes
	}
	for raw, at := range reported {
		if now.Sub(at) >= window {
			delete(reported, raw)
		}
	}
	out := make([]types.DetectedCode, 0, len(codes))
	for _, c := range codes {
		if at, ok := reported[c.RawValue]; ok && now.Sub(at) < window {
			continue
		}
		reported[c.RawValue] = now
		out = append(out, c)
	}
	return out
}

// fault moves the scanner to error after the session failed under it
func (s *Scanner) fault(sess *camera.Session, err error) {
	s.mu.Lock()
	current := s.session == sess
	if current {
		s.gen++
	}
	s.mu.Unlock()
	if !current {
		return
	}
	if err == nil {
		err = scanerr.ErrEndOfStream
	}
	logger.Error("Scanner", "Camera session failed: %v", err)
	if s.opts.Layer != nil {
		s.opts.Layer.Reset()
	}
	s.setStatus(types.StatusError)
	s.reportError(err)
}

func (s *Scanner) emitFrame(f types.Frame) {
	if s.opts.OnFrame != nil {
		s.opts.OnFrame(f)
	}
}

func (s *Scanner) count(f func(m *metrics.Metrics)) {
	if s.opts.Metrics != nil {
		f(s.opts.Metrics)
	}
}
