package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/code-scanner/pkg/types"
)

// historySize is how many scan reports the status keeps
const historySize = 8

// Monitor collects what the scanner reports for the preview and status
// endpoints. Its Record methods are meant to be wired as scanner callbacks.
type Monitor struct {
	startTime time.Time
	targetFPS int

	mu          sync.Mutex
	frame       *types.Frame
	framesSeen  uint64
	fpsFrames   int
	fpsSince    time.Time
	currentFPS  float64
	scanVersion int
	scanCount   int
	latest      *ScanResult
	history     []ScanResult

	frameReady chan struct{}
	changed    chan struct{}
}

// NewMonitor creates a Monitor reporting targetFPS as the preview goal
func NewMonitor(targetFPS int) *Monitor {
	now := time.Now()
	return &Monitor{
		startTime:  now,
		targetFPS:  targetFPS,
		fpsSince:   now,
		frameReady: make(chan struct{}, 1),
		changed:    make(chan struct{}, 1),
	}
}

// RecordFrame stores the latest camera frame
func (m *Monitor) RecordFrame(f types.Frame) {
	m.mu.Lock()
	m.frame = &f
	m.framesSeen++
	m.fpsFrames++
	if elapsed := time.Since(m.fpsSince); elapsed >= time.Second {
		m.currentFPS = float64(m.fpsFrames) / elapsed.Seconds()
		m.fpsFrames = 0
		m.fpsSince = time.Now()
	}
	m.mu.Unlock()
	pulse(m.frameReady)
}

// RecordScan stores a reported set of detections
func (m *Monitor) RecordScan(codes []types.DetectedCode) {
	m.mu.Lock()
	m.scanVersion++
	m.scanCount += len(codes)
	res := ScanResult{
		Timestamp:  float64(time.Now().UnixMilli()) / 1000,
		Version:    m.scanVersion,
		Count:      len(codes),
		Detections: toDetections(codes),
	}
	m.latest = &res
	m.history = append([]ScanResult{res}, m.history...)
	if len(m.history) > historySize {
		m.history = m.history[:historySize]
	}
	m.mu.Unlock()
	pulse(m.changed)
}

// RecordStatus notes a scanner status change
func (m *Monitor) RecordStatus(types.ScanStatus) {
	pulse(m.changed)
}

// RecordError notes a scanner error
func (m *Monitor) RecordError(error) {
	pulse(m.changed)
}

// LatestFrame returns the most recent frame, or nil before the first
func (m *Monitor) LatestFrame() *types.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame
}

// FrameReady pulses after each recorded frame
func (m *Monitor) FrameReady() <-chan struct{} { return m.frameReady }

// Changed pulses after scans, status changes and errors
func (m *Monitor) Changed() <-chan struct{} { return m.changed }

// Snapshot returns preview stats and the scan history, newest first
func (m *Monitor) Snapshot() (MonitorStats, *ScanResult, []ScanResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		FramesSeen:   m.framesSeen,
		CurrentFPS:   m.currentFPS,
		TargetFPS:    m.targetFPS,
		ScanCount:    m.scanCount,
		UptimeSecond: time.Since(m.startTime).Seconds(),
	}
	if m.frame != nil {
		stats.FrameWidth = m.frame.Width()
		stats.FrameHeight = m.frame.Height()
	}

	var latest *ScanResult
	if m.latest != nil {
		cp := *m.latest
		latest = &cp
	}
	history := make([]ScanResult, len(m.history))
	copy(history, m.history)
	return stats, latest, history
}

func pulse(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
