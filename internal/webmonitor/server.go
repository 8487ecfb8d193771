package webmonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/code-scanner/internal/camera"
	"github.com/dj-oyu/code-scanner/internal/logger"
	"github.com/dj-oyu/code-scanner/internal/metrics"
	"github.com/dj-oyu/code-scanner/internal/scanerr"
	"github.com/dj-oyu/code-scanner/internal/scanner"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

// Server serves the preview, status and control endpoints of one scanner.
type Server struct {
	cfg     Config
	scanner *scanner.Scanner
	mgr     *camera.Manager
	monitor *Monitor
	metrics *metrics.Metrics
	frames  *FrameBroadcaster
	status  *StatusBroadcaster
}

// NewServer returns a server with its broadcasters running. The monitor
// must be the one wired into the scanner callbacks.
func NewServer(cfg Config, sc *scanner.Scanner, mgr *camera.Manager, monitor *Monitor, m *metrics.Metrics) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:     cfg,
		scanner: sc,
		mgr:     mgr,
		monitor: monitor,
		metrics: m,
	}
	s.frames = NewFrameBroadcaster(cfg, monitor, sc.Layer(), m)
	s.frames.Start()
	s.status = NewStatusBroadcaster(monitor, s.buildStatus, cfg.StatusInterval)
	s.status.Start()
	return s
}

// Close stops the broadcasters and disconnects streaming clients
func (s *Server) Close() {
	s.frames.Stop()
	s.status.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/devices/stream", s.handleDevicesStream)
	mux.HandleFunc("/api/scanner/start", s.control(s.start))
	mux.HandleFunc("/api/scanner/stop", s.control(s.stop))
	mux.HandleFunc("/api/scanner/pause", s.control(s.pause))
	mux.HandleFunc("/api/scanner/resume", s.control(s.resume))
	mux.HandleFunc("/api/torch", s.handleTorch)
	mux.HandleFunc("/api/zoom", s.handleZoom)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.buildStatus())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	first, err := serializeEvent(s.buildStatus())
	if err != nil {
		writeError(w, err)
		return
	}
	streamEventsFromChannel(r.Context(), w, eventCh, first, wantsProtobuf(r))
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := s.mgr.Devices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"devices": nonNil(devs)})
}

// handleDevicesStream sends the device list now and again after every
// change the manager observes
func (s *Server) handleDevicesStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	changes := s.mgr.Watch(ctx, s.cfg.DeviceWatch)

	events := make(chan *SerializedEvent, 1)
	go func() {
		defer close(events)
		for range changes {
			ev, ok := s.devicesEvent(r)
			if !ok {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	first, _ := s.devicesEvent(r)
	streamEventsFromChannel(ctx, w, events, first, wantsProtobuf(r))
}

func (s *Server) devicesEvent(r *http.Request) (*SerializedEvent, bool) {
	devs, err := s.mgr.Devices(r.Context())
	payload := map[string]any{"devices": nonNil(devs)}
	if err != nil {
		payload["error"] = scanerr.WireFrom(err)
	}
	ev, err := serializeEvent(payload)
	if err != nil {
		logger.Error("Monitor", "Serialize devices: %v", err)
		return nil, false
	}
	return ev, true
}

// control wraps a scanner operation behind POST and the on/off component
func (s *Server) control(op func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !s.scanner.Config().Components.OnOff {
			componentDisabled(w, "on/off")
			return
		}
		if err := op(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, s.buildStatus())
	}
}

func (s *Server) start(ctx context.Context) error {
	return s.scanner.Start(ctx, s.scanner.Config())
}

func (s *Server) stop(context.Context) error {
	s.scanner.Stop()
	return nil
}

func (s *Server) pause(context.Context) error  { return s.scanner.Pause() }
func (s *Server) resume(context.Context) error { return s.scanner.Resume() }

func (s *Server) handleTorch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.scanner.Config().Components.Torch {
		componentDisabled(w, "torch")
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid torch request"}, http.StatusBadRequest)
		return
	}
	if err := s.scanner.SetTorch(body.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"torch": body.Enabled})
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.scanner.Config().Components.Zoom {
		componentDisabled(w, "zoom")
		return
	}
	var body struct {
		Level *float64 `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Level == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid zoom request"}, http.StatusBadRequest)
		return
	}
	applied, err := s.scanner.SetZoom(*body.Level)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"zoom": applied})
}

// buildStatus assembles the status payload from the scanner, camera,
// monitor and metrics
func (s *Server) buildStatus() StatusPayload {
	cfg := s.scanner.Config()
	stats, latest, history := s.monitor.Snapshot()
	p := StatusPayload{
		Status: s.scanner.Status(),
		Components: ComponentState{
			Tracker: cfg.Components.Tracker != nil,
			Finder:  cfg.Components.Finder != nil,
			Torch:   cfg.Components.Torch,
			Zoom:    cfg.Components.Zoom,
			Audio:   cfg.Components.Audio,
			OnOff:   cfg.Components.OnOff,
		},
		Monitor:    stats,
		LatestScan: latest,
		History:    history,
		Timestamp:  float64(time.Now().UnixMilli()) / 1000,
	}
	if s.metrics != nil {
		p.Metrics = s.metrics.Snapshot()
	}
	if sess := s.scanner.Session(); sess != nil {
		caps := sess.Capabilities()
		p.Camera = &CameraState{
			SessionID: sess.ID(),
			Device:    sess.Device(),
			State:     sess.State().String(),
			Torch:     sess.Torch(),
			TorchCap:  caps.Torch,
			Zoom:      sess.Zoom(),
			ZoomMin:   caps.ZoomMin,
			ZoomMax:   caps.ZoomMax,
		}
	}
	if err := s.scanner.LastError(); err != nil {
		wire := scanerr.WireFrom(err)
		p.LastError = &wire
	}
	return p
}

func nonNil(devs []types.DeviceDescriptor) []types.DeviceDescriptor {
	if devs == nil {
		return []types.DeviceDescriptor{}
	}
	return devs
}

func componentDisabled(w http.ResponseWriter, name string) {
	writeJSONWithStatus(w, scanerr.Wire{
		Code:    scanerr.CodeUnsupportedCapability,
		Message: fmt.Sprintf("%s control is disabled", name),
	}, http.StatusForbidden)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONWithStatus(w, scanerr.WireFrom(err), scanerr.HTTPStatus(err))
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
