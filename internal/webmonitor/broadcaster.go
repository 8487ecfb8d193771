package webmonitor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/code-scanner/internal/logger"
	"github.com/dj-oyu/code-scanner/internal/metrics"
	"github.com/dj-oyu/code-scanner/internal/overlay"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

// fanout delivers values to subscribers without blocking: a slow client
// misses values rather than stalling the others
type fanout[T any] struct {
	name     string
	mu       sync.Mutex
	clients  map[string]chan T
	onChange func(n int)
}

func newFanout[T any](name string) *fanout[T] {
	return &fanout[T]{name: name, clients: make(map[string]chan T)}
}

// Subscribe adds a client and returns its id and channel
func (f *fanout[T]) Subscribe() (string, <-chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan T, 2)
	f.clients[id] = ch
	logger.Debug(f.name, "Client %s subscribed (total clients: %d)", id, len(f.clients))
	if f.onChange != nil {
		f.onChange(len(f.clients))
	}
	return id, ch
}

// Unsubscribe removes a client and closes its channel
func (f *fanout[T]) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.clients[id]
	if !ok {
		return
	}
	close(ch)
	delete(f.clients, id)
	logger.Debug(f.name, "Client %s unsubscribed (remaining clients: %d)", id, len(f.clients))
	if len(f.clients) == 0 {
		logger.Info(f.name, "No clients remaining - encoding will be skipped")
	}
	if f.onChange != nil {
		f.onChange(len(f.clients))
	}
}

func (f *fanout[T]) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fanout[T]) broadcast(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.clients {
		select {
		case ch <- v:
		default:
			// client too slow, it misses this one
		}
	}
}

func (f *fanout[T]) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.clients {
		close(ch)
		delete(f.clients, id)
	}
	if f.onChange != nil {
		f.onChange(0)
	}
}

// FrameBroadcaster encodes the latest frame with its overlay as JPEG and
// fans it out to MJPEG clients. Nothing is encoded without clients.
type FrameBroadcaster struct {
	*fanout[[]byte]

	monitor  *Monitor
	layer    *overlay.Layer
	interval time.Duration
	quality  int
	maxWidth int

	stop     chan struct{}
	stopOnce sync.Once
	lastSeq  uint64
}

// NewFrameBroadcaster creates a broadcaster reading frames from monitor
func NewFrameBroadcaster(cfg Config, monitor *Monitor, layer *overlay.Layer, m *metrics.Metrics) *FrameBroadcaster {
	fb := &FrameBroadcaster{
		fanout:   newFanout[[]byte]("FrameBroadcaster"),
		monitor:  monitor,
		layer:    layer,
		interval: time.Second / time.Duration(cfg.FPS),
		quality:  cfg.JPEGQuality,
		maxWidth: cfg.MaxWidth,
		stop:     make(chan struct{}),
	}
	if m != nil {
		fb.onChange = func(n int) { m.PreviewClients.Store(int64(n)) }
	}
	return fb
}

// Start begins the encode and broadcast loop
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the loop and disconnects every client
func (fb *FrameBroadcaster) Stop() {
	fb.stopOnce.Do(func() {
		close(fb.stop)
		fb.closeAll()
	})
}

func (fb *FrameBroadcaster) run() {
	ticker := time.NewTicker(fb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-fb.stop:
			return
		case <-ticker.C:
		}

		if fb.count() == 0 {
			continue
		}
		frame := fb.monitor.LatestFrame()
		if frame == nil || frame.Seq == fb.lastSeq {
			continue
		}
		fb.lastSeq = frame.Seq

		data, err := fb.encode(frame)
		if err != nil {
			logger.Warn("FrameBroadcaster", "Encode frame %d: %v", frame.Seq, err)
			continue
		}
		fb.broadcast(data)
	}
}

func (fb *FrameBroadcaster) encode(frame *types.Frame) ([]byte, error) {
	return encodeJPEG(composeFrame(frame.Image, fb.layer, fb.maxWidth), fb.quality)
}

// composeFrame draws the overlay onto a copy of img and downscales it to
// maxWidth when wider
func composeFrame(img image.Image, layer *overlay.Layer, maxWidth int) image.Image {
	var out image.Image = img
	if layer != nil {
		out = layer.Compose(img)
	}
	b := out.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return out
	}
	h := b.Dy() * maxWidth / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), out, b, draw.Src, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SerializedEvent holds one event pre-serialized in both wire formats so
// each client only picks bytes
type SerializedEvent struct {
	JSONData     []byte
	ProtobufData []byte // base64 google.protobuf.Struct
}

// StatusBroadcaster pushes status events to SSE clients on every interval
// and whenever the monitor reports a change
type StatusBroadcaster struct {
	*fanout[*SerializedEvent]

	monitor  *Monitor
	build    func() StatusPayload
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewStatusBroadcaster creates a broadcaster calling build for each event
func NewStatusBroadcaster(monitor *Monitor, build func() StatusPayload, interval time.Duration) *StatusBroadcaster {
	return &StatusBroadcaster{
		fanout:   newFanout[*SerializedEvent]("StatusBroadcaster"),
		monitor:  monitor,
		build:    build,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the status event loop
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the loop and disconnects every client
func (sb *StatusBroadcaster) Stop() {
	sb.stopOnce.Do(func() {
		close(sb.stop)
		sb.closeAll()
	})
}

func (sb *StatusBroadcaster) run() {
	logger.Info("StatusBroadcaster", "Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
		case <-sb.monitor.Changed():
		}
		if sb.count() == 0 {
			continue
		}
		event, err := serializeEvent(sb.build())
		if err != nil {
			logger.Error("StatusBroadcaster", "Serialize status: %v", err)
			continue
		}
		sb.broadcast(event)
	}
}

// serializeEvent encodes payload as JSON and as a base64 protobuf Struct
// holding the same fields
func serializeEvent(payload any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	pb, err := toStruct(jsonData)
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(pb)
	if err != nil {
		return nil, err
	}
	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

func toStruct(jsonData []byte) (*structpb.Struct, error) {
	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}
