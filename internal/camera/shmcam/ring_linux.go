//go:build linux && cgo

package shmcam

/*
#cgo LDFLAGS: -lrt -lpthread

#include <stdlib.h>
#include <stdint.h>
#include <time.h>
#include <sys/mman.h>
#include <fcntl.h>
#include <unistd.h>
#include <string.h>
#include <semaphore.h>
#include <errno.h>

#define RING_BUFFER_SIZE 30
#define MAX_FRAME_SIZE (1920 * 1080 * 3 / 2)

typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int camera_id;
    int width;
    int height;
    int format;
    size_t data_size;
    float brightness_avg;
    uint32_t brightness_lux;
    uint8_t brightness_zone;
    uint8_t correction_applied;
    uint8_t _reserved[2];
    uint8_t data[MAX_FRAME_SIZE];
} Frame;

typedef struct {
    volatile uint32_t write_index;
    volatile uint32_t frame_interval_ms;
    uint8_t new_frame_sem[32];
    Frame frames[RING_BUFFER_SIZE];
} SharedFrameBuffer;

static SharedFrameBuffer* ring_open(const char* name, int* err) {
    int fd = shm_open(name, O_RDWR, 0666);
    if (fd == -1) {
        *err = errno;
        return NULL;
    }
    SharedFrameBuffer* shm = (SharedFrameBuffer*)mmap(
        NULL, sizeof(SharedFrameBuffer), PROT_READ | PROT_WRITE, MAP_SHARED, fd, 0);
    close(fd);
    if (shm == MAP_FAILED) {
        *err = errno;
        return NULL;
    }
    return shm;
}

static int ring_exists(const char* name) {
    int fd = shm_open(name, O_RDONLY, 0);
    if (fd == -1) {
        return errno == EACCES ? -1 : 0;
    }
    close(fd);
    return 1;
}

static int ring_wait(SharedFrameBuffer* shm, int timeout_ms) {
    struct timespec ts;
    if (clock_gettime(CLOCK_REALTIME, &ts) != 0) {
        return -errno;
    }
    ts.tv_sec += timeout_ms / 1000;
    ts.tv_nsec += (timeout_ms % 1000) * 1000000;
    if (ts.tv_nsec >= 1000000000) {
        ts.tv_sec += 1;
        ts.tv_nsec -= 1000000000;
    }
    if (sem_timedwait((sem_t*)&shm->new_frame_sem, &ts) == -1) {
        return -errno;
    }
    return 0;
}

static void ring_close(SharedFrameBuffer* shm) {
    munmap((void*)shm, sizeof(SharedFrameBuffer));
}

static uint32_t ring_write_index(SharedFrameBuffer* shm) {
    return shm->write_index;
}

static void ring_copy(SharedFrameBuffer* shm, uint32_t index, Frame* out) {
    memcpy(out, &shm->frames[index % RING_BUFFER_SIZE], sizeof(Frame));
}
*/
import "C"

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/dj-oyu/code-scanner/internal/camera"
	"github.com/dj-oyu/code-scanner/internal/logger"
	"github.com/dj-oyu/code-scanner/internal/scanerr"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

const (
	ringSize     = 30
	maxFrameSize = 1920 * 1080 * 3 / 2
	waitTimeout  = 200 * time.Millisecond
)

func init() {
	camera.Register("shm", func(opts camera.DriverOptions) (camera.Driver, error) {
		return New(opts), nil
	})
}

// Driver exposes each configured ring buffer as one device
type Driver struct {
	names []string
}

// New builds a driver for the comma separated ring names in opts.Source
func New(opts camera.DriverOptions) *Driver {
	src := opts.Source
	if src == "" {
		src = DefaultName
	}
	var names []string
	for _, n := range strings.Split(src, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return &Driver{names: names}
}

func (d *Driver) Name() string { return "shm" }

// Devices lists the rings that currently exist
func (d *Driver) Devices(ctx context.Context) ([]types.DeviceDescriptor, error) {
	var out []types.DeviceDescriptor
	for _, n := range d.names {
		cName := C.CString(n)
		rc := int(C.ring_exists(cName))
		C.free(unsafe.Pointer(cName))
		switch rc {
		case -1:
			return nil, scanerr.Newf(scanerr.CodePermissionDenied, "shared memory %s not readable", n)
		case 1:
			out = append(out, types.DeviceDescriptor{
				DeviceID: "shm:" + n,
				Label:    "shared memory " + n,
				Kind:     types.KindVideoInput,
			})
		}
	}
	return out, nil
}

// Open maps the ring buffer and starts forwarding new frames
func (d *Driver) Open(ctx context.Context, dev types.DeviceDescriptor, c types.Constraints, sink camera.Sink) (camera.Stream, error) {
	name := strings.TrimPrefix(dev.DeviceID, "shm:")
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	var errno C.int
	shm := C.ring_open(cName, &errno)
	if shm == nil {
		if syscall.Errno(errno) == syscall.EACCES {
			return nil, scanerr.Newf(scanerr.CodePermissionDenied, "open shared memory %s", name)
		}
		return nil, scanerr.Wrapf(syscall.Errno(errno), scanerr.CodeDeviceNotFound, "open shared memory %s", name)
	}
	logger.Info("ShmCam", "Mapped shared memory %s", name)

	r := &ring{shm: shm, name: name, sink: sink, stop: make(chan struct{}), done: make(chan struct{})}
	go r.run()
	return r, nil
}

type ring struct {
	shm  *C.SharedFrameBuffer
	name string
	sink camera.Sink

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Capabilities is empty: the daemon owns the sensor controls
func (r *ring) Capabilities() camera.Capabilities { return camera.Capabilities{} }
func (r *ring) SetTorch(bool) error               { return scanerr.ErrUnsupportedCapability }
func (r *ring) SetZoom(float64) error             { return scanerr.ErrUnsupportedCapability }

func (r *ring) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
	C.ring_close(r.shm)
	logger.Info("ShmCam", "Unmapped shared memory %s", r.name)
	return nil
}

func (r *ring) run() {
	defer close(r.done)
	var lastFrame uint64
	var cFrame C.Frame

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		rc := int(C.ring_wait(r.shm, C.int(waitTimeout.Milliseconds())))
		if rc != 0 {
			errno := syscall.Errno(-rc)
			if errno == syscall.ETIMEDOUT || errno == syscall.EINTR {
				continue
			}
			r.sink.Fail(scanerr.Wrap(errno, scanerr.CodeSessionFault, "wait for frame"))
			return
		}

		idx := uint32(C.ring_write_index(r.shm))
		if idx == 0 {
			continue
		}
		C.ring_copy(r.shm, C.uint32_t((idx-1)%ringSize), &cFrame)
		num := uint64(cFrame.frame_number)
		if num == lastFrame {
			continue
		}
		lastFrame = num

		img, err := r.convert(&cFrame)
		if errors.Is(err, ErrUnsupportedFormat) {
			continue
		}
		if err != nil {
			logger.Warn("ShmCam", "Dropping frame %d: %v", num, err)
			continue
		}
		ts := time.Unix(int64(cFrame.timestamp.tv_sec), int64(cFrame.timestamp.tv_nsec))
		r.sink.Publish(img, ts)
	}
}

func (r *ring) convert(f *C.Frame) (image.Image, error) {
	size := int(f.data_size)
	if size > maxFrameSize {
		size = maxFrameSize
	}
	data := C.GoBytes(unsafe.Pointer(&f.data[0]), C.int(size))
	return ToImage(int(f.format), int(f.width), int(f.height), data)
}
