package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/code-scanner/internal/camera"
	_ "github.com/dj-oyu/code-scanner/internal/camera/mediadev"
	_ "github.com/dj-oyu/code-scanner/internal/camera/replay"
	_ "github.com/dj-oyu/code-scanner/internal/camera/shmcam"
	"github.com/dj-oyu/code-scanner/internal/config"
	"github.com/dj-oyu/code-scanner/internal/decoder/zxing"
	"github.com/dj-oyu/code-scanner/internal/logger"
	"github.com/dj-oyu/code-scanner/internal/metrics"
	"github.com/dj-oyu/code-scanner/internal/overlay"
	"github.com/dj-oyu/code-scanner/internal/scanner"
	"github.com/dj-oyu/code-scanner/internal/webmonitor"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

var (
	// Command-line flags
	configPath    = flag.String("config", "", "YAML config file")
	driverName    = flag.String("driver", "", "Camera driver ("+strings.Join(camera.Drivers(), ", ")+")")
	source        = flag.String("source", "", "Driver source (replay directories, shm names)")
	deviceID      = flag.String("device", "", "Device ID to open")
	facing        = flag.String("facing", "", "Preferred facing mode (user, environment)")
	httpAddr      = flag.String("http", "", "Monitor HTTP server address")
	metricsAddr   = flag.String("metrics", "", "Metrics server address")
	pprofAddr     = flag.String("pprof", "", "pprof server address")
	formats       = flag.String("formats", "", "Comma-separated symbologies to scan (default all)")
	allowMultiple = flag.Bool("allow-multiple", false, "Report every code in a frame")
	scanDelay     = flag.Duration("scan-delay", 0, "Suppress repeats of a payload within this window")
	tracker       = flag.String("tracker", "", "Tracker overlay ("+strings.Join(overlay.TrackerNames(), ", ")+", none)")
	paused        = flag.Bool("paused", false, "Open the camera paused")
	audio         = flag.Bool("beep", false, "Ring the terminal bell on each scan")
	logLevel      = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor      = flag.Bool("log-color", true, "Enable colored log output")
	listDevices   = flag.Bool("list-devices", false, "List camera devices and exit")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	applyFlags(&cfg)

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	drv, err := camera.NewDriver(cfg.Camera.Driver, camera.DriverOptions{
		Source: cfg.Camera.Source,
		FPS:    cfg.Camera.FPS,
	})
	if err != nil {
		log.Fatalf("Failed to create camera driver: %v", err)
	}

	m := metrics.New()
	mgr := camera.NewManager(drv, camera.WithMetrics(m))
	defer mgr.Close()

	if *listDevices {
		if err := printDevices(os.Stdout, mgr); err != nil {
			log.Fatalf("Failed to list devices: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, mgr, m); err != nil {
		log.Fatalf("Scanner failed: %v", err)
	}
	log.Println("Scanner stopped")
}

// applyFlags overrides cfg with the flags given on the command line
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "driver":
			cfg.Camera.Driver = *driverName
		case "source":
			cfg.Camera.Source = *source
		case "device":
			cfg.Camera.Constraints.DeviceID = *deviceID
		case "facing":
			cfg.Camera.Constraints.FacingMode = types.FacingMode(*facing)
		case "http":
			cfg.Monitor.Addr = *httpAddr
		case "metrics":
			cfg.Metrics.Addr = *metricsAddr
		case "pprof":
			cfg.Metrics.PprofAddr = *pprofAddr
		case "formats":
			cfg.Scan.Formats = splitList(*formats)
		case "allow-multiple":
			cfg.Scan.AllowMultiple = *allowMultiple
		case "scan-delay":
			cfg.Scan.ScanDelay = *scanDelay
		case "tracker":
			cfg.Scan.Components.Tracker = *tracker
		case "paused":
			cfg.Scan.Paused = *paused
		case "beep":
			cfg.Scan.Components.Audio = *audio
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-color":
			cfg.Log.Color = *logColor
		}
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printDevices(w io.Writer, mgr *camera.Manager) error {
	devs, err := mgr.Devices(context.Background())
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		fmt.Fprintln(w, "no video input devices")
		return nil
	}
	for _, d := range devs {
		mode := string(d.Facing)
		if mode == "" {
			mode = "-"
		}
		fmt.Fprintf(w, "%-32s %-12s %s\n", d.DeviceID, mode, d.Label)
	}
	return nil
}

// bell rings the terminal bell
type bell struct{ w io.Writer }

func (b bell) Beep() { _, _ = b.w.Write([]byte("\a")) }

func run(ctx context.Context, cfg config.Config, mgr *camera.Manager, m *metrics.Metrics) error {
	logger.Info("Main", "Code scanner starting...")
	logger.Info("Main", "  Camera driver: %s (source %q)", cfg.Camera.Driver, cfg.Camera.Source)
	logger.Info("Main", "  Monitor server: %s", cfg.Monitor.Addr)
	logger.Info("Main", "  Metrics server: %s", cfg.Metrics.Addr)
	logger.Info("Main", "  pprof server: %s", cfg.Metrics.PprofAddr)

	decOpts, err := cfg.DecoderOptions()
	if err != nil {
		return err
	}
	scanCfg, err := cfg.ScannerConfig()
	if err != nil {
		return err
	}

	monitor := webmonitor.NewMonitor(cfg.Monitor.FPS)
	results := json.NewEncoder(os.Stdout)
	sc := scanner.New(mgr, zxing.New(decOpts), scanner.Options{
		OnScan: func(codes []types.DetectedCode) {
			for _, c := range codes {
				if err := results.Encode(c); err != nil {
					logger.Warn("Main", "Write result: %v", err)
				}
				logger.Info("Main", "Scanned %s: %s", c.Format, overlay.Truncate(c.RawValue, 64))
			}
			monitor.RecordScan(codes)
		},
		OnError: func(err error) {
			logger.Warn("Main", "Scanner error: %v", err)
			monitor.RecordError(err)
		},
		OnStatus: func(st types.ScanStatus) {
			logger.Info("Main", "Scanner status: %s", st)
			monitor.RecordStatus(st)
		},
		OnFrame:      monitor.RecordFrame,
		Layer:        overlay.NewLayer(scanCfg.Components.Tracker, scanCfg.Components.Finder),
		Metrics:      m,
		PollInterval: cfg.Scan.PollInterval,
		Beeper:       bell{os.Stderr},
	})
	sc.UpdateConfig(scanCfg)
	defer sc.Stop()

	web := webmonitor.NewServer(webmonitor.Config{
		Addr:           cfg.Monitor.Addr,
		FPS:            cfg.Monitor.FPS,
		StatusInterval: cfg.Monitor.StatusInterval,
		JPEGQuality:    cfg.Monitor.JPEGQuality,
		MaxWidth:       cfg.Monitor.MaxWidth,
		DeviceWatch:    cfg.Camera.WatchInterval,
	}, sc, mgr, monitor, m)
	defer web.Close()

	g, gctx := errgroup.WithContext(ctx)

	var servers []*http.Server
	if cfg.Monitor.Addr != "" {
		// streaming handlers end with the group rather than holding Shutdown open
		servers = append(servers, &http.Server{
			Addr:              cfg.Monitor.Addr,
			Handler:           web.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		})
	}
	if cfg.Metrics.Addr != "" {
		servers = append(servers, m.Server(cfg.Metrics.Addr))
	}
	if cfg.Metrics.PprofAddr != "" {
		servers = append(servers, &http.Server{Addr: cfg.Metrics.PprofAddr, Handler: http.DefaultServeMux, ReadHeaderTimeout: 5 * time.Second})
	}

	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info("Main", "Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Main", "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		web.Close()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Main", "Shutdown %s: %v", srv.Addr, err)
			}
		}
		return nil
	})
	g.Go(func() error {
		for range mgr.Watch(gctx, cfg.Camera.WatchInterval) {
			devs, err := mgr.Devices(gctx)
			if err != nil {
				logger.Warn("Main", "Device list changed, enumeration failed: %v", err)
				continue
			}
			logger.Info("Main", "Device list changed: %d video input(s)", len(devs))
		}
		return nil
	})

	if err := sc.Start(gctx, scanCfg); err != nil {
		logger.Error("Main", "Camera not started: %v (retry from the monitor)", err)
	}

	return g.Wait()
}
