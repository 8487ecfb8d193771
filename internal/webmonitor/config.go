package webmonitor

import "time"

// Config defines the runtime configuration for the monitor server.
type Config struct {
	Addr           string
	FPS            int
	StatusInterval time.Duration
	JPEGQuality    int
	MaxWidth       int
	// DeviceWatch is how often /api/devices change notifications poll the
	// camera driver
	DeviceWatch time.Duration
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		FPS:            15,
		StatusInterval: time.Second,
		JPEGQuality:    80,
		MaxWidth:       1280,
		DeviceWatch:    2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FPS <= 0 {
		c.FPS = def.FPS
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.DeviceWatch <= 0 {
		c.DeviceWatch = def.DeviceWatch
	}
	return c
}
