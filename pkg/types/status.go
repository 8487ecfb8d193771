package types

// ScanStatus is the scan loop state. Only the scanner writes it.
type ScanStatus int

const (
	StatusIdle ScanStatus = iota
	StatusScanning
	StatusPaused
	StatusError
)

var statusNames = map[ScanStatus]string{
	StatusIdle:     "idle",
	StatusScanning: "scanning",
	StatusPaused:   "paused",
	StatusError:    "error",
}

// String returns the lower-case status name
func (s ScanStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the status by name
func (s ScanStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
