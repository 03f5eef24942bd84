package sandbox

import "time"

// Config defines frame settings.
type Config struct {
	Origin           string        // origin the frame reports to the host
	HostOrigin       string        // origin the frame sees on host messages
	JobTimeout       time.Duration // execution budget per job
	MaxCallStackSize int
	QueueSize        int
	EnableConsole    bool
}

// DefaultConfig returns frame defaults.
func DefaultConfig() Config {
	return Config{
		Origin:           "sandbox://display",
		HostOrigin:       "sandbox://host",
		JobTimeout:       2 * time.Second,
		MaxCallStackSize: 1024,
		QueueSize:        128,
		EnableConsole:    true,
	}
}
