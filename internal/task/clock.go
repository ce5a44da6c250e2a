package task

import "time"

// Clock reports elapsed time on a monotonic source.
type Clock interface {
	Now() time.Duration
}

var processStart = time.Now()

// Monotonic reads the runtime's monotonic clock relative to process start.
type Monotonic struct{}

func (Monotonic) Now() time.Duration {
	return time.Since(processStart)
}
