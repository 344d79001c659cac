package shm

import "errors"

// ErrNotAvailable means the producer has not created the channel yet.
// Consumers treat it as retryable, never fatal.
var ErrNotAvailable = errors.New("shared memory not available")
