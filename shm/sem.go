package shm

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SemSize is the number of bytes every channel layout reserves for a wake
// semaphore. Only the first 4 bytes are used: a futex word holding the
// counter. The rest is reserved so the offsets of the surrounding fields
// never move.
const SemSize = 32

// Futex operations from the kernel ABI; x/sys/unix exports SYS_FUTEX but
// not the op codes.
const (
	futexWait = 0
	futexWake = 1
)

// Sem is a process-shared counting semaphore living inside a mapped
// segment. Posting is a wake-up optimization, not a correctness
// requirement: consumers that only poll stay correct, so a failed post is
// logged by the caller and ignored, never retried.
type Sem struct {
	word *uint32
}

// SemAt views the semaphore stored at off inside the mapped region.
// The futex word must be 4-byte aligned, which every layout guarantees.
func SemAt(data []byte, off int) *Sem {
	if off < 0 || off+SemSize > len(data) {
		return nil
	}
	return &Sem{word: (*uint32)(unsafe.Pointer(&data[off]))}
}

// Post increments the counter and wakes one waiter.
func (s *Sem) Post() error {
	atomic.AddUint32(s.word, 1)
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(s.word)), futexWake, 1, 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Wait decrements the counter, blocking up to timeout when it is zero.
// Returns true if it got a token, false on timeout. Waits are always
// bounded so consumer loops can re-check their shutdown signal.
func (s *Sem) Wait(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		v := atomic.LoadUint32(s.word)
		if v > 0 {
			if atomic.CompareAndSwapUint32(s.word, v, v-1) {
				return true, nil
			}
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		ts := unix.NsecToTimespec(remaining.Nanoseconds())
		_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
			uintptr(unsafe.Pointer(s.word)), futexWait, 0,
			uintptr(unsafe.Pointer(&ts)), 0, 0)
		switch errno {
		case 0, unix.EAGAIN, unix.EINTR:
			// Counter moved, spurious wake or signal: re-check the word.
		case unix.ETIMEDOUT:
			return false, nil
		default:
			return false, errno
		}
	}
}

// Drain consumes any pending tokens without blocking. Readers call it
// before a wait loop so stale posts from before they attached do not
// cause a phantom wake-up.
func (s *Sem) Drain() {
	for {
		v := atomic.LoadUint32(s.word)
		if v == 0 {
			return
		}
		if atomic.CompareAndSwapUint32(s.word, v, 0) {
			return
		}
	}
}
