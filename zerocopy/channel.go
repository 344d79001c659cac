package zerocopy

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"
	"unsafe"

	"strzcam.com/camshm/shm"
)

// ErrNotConsumed means the consumer never acknowledged the previous frame
// within the publish deadline. The buffers behind an unacknowledged
// descriptor are still borrowed by the consumer, so overwriting it would
// leak or corrupt them; the producer must treat this as fatal for the
// handoff channel rather than push on.
var ErrNotConsumed = errors.New("previous frame not consumed")

func u32ptr(b []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[off]))
}

// Channel is the producer side of the single-slot frame handoff.
// Strictly one producer and one consumer.
type Channel struct {
	seg      *shm.Segment
	data     []byte
	newFrame *shm.Sem
	consumed *shm.Sem
}

// Create creates (or reattaches to) the handoff segment as the producer.
func Create(name string) (*Channel, error) {
	seg, err := shm.Create(name, Size)
	if err != nil {
		return nil, err
	}
	data := seg.Bytes()
	return &Channel{
		seg:      seg,
		data:     data,
		newFrame: shm.SemAt(data, offNewFrameSem),
		consumed: shm.SemAt(data, offConsumedSem),
	}, nil
}

// Publish hands d to the consumer. If the previous frame is still
// unacknowledged it waits for the acknowledgement until ctx expires, then
// fails with ErrNotConsumed without touching the slot. This is the
// backpressure point: a stuck consumer stops the producer here instead of
// having its borrowed buffers overwritten.
func (c *Channel) Publish(ctx context.Context, d *Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}
	b := c.data
	for atomic.LoadUint32(u32ptr(b, offVersion)) != 0 &&
		atomic.LoadUint32(u32ptr(b, offConsumed)) == 0 {
		if err := ctx.Err(); err != nil {
			return ErrNotConsumed
		}
		// Bounded slices so a dead consumer cannot park us forever.
		if _, err := c.consumed.Wait(50 * time.Millisecond); err != nil {
			return err
		}
	}
	encodeDescriptor(b, d)
	atomic.StoreUint32(u32ptr(b, offConsumed), 0)
	atomic.AddUint32(u32ptr(b, offVersion), 1)
	if err := c.newFrame.Post(); err != nil {
		log.Printf("[zerocopy] wake post failed: %v", err)
	}
	return nil
}

// Consumed reports whether the current frame has been acknowledged.
// Before any publish it is vacuously true.
func (c *Channel) Consumed() bool {
	b := c.data
	return atomic.LoadUint32(u32ptr(b, offVersion)) == 0 ||
		atomic.LoadUint32(u32ptr(b, offConsumed)) != 0
}

// Close unmaps the segment.
func (c *Channel) Close() error {
	return c.seg.Close()
}

// Unlink removes the segment name; producer-only, on clean shutdown.
func (c *Channel) Unlink() error {
	return c.seg.Unlink()
}

// Reader is the consumer side. It must acknowledge every taken frame,
// including frames it fails to process, or the producer stalls.
type Reader struct {
	seg      *shm.Segment
	data     []byte
	waiter   *shm.Waiter
	consumed *shm.Sem
	cursor   uint32
	primed   bool
}

// Open attaches to the handoff segment. Returns shm.ErrNotAvailable while
// the producer has not created it; use shm.WaitForSegment to block for it.
func Open(name string) (*Reader, error) {
	seg, err := shm.Open(name, Size)
	if err != nil {
		return nil, err
	}
	data := seg.Bytes()
	return &Reader{
		seg:      seg,
		data:     data,
		waiter:   shm.NewWaiter(shm.SemAt(data, offNewFrameSem), shm.DefaultPollInterval),
		consumed: shm.SemAt(data, offConsumedSem),
	}, nil
}

// TryTake returns the current descriptor if it is one this reader has not
// taken yet. Corrupt descriptors are acknowledged immediately so the
// producer is not stalled by a frame nobody can use.
func (r *Reader) TryTake() (*Descriptor, bool, error) {
	b := r.data
	v := atomic.LoadUint32(u32ptr(b, offVersion))
	if v == 0 || (r.primed && !shm.VersionNewer(v, r.cursor)) {
		return nil, false, nil
	}
	d, err := decodeDescriptor(b)
	r.cursor = v
	r.primed = true
	if err != nil {
		log.Printf("[zerocopy] dropping bad descriptor in %s: %v", r.seg.Name(), err)
		r.Acknowledge()
		return nil, false, nil
	}
	return d, true, nil
}

// Take blocks until a new descriptor arrives or ctx is done.
func (r *Reader) Take(ctx context.Context) (*Descriptor, error) {
	for {
		d, ok, err := r.TryTake()
		if err != nil {
			return nil, err
		}
		if ok {
			return d, nil
		}
		if err := r.waiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

// Wait blocks until the producer signals a new frame, one poll interval
// passes, or ctx is done.
func (r *Reader) Wait(ctx context.Context) error {
	return r.waiter.Wait(ctx)
}

// Acknowledge releases the current frame back to the producer. Safe to call
// more than once per frame.
func (r *Reader) Acknowledge() {
	atomic.StoreUint32(u32ptr(r.data, offConsumed), 1)
	if err := r.consumed.Post(); err != nil {
		log.Printf("[zerocopy] ack post failed: %v", err)
	}
}

// Close unmaps the segment.
func (r *Reader) Close() error {
	return r.seg.Close()
}
