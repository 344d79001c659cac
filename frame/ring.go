package frame

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"strzcam.com/camshm/shm"
)

// Ring is the shared frame ring buffer. One producer writes, any number of
// consumers read. There is no read cursor in shared memory: every consumer
// independently tracks the last frame number it saw, so a slow consumer can
// never stall the producer, it just misses overwritten frames.
type Ring struct {
	seg   *shm.Segment
	data  []byte
	slots int
	sem   *shm.Sem
}

// CreateRing creates (or reattaches to) the ring segment as the producer.
// slots <= 0 falls back to DefaultSlots.
func CreateRing(name string, slots int) (*Ring, error) {
	if slots <= 0 {
		slots = DefaultSlots
	}
	seg, err := shm.Create(name, Size(slots))
	if err != nil {
		return nil, err
	}
	return newRing(seg, slots), nil
}

// OpenRing attaches to an existing ring segment as a consumer. It returns
// shm.ErrNotAvailable while the producer has not created the segment yet.
func OpenRing(name string, slots int) (*Ring, error) {
	if slots <= 0 {
		slots = DefaultSlots
	}
	seg, err := shm.Open(name, Size(slots))
	if err != nil {
		return nil, err
	}
	return newRing(seg, slots), nil
}

func newRing(seg *shm.Segment, slots int) *Ring {
	data := seg.Bytes()
	return &Ring{
		seg:   seg,
		data:  data,
		slots: slots,
		sem:   shm.SemAt(data, offRingSem),
	}
}

// Write publishes f into the next slot. The payload and metadata are fully
// written before the write index moves, so readers never see a slot that is
// only half filled by this writer. Returns an error only for oversized
// payloads; a failed wake-up post is logged and ignored.
func (r *Ring) Write(f *Frame) error {
	wi := atomic.LoadUint32(u32ptr(r.data, offWriteIndex))
	base := offSlots + int(wi%uint32(r.slots))*slotSize
	if err := encodeSlot(r.data, base, f); err != nil {
		return err
	}
	atomic.StoreUint32(u32ptr(r.data, offWriteIndex), wi+1)
	if err := r.sem.Post(); err != nil {
		log.Printf("[ring] wake post failed: %v", err)
	}
	return nil
}

// WriteIndex returns the total number of frames ever written.
func (r *Ring) WriteIndex() uint32 {
	return atomic.LoadUint32(u32ptr(r.data, offWriteIndex))
}

// Slots returns the ring capacity.
func (r *Ring) Slots() int {
	return r.slots
}

// SetFrameInterval advertises the producer's target frame pacing to
// consumers, e.g. 33ms for 30fps.
func (r *Ring) SetFrameInterval(d time.Duration) {
	atomic.StoreUint32(u32ptr(r.data, offFrameInterval), uint32(d.Milliseconds()))
}

// FrameInterval returns the advertised pacing, or zero if the producer
// never set one.
func (r *Ring) FrameInterval() time.Duration {
	ms := atomic.LoadUint32(u32ptr(r.data, offFrameInterval))
	return time.Duration(ms) * time.Millisecond
}

// Name returns the segment name backing this ring.
func (r *Ring) Name() string {
	return r.seg.Name()
}

// Close unmaps the segment.
func (r *Ring) Close() error {
	return r.seg.Close()
}

// Unlink removes the segment name; producer-only, on clean shutdown.
func (r *Ring) Unlink() error {
	return r.seg.Unlink()
}

// NewReader returns an independent consumer cursor over the ring.
// Each consumer goroutine needs its own Reader.
func (r *Ring) NewReader() *Reader {
	return &Reader{
		ring:   r,
		waiter: shm.NewWaiter(r.sem, shm.DefaultPollInterval),
	}
}

// Reader reads the most recent frame from a ring, delivering each frame
// number at most once. It is not safe for concurrent use; create one per
// consumer goroutine.
type Reader struct {
	ring   *Ring
	waiter *shm.Waiter
	last   uint64
	seen   bool
}

func (rd *Reader) String() string {
	return fmt.Sprintf("reader(%s, last=%d)", rd.ring.Name(), rd.last)
}

// ReadLatest returns the newest frame if it is one this reader has not
// delivered before. The bool is false when there is nothing new: an empty
// ring, an already-seen frame, or a slot dropped as torn or corrupt.
func (rd *Reader) ReadLatest() (*Frame, bool, error) {
	wi := atomic.LoadUint32(u32ptr(rd.ring.data, offWriteIndex))
	if wi == 0 {
		return nil, false, nil
	}
	base := offSlots + int((wi-1)%uint32(rd.ring.slots))*slotSize

	num := atomic.LoadUint64(u64ptr(rd.ring.data, base+slotFrameNumber))
	if rd.seen && num <= rd.last {
		return nil, false, nil
	}

	f, err := decodeSlot(rd.ring.data, base)
	if err != nil {
		// Corrupt metadata. Drop the frame and keep the consumer alive;
		// the next write overwrites the slot.
		log.Printf("[ring] dropping corrupt slot in %s: %v", rd.ring.Name(), err)
		return nil, false, nil
	}

	// The producer may have lapped us mid-copy. A changed frame number
	// means the payload is a mix of two frames, so discard it.
	if again := atomic.LoadUint64(u64ptr(rd.ring.data, base+slotFrameNumber)); again != num {
		return nil, false, nil
	}

	rd.last = num
	rd.seen = true
	return f, true, nil
}

// Wait blocks until the producer signals a new frame, one poll interval
// passes, or ctx is done. Callers loop: Wait, then ReadLatest.
func (rd *Reader) Wait(ctx context.Context) error {
	return rd.waiter.Wait(ctx)
}
