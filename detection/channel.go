package detection

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"
	"unsafe"

	"strzcam.com/camshm/shm"
)

// Result slot layout, little-endian, frozen.
const (
	offFrameNumber = 0
	offSec         = 8
	offNsec        = 16
	offCount       = 24
	offRecords     = 28

	recClass      = 0
	recConfidence = 32
	recBox        = 36
	recSize       = 52

	offVersion = offRecords + MaxDetections*recSize
	offSem     = offVersion + 4

	// Size is the byte size of the detection result segment.
	Size = offSem + shm.SemSize
)

func u32ptr(b []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[off]))
}

// Channel is the writer side of the versioned detection result slot.
// One detector process owns it; readers attach with OpenReader.
type Channel struct {
	seg  *shm.Segment
	data []byte
	sem  *shm.Sem
}

// Create creates (or reattaches to) the detection segment as the writer.
func Create(name string) (*Channel, error) {
	seg, err := shm.Create(name, Size)
	if err != nil {
		return nil, err
	}
	data := seg.Bytes()
	return &Channel{seg: seg, data: data, sem: shm.SemAt(data, offSem)}, nil
}

// Write publishes r, overwriting the previous result. Records beyond
// MaxDetections are dropped with a log line. The version moves after the
// payload is in place, so readers keying on the version never act on a
// half-written slot.
func (c *Channel) Write(r *Result) error {
	recs := r.Detections
	if len(recs) > MaxDetections {
		log.Printf("[detection] dropping %d of %d records for frame %d", len(recs)-MaxDetections, len(recs), r.FrameNumber)
		recs = recs[:MaxDetections]
	}
	b := c.data
	binary.LittleEndian.PutUint64(b[offFrameNumber:], r.FrameNumber)
	binary.LittleEndian.PutUint64(b[offSec:], uint64(r.Timestamp.Unix()))
	binary.LittleEndian.PutUint64(b[offNsec:], uint64(r.Timestamp.Nanosecond()))
	binary.LittleEndian.PutUint32(b[offCount:], uint32(len(recs)))
	for i, d := range recs {
		base := offRecords + i*recSize
		name := []byte(d.Class)
		if len(name) > classNameLen-1 {
			name = name[:classNameLen-1]
		}
		copy(b[base+recClass:base+recClass+classNameLen], make([]byte, classNameLen))
		copy(b[base+recClass:], name)
		binary.LittleEndian.PutUint32(b[base+recConfidence:], math.Float32bits(d.Confidence))
		binary.LittleEndian.PutUint32(b[base+recBox:], uint32(d.Box.X))
		binary.LittleEndian.PutUint32(b[base+recBox+4:], uint32(d.Box.Y))
		binary.LittleEndian.PutUint32(b[base+recBox+8:], uint32(d.Box.Width))
		binary.LittleEndian.PutUint32(b[base+recBox+12:], uint32(d.Box.Height))
	}
	atomic.AddUint32(u32ptr(b, offVersion), 1)
	if err := c.sem.Post(); err != nil {
		log.Printf("[detection] wake post failed: %v", err)
	}
	return nil
}

// Version returns the current slot version.
func (c *Channel) Version() uint32 {
	return atomic.LoadUint32(u32ptr(c.data, offVersion))
}

// Close unmaps the segment.
func (c *Channel) Close() error {
	return c.seg.Close()
}

// Unlink removes the segment name; writer-only, on clean shutdown.
func (c *Channel) Unlink() error {
	return c.seg.Unlink()
}

// Reader consumes versioned results, delivering each version at most once.
// Not safe for concurrent use.
type Reader struct {
	name   string
	seg    *shm.Segment
	data   []byte
	waiter *shm.Waiter
	cursor uint32
	primed bool
}

// OpenReader attaches to the detection segment lazily: the detector may
// start minutes after its consumers, so attach failures are retried on
// every Read instead of failing construction.
func OpenReader(name string) *Reader {
	return &Reader{name: name}
}

func (r *Reader) attach() error {
	if r.data != nil {
		return nil
	}
	seg, err := shm.Open(r.name, Size)
	if err != nil {
		return err
	}
	r.seg = seg
	r.data = seg.Bytes()
	r.waiter = shm.NewWaiter(shm.SemAt(r.data, offSem), shm.DefaultPollInterval)
	return nil
}

// Read returns the current result if its version is newer than the last one
// delivered. The bool is false when nothing new is published or the writer
// has not created the segment yet.
func (r *Reader) Read() (*Result, bool, error) {
	if err := r.attach(); err != nil {
		if errors.Is(err, shm.ErrNotAvailable) {
			return nil, false, nil
		}
		return nil, false, err
	}
	b := r.data
	v := atomic.LoadUint32(u32ptr(b, offVersion))
	if v == 0 || (r.primed && !shm.VersionNewer(v, r.cursor)) {
		return nil, false, nil
	}

	res, err := decode(b)
	if err != nil {
		log.Printf("[detection] dropping corrupt result in %s: %v", r.name, err)
		return nil, false, nil
	}
	// A version moved mid-copy means the payload mixes two results.
	if again := atomic.LoadUint32(u32ptr(b, offVersion)); again != v {
		return nil, false, nil
	}
	r.cursor = v
	r.primed = true
	return res, true, nil
}

// Version returns the writer's current version without touching this
// reader's cursor, or 0 when the segment is not available yet.
func (r *Reader) Version() uint32 {
	if err := r.attach(); err != nil {
		return 0
	}
	return atomic.LoadUint32(u32ptr(r.data, offVersion))
}

// Wait blocks until the writer signals, a poll interval passes, or ctx is
// done. Before attach it degrades to a plain poll sleep.
func (r *Reader) Wait(ctx context.Context) error {
	if err := r.attach(); err != nil || r.waiter == nil {
		return shm.NewWaiter(nil, shm.DefaultPollInterval).Wait(ctx)
	}
	return r.waiter.Wait(ctx)
}

// Close unmaps the segment if attached.
func (r *Reader) Close() error {
	if r.seg == nil {
		return nil
	}
	err := r.seg.Close()
	r.seg, r.data, r.waiter = nil, nil, nil
	return err
}

func decode(b []byte) (*Result, error) {
	count := int32(binary.LittleEndian.Uint32(b[offCount:]))
	if count < 0 || count > MaxDetections {
		return nil, fmt.Errorf("detection count %d out of range", count)
	}
	res := &Result{
		FrameNumber: binary.LittleEndian.Uint64(b[offFrameNumber:]),
		Timestamp: time.Unix(
			int64(binary.LittleEndian.Uint64(b[offSec:])),
			int64(binary.LittleEndian.Uint64(b[offNsec:]))),
	}
	if count > 0 {
		res.Detections = make([]Detection, count)
	}
	for i := 0; i < int(count); i++ {
		base := offRecords + i*recSize
		raw := b[base+recClass : base+recClass+classNameLen]
		n := 0
		for n < len(raw) && raw[n] != 0 {
			n++
		}
		res.Detections[i] = Detection{
			Class:      string(raw[:n]),
			Confidence: math.Float32frombits(binary.LittleEndian.Uint32(b[base+recConfidence:])),
			Box: BoundingBox{
				X:      int32(binary.LittleEndian.Uint32(b[base+recBox:])),
				Y:      int32(binary.LittleEndian.Uint32(b[base+recBox+4:])),
				Width:  int32(binary.LittleEndian.Uint32(b[base+recBox+8:])),
				Height: int32(binary.LittleEndian.Uint32(b[base+recBox+12:])),
			},
		}
	}
	return res, nil
}
