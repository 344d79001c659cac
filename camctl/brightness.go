package camctl

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

	"strzcam.com/camshm/frame"
	"strzcam.com/camshm/shm"
)

// Brightness channel layout, little-endian, frozen. One sample slot per
// camera, indexed by camera id, with a single version counter over the
// whole block: any publish bumps it, and readers re-check it to discard
// torn reads.
const (
	brOffVersion = 0
	brOffSamples = 8

	sampleFrameNumber = 0
	sampleSec         = 8
	sampleNsec        = 16
	sampleAvg         = 24
	sampleLux         = 28
	sampleZone        = 32
	sampleCorrection  = 33
	sampleSize        = 40

	brOffSem = brOffSamples + 2*sampleSize

	// BrightnessSize is the byte size of the brightness segment.
	BrightnessSize = brOffSem + shm.SemSize
)

func u32ptr(b []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[off]))
}

// Sample is one per-frame brightness measurement published by the capture
// side for anyone who wants illumination data without frame payloads.
type Sample struct {
	FrameNumber uint64
	Timestamp   time.Time
	frame.Brightness
}

// BrightnessChannel is the writer side of the brightness feed.
type BrightnessChannel struct {
	seg  *shm.Segment
	data []byte
	sem  *shm.Sem
}

// CreateBrightness creates (or reattaches to) the brightness segment as
// the writer.
func CreateBrightness(name string) (*BrightnessChannel, error) {
	seg, err := shm.Create(name, BrightnessSize)
	if err != nil {
		return nil, err
	}
	data := seg.Bytes()
	return &BrightnessChannel{seg: seg, data: data, sem: shm.SemAt(data, brOffSem)}, nil
}

// Publish writes s into the given camera's slot, then bumps the shared
// version. Probe captures of the inactive camera go through here too, so
// both slots stay current even while only one camera feeds the ring.
func (c *BrightnessChannel) Publish(cameraID int32, s *Sample) error {
	if cameraID != CameraDay && cameraID != CameraNight {
		return fmt.Errorf("invalid camera id %d", cameraID)
	}
	b := c.data
	base := brOffSamples + int(cameraID)*sampleSize
	binary.LittleEndian.PutUint64(b[base+sampleFrameNumber:], s.FrameNumber)
	binary.LittleEndian.PutUint64(b[base+sampleSec:], uint64(s.Timestamp.Unix()))
	binary.LittleEndian.PutUint64(b[base+sampleNsec:], uint64(s.Timestamp.Nanosecond()))
	binary.LittleEndian.PutUint32(b[base+sampleAvg:], math.Float32bits(s.Avg))
	binary.LittleEndian.PutUint32(b[base+sampleLux:], s.Lux)
	b[base+sampleZone] = byte(s.Zone)
	if s.CorrectionApplied {
		b[base+sampleCorrection] = 1
	} else {
		b[base+sampleCorrection] = 0
	}
	atomic.AddUint32(u32ptr(b, brOffVersion), 1)
	if err := c.sem.Post(); err != nil {
		log.Printf("[brightness] wake post failed: %v", err)
	}
	return nil
}

// Close unmaps the segment.
func (c *BrightnessChannel) Close() error {
	return c.seg.Close()
}

// Unlink removes the segment name; writer-only, on clean shutdown.
func (c *BrightnessChannel) Unlink() error {
	return c.seg.Unlink()
}

// BrightnessReader consumes the brightness feed with an independent
// cursor per camera slot. Attaches lazily, so it can be built before the
// capture process starts.
type BrightnessReader struct {
	name      string
	seg       *shm.Segment
	data      []byte
	waiter    *shm.Waiter
	cursor    [2]uint32
	lastFrame [2]uint64
	primed    [2]bool
}

// OpenBrightnessReader builds a lazily attaching reader.
func OpenBrightnessReader(name string) *BrightnessReader {
	return &BrightnessReader{name: name}
}

func (r *BrightnessReader) attach() error {
	if r.data != nil {
		return nil
	}
	seg, err := shm.Open(r.name, BrightnessSize)
	if err != nil {
		return err
	}
	r.seg = seg
	r.data = seg.Bytes()
	r.waiter = shm.NewWaiter(shm.SemAt(r.data, brOffSem), shm.DefaultPollInterval)
	return nil
}

// Read returns the given camera's sample if it is one this reader has not
// delivered for that camera. False with no error while the writer is
// absent, the slot has never been written, or nothing changed.
func (r *BrightnessReader) Read(cameraID int32) (*Sample, bool, error) {
	if cameraID != CameraDay && cameraID != CameraNight {
		return nil, false, fmt.Errorf("invalid camera id %d", cameraID)
	}
	if err := r.attach(); err != nil {
		if errors.Is(err, shm.ErrNotAvailable) {
			return nil, false, nil
		}
		return nil, false, err
	}
	b := r.data
	v := atomic.LoadUint32(u32ptr(b, brOffVersion))
	if v == 0 || (r.primed[cameraID] && !shm.VersionNewer(v, r.cursor[cameraID])) {
		return nil, false, nil
	}
	base := brOffSamples + int(cameraID)*sampleSize
	s := &Sample{
		FrameNumber: binary.LittleEndian.Uint64(b[base+sampleFrameNumber:]),
		Timestamp: time.Unix(
			int64(binary.LittleEndian.Uint64(b[base+sampleSec:])),
			int64(binary.LittleEndian.Uint64(b[base+sampleNsec:]))),
		Brightness: frame.Brightness{
			Avg:               math.Float32frombits(binary.LittleEndian.Uint32(b[base+sampleAvg:])),
			Lux:               binary.LittleEndian.Uint32(b[base+sampleLux:]),
			Zone:              frame.Zone(b[base+sampleZone]),
			CorrectionApplied: b[base+sampleCorrection] == 1,
		},
	}
	// The version moved mid-copy: the slot may mix two samples.
	if again := atomic.LoadUint32(u32ptr(b, brOffVersion)); again != v {
		return nil, false, nil
	}
	// Frame numbers start at 1; an all-zero slot has never been written.
	if s.FrameNumber == 0 {
		return nil, false, nil
	}
	r.cursor[cameraID] = v
	if r.primed[cameraID] && s.FrameNumber == r.lastFrame[cameraID] {
		// The version bump came from the other camera's slot.
		return nil, false, nil
	}
	r.lastFrame[cameraID] = s.FrameNumber
	r.primed[cameraID] = true
	return s, true, nil
}

// Wait blocks until the writer signals, one poll interval passes, or ctx
// is done.
func (r *BrightnessReader) Wait(ctx context.Context) error {
	if err := r.attach(); err != nil || r.waiter == nil {
		return shm.NewWaiter(nil, shm.DefaultPollInterval).Wait(ctx)
	}
	return r.waiter.Wait(ctx)
}

// Close unmaps the segment if attached.
func (r *BrightnessReader) Close() error {
	if r.seg == nil {
		return nil
	}
	err := r.seg.Close()
	r.seg, r.data, r.waiter = nil, nil, nil
	return err
}
