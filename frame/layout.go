package frame

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"
	"unsafe"
)

// Ring buffer layout, little-endian. Readers and writers may be built at
// different times, so these offsets are frozen: changing any of them is a
// protocol break and requires a new channel name.
const (
	// MaxFrameSize fits one 1920x1080 NV12 frame, the largest payload any
	// producer writes.
	MaxFrameSize = 1920 * 1080 * 3 / 2

	// DefaultSlots is sized for one second of video at 30 fps.
	DefaultSlots = 30

	offWriteIndex    = 0
	offFrameInterval = 4
	offRingSem       = 8
	offSlots         = 40

	slotFrameNumber = 0
	slotSec         = 8
	slotNsec        = 16
	slotCameraID    = 24
	slotWidth       = 28
	slotHeight      = 32
	slotFormat      = 36
	slotDataSize    = 40
	slotBrightAvg   = 48
	slotBrightLux   = 52
	slotZone        = 56
	slotCorrection  = 57
	slotData        = 60

	// slotSize is padded so every slot's frame_number lands on an 8-byte
	// boundary; atomic 64-bit loads fault on unaligned addresses.
	slotSize = (slotData + MaxFrameSize + 7) &^ 7
)

// Size returns the byte size of a ring segment with the given slot count.
func Size(slots int) int {
	return offSlots + slots*slotSize
}

func u32ptr(b []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[off]))
}

func u64ptr(b []byte, off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&b[off]))
}

// encodeSlot writes f into the slot starting at base. The frame number is
// written last among the metadata so a concurrent reader that re-checks it
// after copying can detect a torn read.
func encodeSlot(b []byte, base int, f *Frame) error {
	if len(f.Data) > MaxFrameSize {
		return fmt.Errorf("frame %d payload %d exceeds slot capacity %d", f.Number, len(f.Data), MaxFrameSize)
	}
	binary.LittleEndian.PutUint64(b[base+slotSec:], uint64(f.Timestamp.Unix()))
	binary.LittleEndian.PutUint64(b[base+slotNsec:], uint64(f.Timestamp.Nanosecond()))
	binary.LittleEndian.PutUint32(b[base+slotCameraID:], uint32(f.CameraID))
	binary.LittleEndian.PutUint32(b[base+slotWidth:], uint32(f.Width))
	binary.LittleEndian.PutUint32(b[base+slotHeight:], uint32(f.Height))
	binary.LittleEndian.PutUint32(b[base+slotFormat:], uint32(f.Format))
	binary.LittleEndian.PutUint64(b[base+slotDataSize:], uint64(len(f.Data)))
	binary.LittleEndian.PutUint32(b[base+slotBrightAvg:], math.Float32bits(f.Brightness.Avg))
	binary.LittleEndian.PutUint32(b[base+slotBrightLux:], f.Brightness.Lux)
	b[base+slotZone] = byte(f.Brightness.Zone)
	if f.Brightness.CorrectionApplied {
		b[base+slotCorrection] = 1
	} else {
		b[base+slotCorrection] = 0
	}
	copy(b[base+slotData:base+slotData+len(f.Data)], f.Data)
	atomic.StoreUint64(u64ptr(b, base+slotFrameNumber), f.Number)
	return nil
}

// decodeSlot reads the slot at base into a Frame, copying the payload out of
// shared memory. It does not validate freshness; the caller re-checks the
// frame number afterwards.
func decodeSlot(b []byte, base int) (*Frame, error) {
	size := binary.LittleEndian.Uint64(b[base+slotDataSize:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("slot data size %d exceeds capacity %d", size, MaxFrameSize)
	}
	f := &Frame{
		Number:   atomic.LoadUint64(u64ptr(b, base+slotFrameNumber)),
		CameraID: int32(binary.LittleEndian.Uint32(b[base+slotCameraID:])),
		Width:    int32(binary.LittleEndian.Uint32(b[base+slotWidth:])),
		Height:   int32(binary.LittleEndian.Uint32(b[base+slotHeight:])),
		Format:   Format(binary.LittleEndian.Uint32(b[base+slotFormat:])),
		Brightness: Brightness{
			Avg:               math.Float32frombits(binary.LittleEndian.Uint32(b[base+slotBrightAvg:])),
			Lux:               binary.LittleEndian.Uint32(b[base+slotBrightLux:]),
			Zone:              Zone(b[base+slotZone]),
			CorrectionApplied: b[base+slotCorrection] == 1,
		},
	}
	sec := int64(binary.LittleEndian.Uint64(b[base+slotSec:]))
	nsec := int64(binary.LittleEndian.Uint64(b[base+slotNsec:]))
	f.Timestamp = time.Unix(sec, nsec)
	f.Data = make([]byte, size)
	copy(f.Data, b[base+slotData:base+slotData+int(size)])
	return f, nil
}
