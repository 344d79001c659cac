package zerocopy

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"strzcam.com/camshm/frame"
	"strzcam.com/camshm/shm"
)

// MaxPlanes is the plane capacity of a descriptor. NV12 uses two planes
// (Y and interleaved UV); packed formats use one.
const MaxPlanes = 2

// Descriptor announces one hardware frame by reference: share IDs the
// consumer can import instead of a copied payload.
type Descriptor struct {
	FrameNumber       uint64
	Timestamp         time.Time
	CameraID          int32
	Width             int32
	Height            int32
	Format            frame.Format
	BrightnessAvg     float32
	CorrectionApplied bool
	Planes            []Plane
}

// Plane is one importable buffer of a frame.
type Plane struct {
	ShareID int32
	Size    uint64
}

// Channel layout, little-endian, frozen. The descriptor block is followed
// by the new-frame and consumed semaphores.
const (
	offFrameNumber = 0
	offSec         = 8
	offNsec        = 16
	offCameraID    = 24
	offWidth       = 28
	offHeight      = 32
	offFormat      = 36
	offBrightAvg   = 40
	offCorrection  = 44
	offShareIDs    = 48
	offPlaneSizes  = 56
	offPlaneCount  = 72
	offVersion     = 76
	offConsumed    = 80

	offNewFrameSem = 84
	offConsumedSem = offNewFrameSem + shm.SemSize

	// Size is the byte size of the handoff channel segment.
	Size = offConsumedSem + shm.SemSize
)

// validate checks the invariants a descriptor must hold before it can be
// published or acted on. NV12 is the only planar format and needs both
// planes; everything else travels as a single buffer.
func (d *Descriptor) validate() error {
	want := 1
	if d.Format == frame.FormatNV12 {
		want = MaxPlanes
	}
	if len(d.Planes) != want {
		return fmt.Errorf("%s frame %d has %d planes, want %d", d.Format, d.FrameNumber, len(d.Planes), want)
	}
	for i, p := range d.Planes {
		if p.Size == 0 {
			return fmt.Errorf("frame %d plane %d has zero size", d.FrameNumber, i)
		}
	}
	return nil
}

func encodeDescriptor(b []byte, d *Descriptor) {
	binary.LittleEndian.PutUint64(b[offFrameNumber:], d.FrameNumber)
	binary.LittleEndian.PutUint64(b[offSec:], uint64(d.Timestamp.Unix()))
	binary.LittleEndian.PutUint64(b[offNsec:], uint64(d.Timestamp.Nanosecond()))
	binary.LittleEndian.PutUint32(b[offCameraID:], uint32(d.CameraID))
	binary.LittleEndian.PutUint32(b[offWidth:], uint32(d.Width))
	binary.LittleEndian.PutUint32(b[offHeight:], uint32(d.Height))
	binary.LittleEndian.PutUint32(b[offFormat:], uint32(d.Format))
	binary.LittleEndian.PutUint32(b[offBrightAvg:], math.Float32bits(d.BrightnessAvg))
	if d.CorrectionApplied {
		b[offCorrection] = 1
	} else {
		b[offCorrection] = 0
	}
	for i := 0; i < MaxPlanes; i++ {
		var id int32
		var size uint64
		if i < len(d.Planes) {
			id, size = d.Planes[i].ShareID, d.Planes[i].Size
		}
		binary.LittleEndian.PutUint32(b[offShareIDs+i*4:], uint32(id))
		binary.LittleEndian.PutUint64(b[offPlaneSizes+i*8:], size)
	}
	binary.LittleEndian.PutUint32(b[offPlaneCount:], uint32(len(d.Planes)))
}

func decodeDescriptor(b []byte) (*Descriptor, error) {
	cnt := int32(binary.LittleEndian.Uint32(b[offPlaneCount:]))
	if cnt < 1 || cnt > MaxPlanes {
		return nil, fmt.Errorf("plane count %d out of range", cnt)
	}
	d := &Descriptor{
		FrameNumber: binary.LittleEndian.Uint64(b[offFrameNumber:]),
		Timestamp: time.Unix(
			int64(binary.LittleEndian.Uint64(b[offSec:])),
			int64(binary.LittleEndian.Uint64(b[offNsec:]))),
		CameraID:          int32(binary.LittleEndian.Uint32(b[offCameraID:])),
		Width:             int32(binary.LittleEndian.Uint32(b[offWidth:])),
		Height:            int32(binary.LittleEndian.Uint32(b[offHeight:])),
		Format:            frame.Format(binary.LittleEndian.Uint32(b[offFormat:])),
		BrightnessAvg:     math.Float32frombits(binary.LittleEndian.Uint32(b[offBrightAvg:])),
		CorrectionApplied: b[offCorrection] == 1,
		Planes:            make([]Plane, cnt),
	}
	for i := 0; i < int(cnt); i++ {
		d.Planes[i] = Plane{
			ShareID: int32(binary.LittleEndian.Uint32(b[offShareIDs+i*4:])),
			Size:    binary.LittleEndian.Uint64(b[offPlaneSizes+i*8:]),
		}
	}
	return d, d.validate()
}
