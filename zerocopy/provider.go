package zerocopy

import (
	"fmt"
	"log"

	"strzcam.com/camshm/shm"
)

// BufferProvider imports shared buffers by their share ID. The production
// provider wraps the vendor's hardware buffer manager; tests and software
// pipelines use SegmentProvider.
type BufferProvider interface {
	Import(shareID int32, size uint64) (*Region, error)
}

// Region is one imported plane. Release returns the mapping to the
// provider; Data must not be touched afterwards.
type Region struct {
	Data    []byte
	release func() error
}

// Release unmaps the region. Safe to call more than once.
func (r *Region) Release() error {
	if r.release == nil {
		return nil
	}
	rel := r.release
	r.release = nil
	r.Data = nil
	return rel()
}

// SegmentProvider backs share IDs with plain shm segments named
// "<prefix><id>". It stands in for a hardware buffer manager on machines
// without one, and both sides of the handoff can use it.
type SegmentProvider struct {
	prefix string
}

// NewSegmentProvider builds a provider over the given name prefix,
// e.g. "/camshm_buf_".
func NewSegmentProvider(prefix string) *SegmentProvider {
	return &SegmentProvider{prefix: prefix}
}

func (p *SegmentProvider) name(shareID int32) string {
	return fmt.Sprintf("%s%d", p.prefix, shareID)
}

// Import maps the segment behind shareID.
func (p *SegmentProvider) Import(shareID int32, size uint64) (*Region, error) {
	seg, err := shm.Open(p.name(shareID), int(size))
	if err != nil {
		return nil, fmt.Errorf("import buffer %d: %w", shareID, err)
	}
	return &Region{Data: seg.Bytes()[:size], release: seg.Close}, nil
}

// Export creates (or reuses) the segment behind shareID and fills it with
// data. The producer unlinks exported segments on shutdown.
func (p *SegmentProvider) Export(shareID int32, data []byte) (*shm.Segment, error) {
	seg, err := shm.Create(p.name(shareID), len(data))
	if err != nil {
		return nil, fmt.Errorf("export buffer %d: %w", shareID, err)
	}
	copy(seg.Bytes(), data)
	return seg, nil
}

// Consume runs one take-process-acknowledge cycle: take the next
// descriptor, import every plane, hand them to fn, then release the
// imports and acknowledge no matter what fn did. Returns false when no new
// frame was available.
func Consume(r *Reader, bp BufferProvider, fn func(*Descriptor, [][]byte) error) (bool, error) {
	d, ok, err := r.TryTake()
	if err != nil || !ok {
		return false, err
	}
	defer r.Acknowledge()

	regions := make([]*Region, 0, len(d.Planes))
	defer func() {
		for _, reg := range regions {
			if err := reg.Release(); err != nil {
				log.Printf("[zerocopy] release imported buffer: %v", err)
			}
		}
	}()

	planes := make([][]byte, 0, len(d.Planes))
	for _, p := range d.Planes {
		reg, err := bp.Import(p.ShareID, p.Size)
		if err != nil {
			return true, fmt.Errorf("frame %d: %w", d.FrameNumber, err)
		}
		regions = append(regions, reg)
		planes = append(planes, reg.Data)
	}
	if err := fn(d, planes); err != nil {
		return true, err
	}
	return true, nil
}
