package camctl

import (
	"fmt"
	"sync/atomic"

	"strzcam.com/camshm/shm"
)

// Camera IDs. The day camera doubles as the light meter: switch decisions
// in both directions key on its brightness.
const (
	CameraDay   int32 = 0
	CameraNight int32 = 1
)

// Control channel layout: active camera ID plus a change counter.
// Poll-only; switches are rare enough that readers just check the version
// on their own cadence.
const (
	ctlOffActive  = 0
	ctlOffVersion = 4

	// ControlSize is the byte size of the control segment.
	ControlSize = 8
)

// Control is the camera-selection channel. The switch controller writes
// it; capture pipelines and diagnostics read it.
type Control struct {
	seg  *shm.Segment
	data []byte
}

// CreateControl creates (or reattaches to) the control segment as the
// writer. A fresh segment starts at CameraDay with version 0.
func CreateControl(name string) (*Control, error) {
	seg, err := shm.Create(name, ControlSize)
	if err != nil {
		return nil, err
	}
	return &Control{seg: seg, data: seg.Bytes()}, nil
}

// OpenControl attaches read-side. Returns shm.ErrNotAvailable while the
// controller has not created the segment.
func OpenControl(name string) (*Control, error) {
	seg, err := shm.Open(name, ControlSize)
	if err != nil {
		return nil, err
	}
	return &Control{seg: seg, data: seg.Bytes()}, nil
}

// SetActive selects the active camera. The store is ordered before the
// version bump so a reader that sees the new version sees the new camera.
func (c *Control) SetActive(id int32) error {
	if id != CameraDay && id != CameraNight {
		return fmt.Errorf("invalid camera id %d", id)
	}
	atomic.StoreUint32(u32ptr(c.data, ctlOffActive), uint32(id))
	atomic.AddUint32(u32ptr(c.data, ctlOffVersion), 1)
	return nil
}

// Active returns the selected camera and the change counter.
func (c *Control) Active() (int32, uint32) {
	id := int32(atomic.LoadUint32(u32ptr(c.data, ctlOffActive)))
	v := atomic.LoadUint32(u32ptr(c.data, ctlOffVersion))
	return id, v
}

// Close unmaps the segment.
func (c *Control) Close() error {
	return c.seg.Close()
}

// Unlink removes the segment name; writer-only, on clean shutdown.
func (c *Control) Unlink() error {
	return c.seg.Unlink()
}
