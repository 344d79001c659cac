package camctl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"strzcam.com/camshm/frame"
	"strzcam.com/camshm/shm"
)

func testName(t *testing.T) string {
	return fmt.Sprintf("/camshm_test_%s_%d", t.Name(), os.Getpid())
}

func TestLayoutIsFrozen(t *testing.T) {
	if brOffSem != 88 || BrightnessSize != 120 || ControlSize != 8 {
		t.Fatalf("layout moved: sem=%d brightness=%d control=%d", brOffSem, BrightnessSize, ControlSize)
	}
}

func testBrightness(t *testing.T) *BrightnessChannel {
	t.Helper()
	c, err := CreateBrightness(testName(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() {
		c.Unlink()
		c.Close()
	})
	return c
}

func TestBrightnessRoundTrip(t *testing.T) {
	c := testBrightness(t)
	r := OpenBrightnessReader(testName(t))
	defer r.Close()

	in := &Sample{
		FrameNumber: 12,
		Timestamp:   time.Unix(1700000000, 5),
		Brightness: frame.Brightness{
			Avg: 36.5, Lux: 12, Zone: frame.ZoneDark, CorrectionApplied: true,
		},
	}
	if err := c.Publish(CameraDay, in); err != nil {
		t.Fatalf("publish: %v", err)
	}
	out, ok, err := r.Read(CameraDay)
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if out.FrameNumber != 12 || out.Brightness != in.Brightness || !out.Timestamp.Equal(in.Timestamp) {
		t.Fatalf("sample mismatch: %+v", out)
	}
}

func TestBrightnessSlotsAreKeyedByCameraID(t *testing.T) {
	c := testBrightness(t)
	r := OpenBrightnessReader(testName(t))
	defer r.Close()

	if err := c.Publish(CameraDay, &Sample{FrameNumber: 1, Timestamp: time.Now(),
		Brightness: frame.Brightness{Avg: 200}}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// The sample must land in the day slot of the shared block, where a
	// reader built against the layout alone would look for it.
	dayAvg := math.Float32frombits(binary.LittleEndian.Uint32(c.data[brOffSamples+sampleAvg:]))
	nightAvg := math.Float32frombits(binary.LittleEndian.Uint32(c.data[brOffSamples+sampleSize+sampleAvg:]))
	if dayAvg != 200 || nightAvg != 0 {
		t.Fatalf("day sample misplaced: slot0 avg=%v slot1 avg=%v", dayAvg, nightAvg)
	}

	if s, ok, _ := r.Read(CameraDay); !ok || s.Avg != 200 {
		t.Fatalf("day read: ok=%v s=%+v", ok, s)
	}
	if _, ok, _ := r.Read(CameraNight); ok {
		t.Fatal("night slot was never written, read must report no data")
	}
}

func TestBrightnessCamerasHaveIndependentSlots(t *testing.T) {
	c := testBrightness(t)
	r := OpenBrightnessReader(testName(t))
	defer r.Close()

	if err := c.Publish(CameraDay, &Sample{FrameNumber: 1, Timestamp: time.Now(),
		Brightness: frame.Brightness{Avg: 180}}); err != nil {
		t.Fatalf("publish day: %v", err)
	}
	if err := c.Publish(CameraNight, &Sample{FrameNumber: 2, Timestamp: time.Now(),
		Brightness: frame.Brightness{Avg: 60}}); err != nil {
		t.Fatalf("publish night: %v", err)
	}

	day, ok, _ := r.Read(CameraDay)
	if !ok || day.Avg != 180 {
		t.Fatalf("day read: ok=%v s=%+v", ok, day)
	}
	night, ok, _ := r.Read(CameraNight)
	if !ok || night.Avg != 60 {
		t.Fatalf("night read: ok=%v s=%+v", ok, night)
	}
}

func TestBrightnessEachSampleDeliveredOnce(t *testing.T) {
	c := testBrightness(t)
	r := OpenBrightnessReader(testName(t))
	defer r.Close()

	if err := c.Publish(CameraDay, &Sample{FrameNumber: 1, Timestamp: time.Now()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, ok, _ := r.Read(CameraDay); !ok {
		t.Fatal("first read must deliver")
	}
	if _, ok, _ := r.Read(CameraDay); ok {
		t.Fatal("unchanged sample must not deliver again")
	}

	// A publish for the other camera bumps the shared version but must
	// not re-deliver the day sample.
	if err := c.Publish(CameraNight, &Sample{FrameNumber: 2, Timestamp: time.Now()}); err != nil {
		t.Fatalf("publish night: %v", err)
	}
	if _, ok, _ := r.Read(CameraDay); ok {
		t.Fatal("night publish must not re-deliver the day sample")
	}

	if err := c.Publish(CameraDay, &Sample{FrameNumber: 3, Timestamp: time.Now()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	out, ok, _ := r.Read(CameraDay)
	if !ok || out.FrameNumber != 3 {
		t.Fatalf("expected frame 3, got ok=%v out=%+v", ok, out)
	}
}

func TestBrightnessRejectsUnknownCamera(t *testing.T) {
	c := testBrightness(t)
	if err := c.Publish(5, &Sample{FrameNumber: 1, Timestamp: time.Now()}); err == nil {
		t.Fatal("camera id 5 must be rejected")
	}
	r := OpenBrightnessReader(testName(t))
	defer r.Close()
	if _, _, err := r.Read(5); err == nil {
		t.Fatal("read of camera id 5 must be rejected")
	}
}

func TestBrightnessReaderBeforeWriter(t *testing.T) {
	r := OpenBrightnessReader(testName(t))
	defer r.Close()
	if _, ok, err := r.Read(CameraDay); ok || err != nil {
		t.Fatalf("missing writer must read as no data: ok=%v err=%v", ok, err)
	}
}

func TestControlStartsOnDayCamera(t *testing.T) {
	c, err := CreateControl(testName(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() {
		c.Unlink()
		c.Close()
	}()
	id, v := c.Active()
	if id != CameraDay || v != 0 {
		t.Fatalf("fresh control = (%d, %d), want (%d, 0)", id, v, CameraDay)
	}
}

func TestControlSetActive(t *testing.T) {
	c, err := CreateControl(testName(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() {
		c.Unlink()
		c.Close()
	}()
	if err := c.SetActive(CameraNight); err != nil {
		t.Fatalf("set: %v", err)
	}

	// A second attachment must observe the switch.
	o, err := OpenControl(testName(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer o.Close()
	id, v := o.Active()
	if id != CameraNight || v != 1 {
		t.Fatalf("observed (%d, %d), want (%d, 1)", id, v, CameraNight)
	}
}

func TestControlRejectsUnknownCamera(t *testing.T) {
	c, err := CreateControl(testName(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() {
		c.Unlink()
		c.Close()
	}()
	if err := c.SetActive(7); err == nil {
		t.Fatal("camera id 7 must be rejected")
	}
	if id, v := c.Active(); id != CameraDay || v != 0 {
		t.Fatalf("rejected set must not change state: (%d, %d)", id, v)
	}
}

func TestOpenControlBeforeController(t *testing.T) {
	if _, err := OpenControl(testName(t)); !errors.Is(err, shm.ErrNotAvailable) {
		t.Fatalf("expected ErrNotAvailable, got %v", err)
	}
}
