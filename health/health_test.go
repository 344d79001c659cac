package health

import (
	"fmt"
	"os"
	"testing"
	"time"

	"strzcam.com/camshm/detection"
	"strzcam.com/camshm/frame"
)

func testNames(t *testing.T) Config {
	base := fmt.Sprintf("/camshm_test_%s_%d", t.Name(), os.Getpid())
	return Config{
		FramesName:     base + "_frames",
		DetectionsName: base + "_detections",
		RingSlots:      3,
	}
}

func TestMissingRingIsCritical(t *testing.T) {
	rep := NewProbe(testNames(t)).Check()
	if rep.Verdict() != StateCritical {
		t.Fatalf("state = %s, want CRITICAL", rep.State)
	}
}

func TestEmptyRingIsStale(t *testing.T) {
	cfg := testNames(t)
	ring, err := frame.CreateRing(cfg.FramesName, cfg.RingSlots)
	if err != nil {
		t.Fatalf("ring: %v", err)
	}
	defer func() { ring.Unlink(); ring.Close() }()

	rep := NewProbe(cfg).Check()
	if rep.Verdict() != StateStale {
		t.Fatalf("state = %s, want STALE", rep.State)
	}
}

func TestFreshFrameIsOK(t *testing.T) {
	cfg := testNames(t)
	ring, err := frame.CreateRing(cfg.FramesName, cfg.RingSlots)
	if err != nil {
		t.Fatalf("ring: %v", err)
	}
	defer func() { ring.Unlink(); ring.Close() }()

	if err := ring.Write(&frame.Frame{Number: 1, Timestamp: time.Now(), Data: []byte{1}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	rep := NewProbe(cfg).Check()
	if rep.Verdict() != StateOK {
		t.Fatalf("state = %s (%s), want OK", rep.State, rep.Reason)
	}
	if rep.LastFrameNumber != 1 || rep.FramesTotal != 1 {
		t.Fatalf("report fields: %+v", rep)
	}
}

func TestOldFrameGoesStaleThenCritical(t *testing.T) {
	cfg := testNames(t)
	ring, err := frame.CreateRing(cfg.FramesName, cfg.RingSlots)
	if err != nil {
		t.Fatalf("ring: %v", err)
	}
	defer func() { ring.Unlink(); ring.Close() }()

	if err := ring.Write(&frame.Frame{Number: 1, Timestamp: time.Now().Add(-2 * time.Second), Data: []byte{1}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if rep := NewProbe(cfg).Check(); rep.Verdict() != StateStale {
		t.Fatalf("2s-old frame: state = %s, want STALE", rep.State)
	}

	if err := ring.Write(&frame.Frame{Number: 2, Timestamp: time.Now().Add(-10 * time.Second), Data: []byte{2}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if rep := NewProbe(cfg).Check(); rep.Verdict() != StateCritical {
		t.Fatalf("10s-old frame: state = %s, want CRITICAL", rep.State)
	}
}

func TestReportsDetectionVersion(t *testing.T) {
	cfg := testNames(t)
	ring, err := frame.CreateRing(cfg.FramesName, cfg.RingSlots)
	if err != nil {
		t.Fatalf("ring: %v", err)
	}
	defer func() { ring.Unlink(); ring.Close() }()
	if err := ring.Write(&frame.Frame{Number: 1, Timestamp: time.Now(), Data: []byte{1}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if rep := NewProbe(cfg).Check(); rep.HasDetections {
		t.Fatal("no detector yet, HasDetections must be false")
	}

	det, err := detection.Create(cfg.DetectionsName)
	if err != nil {
		t.Fatalf("detections: %v", err)
	}
	defer func() { det.Unlink(); det.Close() }()
	if err := det.Write(&detection.Result{FrameNumber: 1, Timestamp: time.Now()}); err != nil {
		t.Fatalf("detection write: %v", err)
	}

	rep := NewProbe(cfg).Check()
	if !rep.HasDetections || rep.DetectionVersion != 1 {
		t.Fatalf("detection fields: %+v", rep)
	}
}
