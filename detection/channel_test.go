package detection

import (
	"fmt"
	"os"
	"testing"
	"time"
)

func testChannel(t *testing.T) *Channel {
	t.Helper()
	name := fmt.Sprintf("/camshm_test_%s_%d", t.Name(), os.Getpid())
	c, err := Create(name)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() {
		c.Unlink()
		c.Close()
	})
	return c
}

func TestLayoutIsFrozen(t *testing.T) {
	// These values are the cross-process contract; a change here breaks
	// every reader built against the old offsets.
	if offVersion != 548 || offSem != 552 || Size != 584 {
		t.Fatalf("layout moved: version=%d sem=%d size=%d", offVersion, offSem, Size)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	c := testChannel(t)
	r := OpenReader(c.seg.Name())
	defer r.Close()

	in := &Result{
		FrameNumber: 7,
		Timestamp:   time.Unix(1700000000, 42),
		Detections: []Detection{
			{Class: "person", Confidence: 0.91, Box: BoundingBox{X: 10, Y: 20, Width: 100, Height: 200}},
			{Class: "cat", Confidence: 0.45, Box: BoundingBox{X: -5, Y: 0, Width: 30, Height: 30}},
		},
	}
	if err := c.Write(in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, ok, err := r.Read()
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if out.FrameNumber != 7 || len(out.Detections) != 2 {
		t.Fatalf("result mismatch: %+v", out)
	}
	if out.Detections[0].Class != "person" || out.Detections[1].Box.X != -5 {
		t.Fatalf("record mismatch: %+v", out.Detections)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Fatalf("timestamp mismatch: %v", out.Timestamp)
	}
}

func TestEachVersionDeliveredOnce(t *testing.T) {
	c := testChannel(t)
	r := OpenReader(c.seg.Name())
	defer r.Close()

	if err := c.Write(&Result{FrameNumber: 1, Timestamp: time.Now()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok, _ := r.Read(); !ok {
		t.Fatal("first read must deliver")
	}
	if _, ok, _ := r.Read(); ok {
		t.Fatal("unchanged version must not deliver again")
	}
}

func TestEmptyResultsStillAdvanceVersion(t *testing.T) {
	c := testChannel(t)
	r := OpenReader(c.seg.Name())
	defer r.Close()

	for i := 0; i < 2; i++ {
		if err := c.Write(&Result{FrameNumber: uint64(i + 1), Timestamp: time.Now()}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		out, ok, err := r.Read()
		if err != nil || !ok {
			t.Fatalf("empty write %d must still publish a change: ok=%v err=%v", i, ok, err)
		}
		if len(out.Detections) != 0 {
			t.Fatalf("expected zero records, got %d", len(out.Detections))
		}
	}
}

func TestExcessRecordsAreDropped(t *testing.T) {
	c := testChannel(t)
	r := OpenReader(c.seg.Name())
	defer r.Close()

	in := &Result{FrameNumber: 1, Timestamp: time.Now()}
	for i := 0; i < MaxDetections+5; i++ {
		in.Detections = append(in.Detections, Detection{Class: "person", Confidence: float32(i)})
	}
	if err := c.Write(in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, ok, _ := r.Read()
	if !ok || len(out.Detections) != MaxDetections {
		t.Fatalf("expected %d records, got %d (ok=%v)", MaxDetections, len(out.Detections), ok)
	}
}

func TestVersionDoesNotMoveReaderCursor(t *testing.T) {
	c := testChannel(t)
	r := OpenReader(c.seg.Name())
	defer r.Close()

	if err := c.Write(&Result{FrameNumber: 1, Timestamp: time.Now()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if v := r.Version(); v != 1 {
		t.Fatalf("version = %d, want 1", v)
	}
	if _, ok, _ := r.Read(); !ok {
		t.Fatal("peeking the version must not consume the result")
	}
}

func TestReadBeforeWriterStarts(t *testing.T) {
	name := fmt.Sprintf("/camshm_test_%s_%d", t.Name(), os.Getpid())
	r := OpenReader(name)
	defer r.Close()

	if _, ok, err := r.Read(); ok || err != nil {
		t.Fatalf("missing writer must read as no data: ok=%v err=%v", ok, err)
	}
	if v := r.Version(); v != 0 {
		t.Fatalf("version before writer = %d, want 0", v)
	}

	// Writer appears later; the same reader attaches on its next read.
	c, err := Create(name)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() {
		c.Unlink()
		c.Close()
	}()
	if err := c.Write(&Result{FrameNumber: 9, Timestamp: time.Now()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, ok, err := r.Read()
	if err != nil || !ok || out.FrameNumber != 9 {
		t.Fatalf("late attach read failed: ok=%v err=%v out=%+v", ok, err, out)
	}
}

func TestLongClassNameTruncated(t *testing.T) {
	c := testChannel(t)
	r := OpenReader(c.seg.Name())
	defer r.Close()

	long := "a-very-long-class-name-that-exceeds-the-fixed-field"
	if err := c.Write(&Result{FrameNumber: 1, Timestamp: time.Now(),
		Detections: []Detection{{Class: long}}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, ok, _ := r.Read()
	if !ok {
		t.Fatal("read failed")
	}
	if got := out.Detections[0].Class; len(got) != classNameLen-1 || got != long[:classNameLen-1] {
		t.Fatalf("class = %q, want %d-byte prefix", got, classNameLen-1)
	}
}
