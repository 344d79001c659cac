package shm

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func testName(t *testing.T) string {
	return fmt.Sprintf("/camshm_test_%s_%d", t.Name(), os.Getpid())
}

func TestCreateAndOpenSegment(t *testing.T) {
	name := testName(t)
	seg, err := Create(name, 128)
	if err != nil {
		t.Fatal("Failed to create segment:", err)
	}
	defer seg.Unlink()
	defer seg.Close()

	if !seg.Owner() {
		t.Error("Creator should own the segment")
	}
	seg.Bytes()[0] = 0xAB

	reader, err := Open(name, 128)
	if err != nil {
		t.Fatal("Failed to open segment:", err)
	}
	defer reader.Close()
	if reader.Owner() {
		t.Error("Reader should not own the segment")
	}
	if reader.Bytes()[0] != 0xAB {
		t.Errorf("Expected shared byte 0xAB, got %#x", reader.Bytes()[0])
	}
}

func TestOpenMissingSegmentIsNotAvailable(t *testing.T) {
	_, err := Open("/camshm_test_does_not_exist", 64)
	if !errors.Is(err, ErrNotAvailable) {
		t.Errorf("Expected ErrNotAvailable, got %v", err)
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	name := testName(t)
	first, err := Create(name, 64)
	if err != nil {
		t.Fatal("Failed to create segment:", err)
	}
	defer first.Unlink()
	defer first.Close()

	second, err := Create(name, 64)
	if err != nil {
		t.Fatal("Second create should reuse the segment:", err)
	}
	defer second.Close()
	if second.Owner() {
		t.Error("Second creator must not become the owner")
	}
}

func TestConsumerCannotUnlink(t *testing.T) {
	name := testName(t)
	seg, err := Create(name, 64)
	if err != nil {
		t.Fatal("Failed to create segment:", err)
	}
	defer seg.Unlink()
	defer seg.Close()

	reader, err := Open(name, 64)
	if err != nil {
		t.Fatal("Failed to open segment:", err)
	}
	defer reader.Close()
	if err := reader.Unlink(); err == nil {
		t.Error("Unlink by a non-owner should fail")
	}
}

func TestWritesAreVisibleAcrossMappings(t *testing.T) {
	name := testName(t)
	writer, err := Create(name, 256)
	if err != nil {
		t.Fatal("Failed to create segment:", err)
	}
	defer writer.Unlink()
	defer writer.Close()

	reader, err := Open(name, 256)
	if err != nil {
		t.Fatal("Failed to open segment:", err)
	}
	defer reader.Close()

	copy(writer.Bytes()[100:], []byte("frame payload"))
	time.Sleep(time.Millisecond)
	got := string(reader.Bytes()[100 : 100+len("frame payload")])
	if got != "frame payload" {
		t.Errorf("Expected shared write to be visible, got %q", got)
	}
}
