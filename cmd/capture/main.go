package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"strzcam.com/camshm/camctl"
	"strzcam.com/camshm/config"
	"strzcam.com/camshm/frame"
	"strzcam.com/camshm/shm"
	"strzcam.com/camshm/switcher"
	"strzcam.com/camshm/zerocopy"
)

// synthCamera generates flat test frames with a fixed luminance. It stands
// in for the vendor capture pipeline on development machines.
type synthCamera struct {
	id     int32
	luma   byte
	width  int32
	height int32
}

func (c *synthCamera) ID() int32 { return c.id }

func (c *synthCamera) Capture(context.Context) (*frame.Frame, error) {
	return &frame.Frame{
		Width:  c.width,
		Height: c.height,
		Format: frame.FormatRGB,
		Data:   bytes.Repeat([]byte{c.luma}, int(c.width)*int(c.height)*3),
	}, nil
}

func main() {
	width := flag.Int("width", 320, "synthetic frame width")
	height := flag.Int("height", 240, "synthetic frame height")
	dayLuma := flag.Int("day-luma", 160, "luminance of the synthetic day camera")
	nightLuma := flag.Int("night-luma", 120, "luminance of the synthetic night camera")
	handoff := flag.Bool("handoff", false, "also publish frames over the zero-copy handoff channel")
	flag.Parse()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ring, err := frame.CreateRing(cfg.FramesName, cfg.RingSlots)
	if err != nil {
		log.Fatalf("frame ring: %v", err)
	}
	defer func() {
		ring.Unlink()
		ring.Close()
	}()

	bright, err := camctl.CreateBrightness(cfg.BrightnessName)
	if err != nil {
		log.Fatalf("brightness channel: %v", err)
	}
	defer func() {
		bright.Unlink()
		bright.Close()
	}()

	control, err := camctl.CreateControl(cfg.ControlName)
	if err != nil {
		log.Fatalf("control channel: %v", err)
	}
	defer func() {
		control.Unlink()
		control.Close()
	}()

	day := &synthCamera{id: camctl.CameraDay, luma: byte(*dayLuma), width: int32(*width), height: int32(*height)}
	night := &synthCamera{id: camctl.CameraNight, luma: byte(*nightLuma), width: int32(*width), height: int32(*height)}

	ctrl, err := switcher.New(cfg.Switch, ring, bright, control, day, night)
	if err != nil {
		log.Fatalf("switch controller: %v", err)
	}

	if *handoff {
		go runHandoff(ctx, cfg, ring)
	}

	log.Printf("Capturing to %s (%d slots, %v interval)", cfg.FramesName, cfg.RingSlots, cfg.Switch.FrameInterval)
	ctrl.Run(ctx)
	log.Print("Capture stopped")
}

// runHandoff republishes ring frames over the zero-copy channel, exporting
// each payload as a shared buffer. Two buffer slots alternate so the one
// the consumer still holds is never rewritten.
func runHandoff(ctx context.Context, cfg config.Config, ring *frame.Ring) {
	ch, err := zerocopy.Create(cfg.HandoffName)
	if err != nil {
		log.Printf("handoff channel: %v", err)
		return
	}
	defer func() {
		ch.Unlink()
		ch.Close()
	}()

	bp := zerocopy.NewSegmentProvider(cfg.BufferPrefix)
	exported := make(map[int32]*shm.Segment)
	defer func() {
		for _, seg := range exported {
			seg.Unlink()
			seg.Close()
		}
	}()
	rd := ring.NewReader()
	slot := int32(0)
	for {
		if err := rd.Wait(ctx); err != nil {
			return
		}
		f, ok, err := rd.ReadLatest()
		if err != nil || !ok {
			continue
		}
		seg, err := bp.Export(slot, f.Data)
		if err != nil {
			log.Printf("export frame %d: %v", f.Number, err)
			continue
		}
		if old, ok := exported[slot]; ok {
			old.Close()
		}
		exported[slot] = seg
		d := &zerocopy.Descriptor{
			FrameNumber:       f.Number,
			Timestamp:         f.Timestamp,
			CameraID:          f.CameraID,
			Width:             f.Width,
			Height:            f.Height,
			Format:            f.Format,
			BrightnessAvg:     f.Brightness.Avg,
			CorrectionApplied: f.Brightness.CorrectionApplied,
			Planes:            []zerocopy.Plane{{ShareID: slot, Size: uint64(len(f.Data))}},
		}
		pubCtx, cancel := context.WithTimeout(ctx, time.Second)
		err = ch.Publish(pubCtx, d)
		cancel()
		if errors.Is(err, zerocopy.ErrNotConsumed) {
			// The consumer broke the acknowledge contract; pushing more
			// frames would corrupt buffers it still holds.
			log.Printf("handoff consumer stopped acknowledging, closing channel")
			return
		}
		if err != nil && ctx.Err() == nil {
			log.Printf("handoff publish: %v", err)
		}
		slot = (slot + 1) % 2
	}
}
