package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"strzcam.com/camshm/config"
	"strzcam.com/camshm/detection"
	"strzcam.com/camshm/frame"
	"strzcam.com/camshm/shm"
	"strzcam.com/camshm/zerocopy"
)

func main() {
	handoff := flag.Bool("handoff", false, "consume frames from the zero-copy channel instead of the ring")
	flag.Parse()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	det, err := detection.Create(cfg.DetectionsName)
	if err != nil {
		log.Fatalf("detection channel: %v", err)
	}
	defer func() {
		det.Unlink()
		det.Close()
	}()

	if *handoff {
		runHandoffConsumer(ctx, cfg, det)
		return
	}
	runRingConsumer(ctx, cfg, det)
}

func runRingConsumer(ctx context.Context, cfg config.Config, det *detection.Channel) {
	log.Printf("Waiting for %s", cfg.FramesName)
	if err := shm.WaitForSegment(ctx, cfg.FramesName); err != nil {
		return
	}
	var ring *frame.Ring
	for ring == nil {
		var err error
		ring, err = frame.OpenRing(cfg.FramesName, cfg.RingSlots)
		if err != nil {
			if !errors.Is(err, shm.ErrNotAvailable) {
				log.Fatalf("frame ring: %v", err)
			}
			// Created but not sized yet; attach on the next tick.
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
	defer ring.Close()

	log.Print("Detector running")
	rd := ring.NewReader()
	for {
		if err := rd.Wait(ctx); err != nil {
			return
		}
		f, ok, err := rd.ReadLatest()
		if err != nil || !ok {
			continue
		}
		if err := det.Write(infer(f.Number, f.Timestamp, f.Brightness.Avg)); err != nil {
			log.Printf("detection write: %v", err)
		}
	}
}

func runHandoffConsumer(ctx context.Context, cfg config.Config, det *detection.Channel) {
	log.Printf("Waiting for %s", cfg.HandoffName)
	if err := shm.WaitForSegment(ctx, cfg.HandoffName); err != nil {
		return
	}
	rd, err := zerocopy.Open(cfg.HandoffName)
	if err != nil {
		log.Fatalf("handoff channel: %v", err)
	}
	defer rd.Close()

	bp := zerocopy.NewSegmentProvider(cfg.BufferPrefix)
	log.Print("Detector running on zero-copy handoff")
	for {
		ok, err := zerocopy.Consume(rd, bp, func(d *zerocopy.Descriptor, planes [][]byte) error {
			return det.Write(infer(d.FrameNumber, d.Timestamp, d.BrightnessAvg))
		})
		if err != nil {
			log.Printf("consume: %v", err)
		}
		if !ok {
			if err := rd.Wait(ctx); err != nil {
				return
			}
		}
	}
}

// infer fakes an inference pass: real deployments run the model out of
// process and only the result format matters here. Darkness produces no
// detections, daylight produces one stable person box.
func infer(num uint64, ts time.Time, brightness float32) *detection.Result {
	res := &detection.Result{FrameNumber: num, Timestamp: ts}
	if brightness >= 50 {
		res.Detections = append(res.Detections, detection.Detection{
			Class:      "person",
			Confidence: 0.87,
			Box:        detection.BoundingBox{X: 40, Y: 60, Width: 120, Height: 260},
		})
	}
	return res
}
