package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"strzcam.com/camshm/config"
	"strzcam.com/camshm/health"
	"strzcam.com/camshm/monitor"
)

func main() {
	interval := flag.Duration("interval", time.Second, "probe and broadcast cadence")
	flag.Parse()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	probe := health.NewProbe(health.Config{
		FramesName:     cfg.FramesName,
		DetectionsName: cfg.DetectionsName,
		ControlName:    cfg.ControlName,
		BrightnessName: cfg.BrightnessName,
		RingSlots:      cfg.RingSlots,
	})
	srv := monitor.NewServer(cfg.MonitorPort, probe, *interval)
	if err := srv.Run(ctx, cfg.FramesName, cfg.RingSlots); err != nil {
		log.Fatalf("monitor: %v", err)
	}
}
