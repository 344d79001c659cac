package main

import (
	"encoding/json"
	"os"

	"strzcam.com/camshm/config"
	"strzcam.com/camshm/health"
)

// shmhealth runs one probe pass and exits with 0 (OK), 1 (STALE) or
// 2 (CRITICAL), so it can sit directly in a container healthcheck.
func main() {
	cfg := config.Load()
	probe := health.NewProbe(health.Config{
		FramesName:     cfg.FramesName,
		DetectionsName: cfg.DetectionsName,
		ControlName:    cfg.ControlName,
		BrightnessName: cfg.BrightnessName,
		RingSlots:      cfg.RingSlots,
	})
	rep := probe.Check()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(rep)

	switch rep.Verdict() {
	case health.StateOK:
		os.Exit(0)
	case health.StateStale:
		os.Exit(1)
	default:
		os.Exit(2)
	}
}
