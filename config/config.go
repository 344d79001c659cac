package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"strzcam.com/camshm/switcher"
)

// Default channel names. Every process in the pipeline must agree on
// these, so overriding one means overriding it for all of them.
const (
	DefaultFramesName     = "/camshm_frames"
	DefaultDetectionsName = "/camshm_detections"
	DefaultBrightnessName = "/camshm_brightness"
	DefaultControlName    = "/camshm_control"
	DefaultHandoffName    = "/camshm_yolo_zerocopy"
	DefaultBufferPrefix   = "/camshm_buf_"

	DefaultRingSlots   = 30
	DefaultMonitorPort = 8088
)

// Config is the shared process configuration, loaded from the
// environment with an optional .env file.
type Config struct {
	FramesName     string
	DetectionsName string
	BrightnessName string
	ControlName    string
	HandoffName    string
	BufferPrefix   string
	RingSlots      int
	MonitorPort    uint16
	Switch         switcher.Config
}

// Load reads the configuration. Missing variables keep their defaults, so
// a bare environment gives a working single-host pipeline.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Print("No .env file, using process environment")
	}
	sw := switcher.DefaultConfig()
	sw.DayToNightThreshold = envFloat("CAMSHM_DAY_TO_NIGHT_THRESHOLD", sw.DayToNightThreshold)
	sw.NightToDayThreshold = envFloat("CAMSHM_NIGHT_TO_DAY_THRESHOLD", sw.NightToDayThreshold)
	sw.DayToNightHold = envDuration("CAMSHM_DAY_TO_NIGHT_HOLD", sw.DayToNightHold)
	sw.NightToDayHold = envDuration("CAMSHM_NIGHT_TO_DAY_HOLD", sw.NightToDayHold)
	sw.ProbeInterval = envDuration("CAMSHM_PROBE_INTERVAL", sw.ProbeInterval)
	sw.FrameInterval = envDuration("CAMSHM_FRAME_INTERVAL", sw.FrameInterval)
	sw.WarmupFrames = envInt("CAMSHM_WARMUP_FRAMES", sw.WarmupFrames)
	sw.HistorySize = envInt("CAMSHM_HISTORY_SIZE", sw.HistorySize)

	return Config{
		FramesName:     envStr("CAMSHM_FRAMES", DefaultFramesName),
		DetectionsName: envStr("CAMSHM_DETECTIONS", DefaultDetectionsName),
		BrightnessName: envStr("CAMSHM_BRIGHTNESS", DefaultBrightnessName),
		ControlName:    envStr("CAMSHM_CONTROL", DefaultControlName),
		HandoffName:    envStr("CAMSHM_HANDOFF", DefaultHandoffName),
		BufferPrefix:   envStr("CAMSHM_BUFFER_PREFIX", DefaultBufferPrefix),
		RingSlots:      envInt("CAMSHM_RING_SLOTS", DefaultRingSlots),
		MonitorPort:    uint16(envInt("CAMSHM_MONITOR_PORT", DefaultMonitorPort)),
		Switch:         sw,
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func envFloat(key string, fallback float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		log.Printf("Invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return float32(f)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
