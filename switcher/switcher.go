package switcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"strzcam.com/camshm/camctl"
	"strzcam.com/camshm/frame"
)

// Config tunes the day/night switch hysteresis. The thresholds are split
// (40 to go dark, 70 to come back) so brightness hovering around a single
// value cannot make the controller oscillate.
type Config struct {
	DayToNightThreshold float32
	NightToDayThreshold float32
	DayToNightHold      time.Duration
	NightToDayHold      time.Duration
	ProbeInterval       time.Duration
	FrameInterval       time.Duration
	WarmupFrames        int
	HistorySize         int
}

// DefaultConfig returns the tuning used in production.
func DefaultConfig() Config {
	return Config{
		DayToNightThreshold: 40,
		NightToDayThreshold: 70,
		DayToNightHold:      10 * time.Second,
		NightToDayHold:      10 * time.Second,
		ProbeInterval:       2 * time.Second,
		FrameInterval:       33 * time.Millisecond,
		WarmupFrames:        3,
		HistorySize:         60,
	}
}

// Camera captures frames from one physical sensor.
type Camera interface {
	ID() int32
	Capture(ctx context.Context) (*frame.Frame, error)
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	ActiveCamera int32
	Manual       bool
	RollingAvg   float32
	WarmupLeft   int
	LastSwitch   time.Time
	Switches     uint64
}

// Controller owns the active camera decision. It runs the capture loop for
// the active camera, probes the inactive one, and flips the control
// channel when the day camera's rolling brightness crosses a threshold for
// long enough. Only frames from the active camera ever reach the ring.
type Controller struct {
	cfg     Config
	ring    *frame.Ring
	bright  *camctl.BrightnessChannel
	control *camctl.Control
	day     Camera
	night   Camera
	now     func() time.Time

	mu         sync.Mutex
	active     int32
	manual     bool
	history    *History
	belowSince time.Time
	aboveSince time.Time
	warmupLeft int
	lastSwitch time.Time
	switches   uint64
	frameNum   uint64
}

// New builds a controller. The control segment decides the starting
// camera, so a restarted controller resumes where the previous one left
// the pipeline.
func New(cfg Config, ring *frame.Ring, bright *camctl.BrightnessChannel, control *camctl.Control, day, night Camera) (*Controller, error) {
	if day.ID() != camctl.CameraDay || night.ID() != camctl.CameraNight {
		return nil, fmt.Errorf("cameras wired backwards: day=%d night=%d", day.ID(), night.ID())
	}
	def := DefaultConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	active, _ := control.Active()
	return &Controller{
		cfg:     cfg,
		ring:    ring,
		bright:  bright,
		control: control,
		day:     day,
		night:   night,
		now:     time.Now,
		active:  active,
		history: NewHistory(cfg.HistorySize),
	}, nil
}

// Run drives the capture and probe loops until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.ring.SetFrameInterval(c.cfg.FrameInterval)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.captureLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.probeLoop(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

func (c *Controller) captureLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.captureOne(ctx)
	}
}

func (c *Controller) captureOne(ctx context.Context) {
	cam := c.activeCamera()
	f, err := cam.Capture(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[switcher] camera %d capture failed: %v", cam.ID(), err)
		}
		return
	}
	now := c.now()

	c.mu.Lock()
	c.frameNum++
	f.Number = c.frameNum
	c.mu.Unlock()
	f.Timestamp = now
	f.CameraID = cam.ID()
	c.annotate(f)

	if err := c.bright.Publish(cam.ID(), &camctl.Sample{
		FrameNumber: f.Number,
		Timestamp:   now,
		Brightness:  f.Brightness,
	}); err != nil {
		log.Printf("[switcher] brightness publish failed: %v", err)
	}

	if cam.ID() == camctl.CameraDay {
		c.observeDay(f.Brightness.Avg, now)
	}

	// The frames right after a switch are garbage while the sensor
	// settles exposure, so they are measured but never published.
	c.mu.Lock()
	skip := c.warmupLeft > 0
	if skip {
		c.warmupLeft--
	}
	c.mu.Unlock()
	if skip {
		return
	}
	if err := c.ring.Write(f); err != nil {
		log.Printf("[switcher] ring write failed: %v", err)
	}
}

func (c *Controller) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.probeOne(ctx)
	}
}

// probeOne samples the day camera while the night camera is active. The
// probe frame never reaches the ring; its brightness goes into the day
// camera's sample slot and the switch state machine.
func (c *Controller) probeOne(ctx context.Context) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active != camctl.CameraNight {
		return
	}
	f, err := c.day.Capture(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[switcher] day probe failed: %v", err)
		}
		return
	}
	now := c.now()
	c.mu.Lock()
	c.frameNum++
	num := c.frameNum
	c.mu.Unlock()
	c.annotate(f)
	if err := c.bright.Publish(camctl.CameraDay, &camctl.Sample{
		FrameNumber: num,
		Timestamp:   now,
		Brightness:  f.Brightness,
	}); err != nil {
		log.Printf("[switcher] brightness publish failed: %v", err)
	}
	c.observeDay(f.Brightness.Avg, now)
}

// annotate fills the brightness block from the payload when the producer
// has not measured it already.
func (c *Controller) annotate(f *frame.Frame) {
	if f.Brightness.Avg == 0 {
		f.Brightness.Avg = frame.MeanLuma(f)
	}
	f.Brightness.Zone = frame.ZoneFor(f.Brightness.Avg)
	if f.Brightness.Zone == frame.ZoneDark {
		f.Brightness.CorrectionApplied = true
	}
}

// observeDay feeds one day-camera brightness measurement into the
// hysteresis state machine. Both switch directions key on the day camera:
// the night sensor's IR-lit output says nothing about ambient light.
func (c *Controller) observeDay(avg float32, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history.Add(avg)
	if c.manual {
		return
	}
	rolling := c.history.Average()

	switch c.active {
	case camctl.CameraDay:
		c.aboveSince = time.Time{}
		if rolling >= c.cfg.DayToNightThreshold {
			c.belowSince = time.Time{}
			return
		}
		if c.belowSince.IsZero() {
			c.belowSince = now
			return
		}
		if now.Sub(c.belowSince) >= c.cfg.DayToNightHold {
			c.switchTo(camctl.CameraNight, now, rolling)
		}
	case camctl.CameraNight:
		c.belowSince = time.Time{}
		if rolling <= c.cfg.NightToDayThreshold {
			c.aboveSince = time.Time{}
			return
		}
		if c.aboveSince.IsZero() {
			c.aboveSince = now
			return
		}
		if now.Sub(c.aboveSince) >= c.cfg.NightToDayHold {
			c.switchTo(camctl.CameraDay, now, rolling)
		}
	}
}

// switchTo flips the active camera. The control channel is written before
// the capture loop can publish the new camera's frames, so every consumer
// that sees such a frame can already read the new selection. Caller holds
// the mutex.
func (c *Controller) switchTo(id int32, now time.Time, rolling float32) {
	if err := c.control.SetActive(id); err != nil {
		log.Printf("[switcher] control update failed: %v", err)
		return
	}
	log.Printf("[switcher] camera %d -> %d (rolling avg %.1f)", c.active, id, rolling)
	c.active = id
	c.warmupLeft = c.cfg.WarmupFrames
	c.belowSince = time.Time{}
	c.aboveSince = time.Time{}
	c.lastSwitch = now
	c.switches++
}

func (c *Controller) activeCamera() Camera {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == camctl.CameraNight {
		return c.night
	}
	return c.day
}

// ForceCamera pins the active camera and suspends automatic switching.
func (c *Controller) ForceCamera(id int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.control.SetActive(id); err != nil {
		return err
	}
	if c.active != id {
		c.active = id
		c.warmupLeft = c.cfg.WarmupFrames
		c.lastSwitch = c.now()
		c.switches++
	}
	c.manual = true
	c.belowSince = time.Time{}
	c.aboveSince = time.Time{}
	return nil
}

// ResumeAuto re-enables automatic switching from the current camera.
func (c *Controller) ResumeAuto() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manual = false
	c.belowSince = time.Time{}
	c.aboveSince = time.Time{}
}

// Status returns a snapshot for diagnostics.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		ActiveCamera: c.active,
		Manual:       c.manual,
		RollingAvg:   c.history.Average(),
		WarmupLeft:   c.warmupLeft,
		LastSwitch:   c.lastSwitch,
		Switches:     c.switches,
	}
}
