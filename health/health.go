package health

import (
	"errors"
	"fmt"
	"time"

	"strzcam.com/camshm/camctl"
	"strzcam.com/camshm/detection"
	"strzcam.com/camshm/frame"
	"strzcam.com/camshm/shm"
)

// State is the pipeline verdict a probe produces.
type State int

const (
	StateOK State = iota
	StateStale
	StateCritical
)

func (s State) String() string {
	switch s {
	case StateOK:
		return "OK"
	case StateStale:
		return "STALE"
	case StateCritical:
		return "CRITICAL"
	}
	return "?"
}

// Report is one probe pass over the shared channels. Serializable so the
// monitor can push it to dashboards as-is.
type Report struct {
	State            string    `json:"state"`
	Reason           string    `json:"reason,omitempty"`
	FramesTotal      uint32    `json:"frames_total"`
	LastFrameNumber  uint64    `json:"last_frame_number"`
	LastFrameAgeMS   int64     `json:"last_frame_age_ms"`
	FrameIntervalMS  int64     `json:"frame_interval_ms"`
	ActiveCamera     int32     `json:"active_camera"`
	BrightnessAvg    float32   `json:"brightness_avg"`
	BrightnessZone   string    `json:"brightness_zone"`
	DetectionVersion uint32    `json:"detection_version"`
	HasDetections    bool      `json:"has_detections"`
	CheckedAt        time.Time `json:"checked_at"`

	state State
	age   time.Duration
}

// Verdict returns the typed state behind the JSON string.
func (r *Report) Verdict() State {
	return r.state
}

// Config names the channels to probe and the staleness thresholds.
// Zero thresholds fall back to defaults derived from 30fps pacing.
type Config struct {
	FramesName     string
	DetectionsName string
	ControlName    string
	BrightnessName string
	RingSlots      int
	StaleAfter     time.Duration
	CriticalAfter  time.Duration
}

// Probe checks pipeline liveness from the consumer side. It holds no
// mappings between checks, so a probe can outlive any number of producer
// restarts.
type Probe struct {
	cfg Config
}

// NewProbe builds a probe over the given channel set.
func NewProbe(cfg Config) *Probe {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 500 * time.Millisecond
	}
	if cfg.CriticalAfter <= 0 {
		cfg.CriticalAfter = 5 * time.Second
	}
	return &Probe{cfg: cfg}
}

// Check runs one probe pass. It never returns an error: a channel that
// cannot be read is the finding, reported as CRITICAL.
func (p *Probe) Check() *Report {
	now := time.Now()
	rep := &Report{CheckedAt: now, state: StateOK}

	ring, err := frame.OpenRing(p.cfg.FramesName, p.cfg.RingSlots)
	if err != nil {
		rep.state = StateCritical
		if errors.Is(err, shm.ErrNotAvailable) {
			rep.Reason = "frame ring not created"
		} else {
			rep.Reason = fmt.Sprintf("frame ring: %v", err)
		}
		rep.State = rep.state.String()
		return rep
	}
	defer ring.Close()

	rep.FramesTotal = ring.WriteIndex()
	rep.FrameIntervalMS = ring.FrameInterval().Milliseconds()
	if rep.FramesTotal == 0 {
		rep.state = StateStale
		rep.Reason = "no frames written yet"
	} else if f, ok, _ := ring.NewReader().ReadLatest(); ok {
		rep.LastFrameNumber = f.Number
		rep.age = now.Sub(f.Timestamp)
		rep.LastFrameAgeMS = rep.age.Milliseconds()
		rep.BrightnessAvg = f.Brightness.Avg
		rep.BrightnessZone = f.Brightness.Zone.String()
		switch {
		case rep.age > p.cfg.CriticalAfter:
			rep.state = StateCritical
			rep.Reason = fmt.Sprintf("last frame is %s old", rep.age.Round(time.Millisecond))
		case rep.age > p.cfg.StaleAfter:
			rep.state = StateStale
			rep.Reason = fmt.Sprintf("last frame is %s old", rep.age.Round(time.Millisecond))
		}
	}

	if p.cfg.ControlName != "" {
		if ctl, err := camctl.OpenControl(p.cfg.ControlName); err == nil {
			rep.ActiveCamera, _ = ctl.Active()
			ctl.Close()
		}
	}

	if p.cfg.BrightnessName != "" {
		// The day camera is the light meter, whichever camera is active.
		br := camctl.OpenBrightnessReader(p.cfg.BrightnessName)
		if s, ok, _ := br.Read(camctl.CameraDay); ok {
			rep.BrightnessAvg = s.Avg
			rep.BrightnessZone = s.Zone.String()
		}
		br.Close()
	}

	if p.cfg.DetectionsName != "" {
		dr := detection.OpenReader(p.cfg.DetectionsName)
		if v := dr.Version(); v > 0 {
			rep.DetectionVersion = v
			rep.HasDetections = true
		}
		dr.Close()
	}

	rep.State = rep.state.String()
	return rep
}
