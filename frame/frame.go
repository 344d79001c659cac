package frame

import "time"

// Format identifies the payload encoding of a frame.
type Format int32

const (
	FormatJPEG Format = 0
	FormatNV12 Format = 1
	FormatRGB  Format = 2
	FormatH264 Format = 3
)

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatNV12:
		return "nv12"
	case FormatRGB:
		return "rgb"
	case FormatH264:
		return "h264"
	}
	return "unknown"
}

// Zone classifies ambient brightness for low-light handling.
type Zone uint8

const (
	ZoneDark   Zone = 0 // avg < 50, needs correction
	ZoneDim    Zone = 1 // 50 <= avg < 70
	ZoneNormal Zone = 2 // 70 <= avg < 180
	ZoneBright Zone = 3 // avg >= 180
)

// ZoneFor maps an average Y-plane brightness (0-255) to its zone.
func ZoneFor(avg float32) Zone {
	switch {
	case avg < 50:
		return ZoneDark
	case avg < 70:
		return ZoneDim
	case avg < 180:
		return ZoneNormal
	default:
		return ZoneBright
	}
}

func (z Zone) String() string {
	switch z {
	case ZoneDark:
		return "DARK"
	case ZoneDim:
		return "DIM"
	case ZoneNormal:
		return "NORMAL"
	case ZoneBright:
		return "BRIGHT"
	}
	return "?"
}

// Brightness carries the per-frame illumination annotations written by the
// capture side.
type Brightness struct {
	Avg               float32
	Lux               uint32
	Zone              Zone
	CorrectionApplied bool
}

// Frame is one captured camera frame plus its metadata. Data holds the
// payload only, never the full slot capacity.
type Frame struct {
	Number     uint64
	Timestamp  time.Time
	CameraID   int32
	Width      int32
	Height     int32
	Format     Format
	Data       []byte
	Brightness Brightness
}
