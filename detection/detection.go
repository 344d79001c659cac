package detection

import (
	"time"
)

// MaxDetections is the fixed record capacity of the result slot. Inference
// output beyond this is dropped by the writer, highest-confidence first
// ordering is the producer's job.
const MaxDetections = 10

// classNameLen is the fixed byte width of a class name, NUL-padded.
const classNameLen = 32

// BoundingBox is a detection rectangle in frame pixel coordinates.
type BoundingBox struct {
	X      int32
	Y      int32
	Width  int32
	Height int32
}

// Detection is one detected object.
type Detection struct {
	Class      string
	Confidence float32
	Box        BoundingBox
}

// Result is one inference pass over one frame. Zero detections is a valid
// result and still advances the version, so consumers can distinguish
// "looked and found nothing" from "has not looked yet".
type Result struct {
	FrameNumber uint64
	Timestamp   time.Time
	Detections  []Detection
}
