package shm

// VersionNewer reports whether a is a later version than b, treating the
// u32 counters as wrapping. Plain inequality would misfire once a counter
// rolls over; at 30fps that takes years of uptime, but the comparison is
// cheap enough to just be correct.
func VersionNewer(a, b uint32) bool {
	return int32(a-b) > 0
}
