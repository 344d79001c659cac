package frame

// MeanLuma computes the average luminance of a frame's payload on a 0-255
// scale. NV12 averages the Y plane directly; RGB uses the Rec.601 weights.
// Compressed formats carry their brightness in the annotations instead,
// so for those (and empty payloads) the annotated average is returned.
func MeanLuma(f *Frame) float32 {
	switch f.Format {
	case FormatNV12:
		n := int(f.Width) * int(f.Height)
		if n == 0 || n > len(f.Data) {
			return f.Brightness.Avg
		}
		var sum uint64
		for _, y := range f.Data[:n] {
			sum += uint64(y)
		}
		return float32(sum) / float32(n)
	case FormatRGB:
		n := len(f.Data) / 3 * 3
		if n == 0 {
			return f.Brightness.Avg
		}
		var sum float64
		for i := 0; i < n; i += 3 {
			sum += 0.299*float64(f.Data[i]) + 0.587*float64(f.Data[i+1]) + 0.114*float64(f.Data[i+2])
		}
		return float32(sum / float64(n/3))
	default:
		return f.Brightness.Avg
	}
}
