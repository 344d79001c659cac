package switcher

// History holds a fixed number of brightness samples
type History struct {
	data     []float32
	size     int
	capacity int
	head     int
}

// NewHistory creates a new sample history with given capacity
func NewHistory(capacity int) *History {
	return &History{
		data:     make([]float32, capacity),
		capacity: capacity,
		head:     0,
		size:     0,
	}
}

// Add appends a new sample, replacing the oldest if at capacity
func (h *History) Add(v float32) {
	h.data[h.head] = v
	h.head = (h.head + 1) % h.capacity

	if h.size < h.capacity {
		h.size++
	}
}

// GetAll returns all current samples in insertion order (oldest first)
func (h *History) GetAll() []float32 {
	if h.size == 0 {
		return nil
	}

	result := make([]float32, h.size)

	if h.size < h.capacity {
		copy(result, h.data[:h.size])
	} else {
		// Buffer is full, oldest sample is at head position
		tail := h.head
		copy(result, h.data[tail:])
		copy(result[h.capacity-tail:], h.data[:tail])
	}

	return result
}

// Average returns the mean of the stored samples, 0 when empty
func (h *History) Average() float32 {
	if h.size == 0 {
		return 0
	}
	var sum float64
	if h.size < h.capacity {
		for _, v := range h.data[:h.size] {
			sum += float64(v)
		}
	} else {
		for _, v := range h.data {
			sum += float64(v)
		}
	}
	return float32(sum / float64(h.size))
}

// Size returns current number of samples
func (h *History) Size() int {
	return h.size
}

// IsFull reports whether the history reached capacity
func (h *History) IsFull() bool {
	return h.size == h.capacity
}

func (h *History) Clear() {
	h.size = 0
	h.head = 0
}
