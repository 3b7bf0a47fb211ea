package anomaly

import "math"

// History is a fixed-capacity FIFO of motion scores. Pushing onto a full
// history evicts the oldest sample. It is owned by a single detector and
// is not safe for concurrent use.
type History struct {
	data     []float64
	capacity int
	size     int
	head     int // next write position
	tail     int // oldest element
}

// NewHistory creates a history holding at most capacity samples.
// A capacity below 1 is raised to 1.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		data:     make([]float64, capacity),
		capacity: capacity,
	}
}

// Push appends v, evicting the oldest sample when full.
func (h *History) Push(v float64) {
	h.data[h.head] = v
	h.head = (h.head + 1) % h.capacity

	if h.size < h.capacity {
		h.size++
	} else {
		h.tail = (h.tail + 1) % h.capacity
	}
}

// Len returns the number of samples held.
func (h *History) Len() int { return h.size }

// Cap returns the capacity.
func (h *History) Cap() int { return h.capacity }

// Values returns the samples oldest first.
func (h *History) Values() []float64 {
	if h.size == 0 {
		return nil
	}
	out := make([]float64, h.size)
	cur := h.tail
	for i := 0; i < h.size; i++ {
		out[i] = h.data[cur]
		cur = (cur + 1) % h.capacity
	}
	return out
}

// Latest returns the most recent sample and false when empty.
func (h *History) Latest() (float64, bool) {
	if h.size == 0 {
		return 0, false
	}
	return h.data[(h.head-1+h.capacity)%h.capacity], true
}

// MeanStd returns the population mean and standard deviation of the held samples.
func (h *History) MeanStd() (mean, std float64) {
	if h.size == 0 {
		return 0, 0
	}
	cur := h.tail
	var sum float64
	for i := 0; i < h.size; i++ {
		sum += h.data[cur]
		cur = (cur + 1) % h.capacity
	}
	mean = sum / float64(h.size)

	cur = h.tail
	var sq float64
	for i := 0; i < h.size; i++ {
		d := h.data[cur] - mean
		sq += d * d
		cur = (cur + 1) % h.capacity
	}
	return mean, math.Sqrt(sq / float64(h.size))
}

// Clear empties the history.
func (h *History) Clear() {
	h.size = 0
	h.head = 0
	h.tail = 0
}
