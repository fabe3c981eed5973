package ws

// RingBuffer is a fixed-size circular buffer for storing recent entries
// It provides O(1) append and efficient memory usage
type RingBuffer[T any] struct {
	data []T
	head int // next write position
	size int // current number of elements
	cap  int // maximum capacity
}

// NewRingBuffer creates a new ring buffer with the given capacity
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		data: make([]T, capacity),
		cap:  capacity,
	}
}

// Add appends an entry to the buffer, overwriting oldest if full
func (rb *RingBuffer[T]) Add(v T) {
	rb.data[rb.head] = v
	rb.head = (rb.head + 1) % rb.cap

	if rb.size < rb.cap {
		rb.size++
	}
}

// GetAll returns all entries in chronological order (oldest first)
func (rb *RingBuffer[T]) GetAll() []T {
	if rb.size == 0 {
		return nil
	}

	result := make([]T, rb.size)

	if rb.size < rb.cap {
		// Buffer not full yet, elements are at indices 0..size-1
		copy(result, rb.data[:rb.size])
	} else {
		// Buffer is full, head points to oldest element
		copy(result, rb.data[rb.head:])
		copy(result[rb.cap-rb.head:], rb.data[:rb.head])
	}

	return result
}

// Len returns the current number of elements
func (rb *RingBuffer[T]) Len() int {
	return rb.size
}

// Clear removes all elements from the buffer
func (rb *RingBuffer[T]) Clear() {
	var zero T
	rb.head = 0
	rb.size = 0
	for i := range rb.data {
		rb.data[i] = zero
	}
}
