package pipeline

import "sync"

// Buffer is an unbounded FIFO of payloads of a single type. Appends may come
// from any goroutine; a buffer is drained by one goroutine at a time.
type Buffer struct {
	mu    sync.Mutex
	items []Payload
}

// NewBuffer creates an empty buffer
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds a payload to the tail of the buffer.
func (b *Buffer) Append(p Payload) {
	b.mu.Lock()
	b.items = append(b.items, p)
	b.mu.Unlock()
}

// DrainUpTo removes and returns at most n payloads from the head of the
// buffer. It returns fewer than n only when the buffer runs empty and never
// waits for new items.
func (b *Buffer) DrainUpTo(n int) []Payload {
	if n <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return nil
	}
	if n > len(b.items) {
		n = len(b.items)
	}

	chunk := make([]Payload, n)
	copy(chunk, b.items[:n])

	// Release references held by the backing array.
	for i := range b.items[:n] {
		b.items[i] = nil
	}
	b.items = b.items[n:]
	if len(b.items) == 0 {
		b.items = nil
	}
	return chunk
}

// Discard empties the buffer and returns how many payloads were dropped.
func (b *Buffer) Discard() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.items)
	b.items = nil
	return n
}

// Len returns the number of buffered payloads.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
