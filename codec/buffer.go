package codec

import (
	"errors"
	"fmt"
)

var ErrBufferFull = errors.New("write exceeds buffer capacity")

type (
	// Buffer is an append-only byte buffer with a hard capacity. Writes that do not fit fail whole and leave the
	// buffer unchanged.
	Buffer struct {
		b        []byte
		capacity int
	}
)

func NewBuffer(capacity int) *Buffer {
	return &Buffer{b: make([]byte, 0, capacity), capacity: capacity}
}

func (b *Buffer) Write(p []byte) (int, error) {
	if len(b.b)+len(p) > b.capacity {
		return 0, fmt.Errorf("%w: %d + %d > %d", ErrBufferFull, len(b.b), len(p), b.capacity)
	}
	b.b = append(b.b, p...)
	return len(p), nil
}

func (b *Buffer) WriteString(s string) (int, error) {
	if len(b.b)+len(s) > b.capacity {
		return 0, fmt.Errorf("%w: %d + %d > %d", ErrBufferFull, len(b.b), len(s), b.capacity)
	}
	b.b = append(b.b, s...)
	return len(s), nil
}

func (b *Buffer) WriteByte(c byte) error {
	_, err := b.Write([]byte{c})
	return err
}

// Pad appends n zero bytes.
func (b *Buffer) Pad(n int) error {
	if n <= 0 {
		return nil
	}
	if len(b.b)+n > b.capacity {
		return fmt.Errorf("%w: pad %d", ErrBufferFull, n)
	}
	b.b = append(b.b, make([]byte, n)...)
	return nil
}

// Truncate drops everything after the first n bytes, used to roll back a partially written row.
func (b *Buffer) Truncate(n int) {
	if n < len(b.b) {
		b.b = b.b[:n]
	}
}

func (b *Buffer) Bytes() []byte {
	return b.b
}

func (b *Buffer) String() string {
	return string(b.b)
}

func (b *Buffer) Len() int {
	return len(b.b)
}

func (b *Buffer) Cap() int {
	return b.capacity
}

func (b *Buffer) Remaining() int {
	return b.capacity - len(b.b)
}

func (b *Buffer) Reset() {
	b.b = b.b[:0]
}
