// Package pool provides reusable byte buffers for artifact encoding.
package pool

import (
	"bytes"
	"sync"
)

// maxRetained caps the capacity of buffers returned to the pool so one
// oversized artifact does not pin memory.
const maxRetained = 32 << 20

var buffers = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// GetBuffer returns an empty buffer.
func GetBuffer() *bytes.Buffer {
	buf := buffers.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns buf to the pool. buf must not be used afterwards.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxRetained {
		return
	}
	buffers.Put(buf)
}
