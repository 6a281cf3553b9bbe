// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bufpool pools scratch buffers for frame assembly so the hot
// send path avoids an allocation per frame.
package bufpool

import (
	"bytes"
	"sync"
)

// Buffers that grew past this are dropped instead of pooled, so one
// oversized frame does not pin memory for the connection's lifetime.
const maxPooledCap = 64 * 1024

var pool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// Get returns an empty buffer from the pool.
func Get() *bytes.Buffer {
	b := pool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// Put returns a buffer to the pool.
func Put(b *bytes.Buffer) {
	if b.Cap() > maxPooledCap {
		return
	}
	pool.Put(b)
}
