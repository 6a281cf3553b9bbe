// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/absmach/memq/internal/bufpool"
)

// Frame size limits. A frame carries one encoded envelope.
const (
	// InitialBufferSize is the starting size of per-connection read buffers.
	InitialBufferSize = 16 * 1024

	// MaxFrameSize is the largest frame a peer will accept.
	MaxFrameSize = 1024 * 1024

	headerSize = 4
)

// ErrFrameTooLarge indicates a frame whose declared length exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteFrame writes a single length-prefixed frame. The length prefix and the
// payload are written in one Write call so concurrent writers that serialize
// on a mutex never interleave partial frames.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	buf := bufpool.Get()
	defer bufpool.Put(buf)
	buf.Write(header[:])
	buf.Write(payload)

	_, err := w.Write(buf.Bytes())
	return err
}

// ReadFrame reads the next length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
