// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Payload is any value that travels inside an envelope body. The type tag is
// carried on the wire so the receiving peer can pick the right decoder
// without compile-time knowledge of every payload the sender knows.
type Payload interface {
	TypeTag() string
}

// ErrUnknownType indicates a wire type tag with no registered decoder.
var ErrUnknownType = errors.New("unknown payload type")

type decodeFunc func([]byte) (Payload, error)

var (
	registryMu sync.RWMutex
	decoders   = make(map[string]decodeFunc)
)

// Register makes T decodable by its type tag. Payload types register
// themselves from package init; duplicate registrations panic because they
// indicate two types claiming one tag.
func Register[T Payload]() {
	var zero T
	tag := zero.TypeTag()

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, ok := decoders[tag]; ok {
		panic(fmt.Sprintf("codec: duplicate payload registration for %q", tag))
	}
	decoders[tag] = func(body []byte) (Payload, error) {
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag, err)
		}
		return v, nil
	}
}

// Decode reconstructs the payload named by tag from its JSON body.
func Decode(tag string, body []byte) (Payload, error) {
	registryMu.RLock()
	decode, ok := decoders[tag]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}
	return decode(body)
}

// Encode marshals a payload and returns its wire type tag alongside the body.
func Encode(p Payload) (string, []byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", p.TypeTag(), err)
	}
	return p.TypeTag(), body, nil
}
