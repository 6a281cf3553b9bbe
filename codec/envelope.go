// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/klauspost/compress/s2"
)

// Kind discriminates the three frame shapes on the wire.
type Kind string

const (
	// KindNotify is a fire-and-forget notification; no reply is expected.
	KindNotify Kind = "notify"
	// KindQuery expects a KindReply frame carrying the same ID.
	KindQuery Kind = "query"
	// KindReply answers a KindQuery frame.
	KindReply Kind = "reply"
)

// CompressionThreshold is the body size above which envelopes are
// s2-compressed before framing.
const CompressionThreshold = 1024

// Envelope is the unit of exchange between peers. Body is the JSON encoding
// of the payload named by Type, optionally s2-compressed.
type Envelope struct {
	Kind       Kind      `json:"kind"`
	ID         uuid.UUID `json:"id,omitempty"`
	Type       string    `json:"type"`
	Body       []byte    `json:"body,omitempty"`
	Compressed bool      `json:"compressed,omitempty"`
	// Error carries a failure description on reply envelopes whose query
	// could not be answered with a payload.
	Error string `json:"error,omitempty"`
}

// EncodeEnvelope marshals an envelope for framing, compressing the body when
// it crosses CompressionThreshold.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	if len(env.Body) >= CompressionThreshold && !env.Compressed {
		env.Body = s2.Encode(nil, env.Body)
		env.Compressed = true
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope unmarshals a framed envelope and restores a compressed body.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	if env.Compressed {
		body, err := s2.Decode(nil, env.Body)
		if err != nil {
			return nil, fmt.Errorf("decompress envelope body: %w", err)
		}
		env.Body = body
		env.Compressed = false
	}
	return &env, nil
}
