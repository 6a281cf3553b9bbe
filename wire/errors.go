// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wire

import "errors"

// Error taxonomy shared by both sides of the control plane.
var (
	// ErrNotFound indicates the referenced queue does not exist.
	ErrNotFound = errors.New("queue not found")
	// ErrAlreadyExists indicates a duplicate queue creation.
	ErrAlreadyExists = errors.New("queue already exists")
	// ErrInvalidConfig indicates a rejected queue configuration.
	ErrInvalidConfig = errors.New("invalid queue configuration")
)

// Reply codes carried on OpReply frames.
const (
	codeNotFound      = "not_found"
	codeAlreadyExists = "already_exists"
	codeInvalidConfig = "invalid_config"
	codeInternal      = "internal"
)

// Ack builds a success reply.
func Ack() OpReply {
	return OpReply{OK: true}
}

// Nack builds the reply for err, preserving the error's taxonomy class. A
// nil err yields a success reply.
func Nack(err error) OpReply {
	if err == nil {
		return Ack()
	}
	r := OpReply{Code: codeInternal, Error: err.Error()}
	switch {
	case errors.Is(err, ErrNotFound):
		r.Code = codeNotFound
	case errors.Is(err, ErrAlreadyExists):
		r.Code = codeAlreadyExists
	case errors.Is(err, ErrInvalidConfig):
		r.Code = codeInvalidConfig
	}
	return r
}

// Err converts a reply back to an error, reconstructing the sentinel so
// callers can use errors.Is across the wire.
func (r OpReply) Err() error {
	if r.OK {
		return nil
	}
	switch r.Code {
	case codeNotFound:
		return wrapped{sentinel: ErrNotFound, msg: r.Error}
	case codeAlreadyExists:
		return wrapped{sentinel: ErrAlreadyExists, msg: r.Error}
	case codeInvalidConfig:
		return wrapped{sentinel: ErrInvalidConfig, msg: r.Error}
	default:
		return errors.New(r.Error)
	}
}

type wrapped struct {
	sentinel error
	msg      string
}

func (w wrapped) Error() string {
	if w.msg == "" {
		return w.sentinel.Error()
	}
	return w.msg
}

func (w wrapped) Unwrap() error { return w.sentinel }
