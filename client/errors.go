// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "errors"

// Client errors.
var (
	// ErrNoServers indicates no broker address was configured.
	ErrNoServers = errors.New("no broker addresses configured")

	// ErrClientClosed indicates the client was permanently closed.
	ErrClientClosed = errors.New("client closed")

	// ErrAlreadyConnected indicates a redundant Connect call.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotConnected indicates an operation that needs an established
	// connection.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectFailed indicates every configured address was tried and
	// refused.
	ErrConnectFailed = errors.New("connect failed")

	// ErrConnectionLost indicates the connection dropped while an operation
	// was in flight.
	ErrConnectionLost = errors.New("connection lost")
)
