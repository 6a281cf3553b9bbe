// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "sync/atomic"

// State represents the client connection state.
type State uint32

// Client states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateMachine handles atomic state transitions.
type stateMachine struct {
	state atomic.Uint32
}

func (sm *stateMachine) get() State {
	return State(sm.state.Load())
}

func (sm *stateMachine) set(s State) {
	sm.state.Store(uint32(s))
}

// transition attempts the from→to transition and reports success.
func (sm *stateMachine) transition(from, to State) bool {
	return sm.state.CompareAndSwap(uint32(from), uint32(to))
}

// transitionFrom attempts to reach to from any of the given states.
func (sm *stateMachine) transitionFrom(to State, from ...State) bool {
	for _, f := range from {
		if sm.transition(f, to) {
			return true
		}
	}
	return false
}

func (sm *stateMachine) isConnected() bool {
	return sm.get() == StateConnected
}

func (sm *stateMachine) isClosed() bool {
	return sm.get() == StateClosed
}
