// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hybridrpc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAuth      = errors.New("hybridrpc: invalid authorization")
	ErrInvalidHeader    = errors.New("hybridrpc: invalid header")
	ErrInvalidEndpoint  = errors.New("hybridrpc: invalid endpoint")
	ErrUnknownTransport = errors.New("hybridrpc: unknown transport")

	ErrNotConnected   = errors.New("websocket: not connected")
	ErrConnectionLost = errors.New("websocket: connection lost")
	ErrClosed         = errors.New("websocket: transport closed")
)

// StatusError is returned by the HTTP transport for non-2xx responses
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("received status code: %d", e.Code)
}

// RemoteError is a failure reported by the peer for a single call
type RemoteError struct {
	Service string
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Service, e.Method, e.Message)
}
