// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hybridrpc

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Transport types
const (
	TransportHTTP      = "http"      // JSON-RPC over HTTP, default
	TransportGRPC      = "grpc"      // Google RPC, requires build tag
	TransportWebSocket = "websocket" // persistent stream side of the hybrid
)

// DefaultTransport is the default request transport type (HTTP)
const DefaultTransport = TransportHTTP

type requestFunc func(endpoint string, codec Codec, logger *zap.Logger, o *options) (ClientTransport, error)

var (
	transportsMu sync.RWMutex
	transports   = map[string]requestFunc{
		TransportHTTP: newHTTPRequestTransport,
	}
)

// registerTransport registers a new request transport (used by build tags)
func registerTransport(name string, fn requestFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[name] = fn
}

func lookupTransport(name string) (requestFunc, error) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	fn, ok := transports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, name)
	}
	return fn, nil
}

// AvailableTransports returns list of available request transport types
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	return result
}

// HasTransport checks if a request transport is available
func HasTransport(name string) bool {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	_, ok := transports[name]
	return ok
}

// callState holds the credentials and headers a concrete transport attaches
// to each call. Setters validate before storing so a rejected value leaves
// the previous one in place.
type callState struct {
	mu        sync.RWMutex
	auth      AuthMethod
	authValue string
	headers   Headers
}

func newCallState() *callState {
	return &callState{headers: Headers{}}
}

func (s *callState) setAuthorization(method AuthMethod) error {
	value, err := authHeaderValue(method)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.auth = method
	s.authValue = value
	s.mu.Unlock()
	return nil
}

func (s *callState) authorization() AuthMethod {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.auth
}

func (s *callState) setHeaders(headers Headers) error {
	if err := headers.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.headers = headers.Clone()
	s.mu.Unlock()
	return nil
}

func (s *callState) getHeaders() Headers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headers.Clone()
}

// snapshot returns the headers and rendered Authorization for one call.
func (s *callState) snapshot() (Headers, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headers.Clone(), s.authValue
}

func orNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
