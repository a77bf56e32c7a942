// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hybridrpc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ClientTransport is the channel contract generated stubs are written
// against. All transports in this package implement it.
type ClientTransport interface {
	// Send issues service.method with data encoded by the transport's codec
	// and returns the raw encoded response.
	Send(ctx context.Context, service, method string, data any) ([]byte, error)

	// SetAuthorization replaces the credentials attached to subsequent calls.
	// A nil method clears them.
	SetAuthorization(method AuthMethod) error
	GetAuthorization() AuthMethod

	// SetHeaders replaces the custom headers attached to subsequent calls.
	SetHeaders(headers Headers) error
	GetHeaders() Headers
}

// StreamTransport is a ClientTransport backed by a persistent connection.
type StreamTransport interface {
	ClientTransport

	// IsReady reports whether the connection can carry a call right now.
	IsReady() bool
}

// Call sends args through t and decodes the response into reply.
func Call(ctx context.Context, t ClientTransport, codec Codec, service, method string, args, reply any) error {
	if codec == nil {
		codec = defaultCodec
	}
	resp, err := t.Send(ctx, service, method, args)
	if err != nil {
		return err
	}
	if reply != nil && len(resp) > 0 {
		if err := codec.Decode(resp, reply); err != nil {
			return fmt.Errorf("decode reply: %w", err)
		}
	}
	return nil
}

// Option configures transports
type Option func(*options)

type options struct {
	httpClient       *http.Client
	retries          int
	retryBaseWait    time.Duration
	queryParams      url.Values
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	reconnectMin     time.Duration
	reconnectMax     time.Duration
	requestTransport string
}

func newOptions(opts []Option) *options {
	o := &options{
		retries:          maxRetries,
		retryBaseWait:    retryBaseWait,
		queryParams:      url.Values{},
		handshakeTimeout: 10 * time.Second,
		writeTimeout:     10 * time.Second,
		reconnectMin:     500 * time.Millisecond,
		reconnectMax:     30 * time.Second,
		requestTransport: DefaultTransport,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithHTTPClient sets the client used by the HTTP transport
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRetries sets how many attempts the HTTP transport makes on transient
// connection errors, and the base of the exponential wait between them.
func WithRetries(attempts int, baseWait time.Duration) Option {
	return func(o *options) {
		if attempts < 1 {
			attempts = 1
		}
		o.retries = attempts
		o.retryBaseWait = baseWait
	}
}

// WithQueryParams adds query parameters to every HTTP request
func WithQueryParams(params url.Values) Option {
	return func(o *options) {
		for k, vs := range params {
			for _, v := range vs {
				o.queryParams.Add(k, v)
			}
		}
	}
}

// WithHandshakeTimeout bounds the WebSocket opening handshake
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithWriteTimeout bounds a WebSocket frame write when the call context
// carries no deadline
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithReconnectDelay sets the WebSocket reconnect backoff bounds
func WithReconnectDelay(minDelay, maxDelay time.Duration) Option {
	return func(o *options) {
		if minDelay <= 0 {
			minDelay = 500 * time.Millisecond
		}
		if maxDelay < minDelay {
			maxDelay = minDelay
		}
		o.reconnectMin = minDelay
		o.reconnectMax = maxDelay
	}
}

// WithRequestTransport selects the request/response transport kind used by
// NewHybridTransport ("http", or "grpc" with -tags grpc).
func WithRequestTransport(name string) Option {
	return func(o *options) { o.requestTransport = name }
}
