// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hybridrpc

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"
)

// HybridTransport routes each call to the stream transport when it is
// ready and to the request transport otherwise. Authorization and headers
// are kept on the hybrid and pushed to both transports on every change.
//
// The hybrid does not own the lifecycle of the transports it holds; close
// them through Request and Stream.
type HybridTransport struct {
	request ClientTransport
	stream  StreamTransport

	mu      sync.RWMutex
	auth    AuthMethod
	headers Headers
}

var _ ClientTransport = (*HybridTransport)(nil)

// NewHybridTransport builds a request transport for requestEndpoint (HTTP
// unless WithRequestTransport says otherwise) and a WebSocket transport for
// streamEndpoint, both using codec and logger.
func NewHybridTransport(requestEndpoint, streamEndpoint string, codec Codec, logger *zap.Logger, opts ...Option) (*HybridTransport, error) {
	o := newOptions(opts)

	newRequest, err := lookupTransport(o.requestTransport)
	if err != nil {
		return nil, err
	}
	request, err := newRequest(requestEndpoint, codec, logger, o)
	if err != nil {
		return nil, err
	}
	stream, err := newWebSocketTransport(streamEndpoint, codec, logger, o)
	if err != nil {
		if c, ok := request.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	return NewHybridTransportFrom(request, stream), nil
}

// NewHybridTransportFrom composes two already constructed transports.
func NewHybridTransportFrom(request ClientTransport, stream StreamTransport) *HybridTransport {
	return &HybridTransport{
		request: request,
		stream:  stream,
		headers: Headers{},
	}
}

// Request returns the request/response transport
func (h *HybridTransport) Request() ClientTransport { return h.request }

// Stream returns the persistent transport
func (h *HybridTransport) Stream() StreamTransport { return h.stream }

func (h *HybridTransport) GetAuthorization() AuthMethod {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.auth
}

// SetAuthorization records method, then pushes it to the request transport
// and then the stream transport. The first error is returned as is; the
// local value is already updated at that point and the stream transport is
// not attempted.
func (h *HybridTransport) SetAuthorization(method AuthMethod) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.auth = method
	if err := h.request.SetAuthorization(method); err != nil {
		return err
	}
	return h.stream.SetAuthorization(method)
}

func (h *HybridTransport) GetHeaders() Headers {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.headers.Clone()
}

// SetHeaders replaces the header set, with the same ordering and failure
// behavior as SetAuthorization. A nil set is stored as an empty one, so
// GetHeaders never returns nil.
func (h *HybridTransport) SetHeaders(headers Headers) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.headers = headers.Clone()
	if err := h.request.SetHeaders(h.headers.Clone()); err != nil {
		return err
	}
	return h.stream.SetHeaders(h.headers.Clone())
}

// Send dispatches to the transport selected for this call and returns its
// result untouched. Readiness may change right after the check; the chosen
// transport is responsible for the call from then on.
func (h *HybridTransport) Send(ctx context.Context, service, method string, data any) ([]byte, error) {
	t, kind := h.selectTransport()
	incr(MetricSendCount, LabelTransport.M(kind))

	resp, err := t.Send(ctx, service, method, data)
	if err != nil {
		incr(MetricSendErrorCount, LabelTransport.M(kind))
	}
	return resp, err
}

func (h *HybridTransport) selectTransport() (ClientTransport, string) {
	if h.stream.IsReady() {
		return h.stream, "stream"
	}
	return h.request, "request"
}
