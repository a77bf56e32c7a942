// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hybridrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Frame kinds
const (
	KindRPCRequest  = "rpc:request"
	KindRPCResponse = "rpc:response"
	KindRPCFailure  = "rpc:failure"
)

// WSRequest is the frame written for every call
type WSRequest struct {
	Kind    string          `json:"kind"`
	ID      string          `json:"id"`
	Service string          `json:"service"`
	Method  string          `json:"method"`
	Data    json.RawMessage `json:"data,omitempty"`
	Headers Headers         `json:"headers,omitempty"`
}

// WSResponse is a response or failure frame, correlated by Ref
type WSResponse struct {
	Kind string          `json:"kind"`
	Ref  string          `json:"ref"`
	Data json.RawMessage `json:"data,omitempty"`
}

type wsResult struct {
	data []byte
	err  error
}

type pendingCall struct {
	service string
	method  string
	ch      chan wsResult
}

// WebSocketTransport keeps a persistent connection open in the background
// and multiplexes calls over it. It is ready only while connected.
type WebSocketTransport struct {
	endpoint string
	codec    Codec
	logger   *zap.Logger
	opts     *options
	state    *callState
	dialer   websocket.Dialer

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	ready   atomic.Bool
	pending sync.Map // request id -> *pendingCall

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	done   chan struct{}
}

var _ StreamTransport = (*WebSocketTransport)(nil)

// NewWebSocketTransport validates endpoint and starts connecting in the
// background. It never blocks on the network.
func NewWebSocketTransport(endpoint string, codec Codec, logger *zap.Logger, opts ...Option) (*WebSocketTransport, error) {
	return newWebSocketTransport(endpoint, codec, logger, newOptions(opts))
}

func newWebSocketTransport(endpoint string, codec Codec, logger *zap.Logger, o *options) (*WebSocketTransport, error) {
	uri, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if uri.Scheme != "ws" && uri.Scheme != "wss" {
		return nil, fmt.Errorf("%w: %q is not a ws(s) url", ErrInvalidEndpoint, endpoint)
	}
	if codec == nil {
		codec = defaultCodec
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &WebSocketTransport{
		endpoint: endpoint,
		codec:    codec,
		logger:   orNop(logger).With(LabelTransport.Z(TransportWebSocket), LabelEndpoint.Z(uri.Redacted())),
		opts:     o,
		state:    newCallState(),
		dialer: websocket.Dialer{
			HandshakeTimeout: o.handshakeTimeout,
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.run()
	return t, nil
}

func (t *WebSocketTransport) SetAuthorization(method AuthMethod) error {
	return t.state.setAuthorization(method)
}

func (t *WebSocketTransport) GetAuthorization() AuthMethod {
	return t.state.authorization()
}

func (t *WebSocketTransport) SetHeaders(headers Headers) error {
	return t.state.setHeaders(headers)
}

func (t *WebSocketTransport) GetHeaders() Headers {
	return t.state.getHeaders()
}

// IsReady reports whether a connection is currently established
func (t *WebSocketTransport) IsReady() bool {
	return t.ready.Load() && !t.closed.Load()
}

// Send writes a request frame and waits for the matching response
func (t *WebSocketTransport) Send(ctx context.Context, service, method string, data any) ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	payload, err := t.codec.Encode(data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	headers, auth := t.state.snapshot()
	req := WSRequest{
		Kind:    KindRPCRequest,
		ID:      uuid.NewString(),
		Service: service,
		Method:  method,
		Data:    payload,
		Headers: headers.withAuth(auth),
	}

	call := &pendingCall{service: service, method: method, ch: make(chan wsResult, 1)}
	t.pending.Store(req.ID, call)
	defer t.pending.Delete(req.ID)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.opts.writeTimeout)
	}
	t.writeMu.Lock()
	_ = conn.SetWriteDeadline(deadline)
	err = conn.WriteJSON(req)
	t.writeMu.Unlock()
	if err != nil {
		// A failed write leaves the connection unusable; drop it so callers
		// stop routing here and the read loop reconnects.
		t.abandon(conn)
		t.logger.Warn("websocket write failed", LabelService.Z(service), LabelMethod.Z(method), zap.Error(err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("websocket write: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-call.ch:
		return res.data, res.err
	case <-t.done:
		return nil, ErrClosed
	}
}

// Close stops reconnecting, closes the connection and fails pending calls
// with ErrClosed.
func (t *WebSocketTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.cancel()

	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	<-t.done
	return nil
}

func (t *WebSocketTransport) run() {
	defer close(t.done)

	delay := t.opts.reconnectMin
	for {
		conn, err := t.dial()
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			incr(MetricWSConnectErrCount)
			t.logger.Warn("websocket connect failed",
				zap.Duration("retry_in", delay),
				zap.Error(err))
			if !t.sleep(delay) {
				return
			}
			delay = min(delay*2, t.opts.reconnectMax)
			continue
		}
		delay = t.opts.reconnectMin

		if !t.attach(conn) {
			return
		}
		incr(MetricWSConnectCount)
		t.logger.Info("websocket connected")

		err = t.readLoop(conn)
		t.detach(conn)
		if t.ctx.Err() != nil {
			return
		}
		incr(MetricWSDisconnectCount)
		t.logger.Warn("websocket disconnected", zap.Error(err))
		if !t.sleep(delay) {
			return
		}
	}
}

func (t *WebSocketTransport) dial() (*websocket.Conn, error) {
	headers, auth := t.state.snapshot()
	ctx, cancel := context.WithTimeout(t.ctx, t.opts.handshakeTimeout)
	defer cancel()

	conn, resp, err := t.dialer.DialContext(ctx, t.endpoint, headers.HTTPHeader(auth))
	if resp != nil {
		CleanlyCloseBody(resp.Body)
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial websocket: %w (%w)", err, &StatusError{Code: resp.StatusCode})
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return conn, nil
}

func (t *WebSocketTransport) attach(conn *websocket.Conn) bool {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.ctx.Err() != nil {
		_ = conn.Close()
		return false
	}
	t.conn = conn
	t.ready.Store(true)
	return true
}

// abandon marks conn unusable and closes it. The read loop then fails and
// detach fails the calls still pending on it.
func (t *WebSocketTransport) abandon(conn *websocket.Conn) {
	t.connMu.Lock()
	if t.conn == conn {
		t.ready.Store(false)
	}
	t.connMu.Unlock()
	_ = conn.Close()
}

// detach drops conn and fails every call still waiting on it. No new call
// can be registered against conn once it is closed here, since its writes
// fail.
func (t *WebSocketTransport) detach(conn *websocket.Conn) {
	t.connMu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.ready.Store(false)
	t.connMu.Unlock()
	_ = conn.Close()

	cause := ErrConnectionLost
	if t.ctx.Err() != nil {
		cause = ErrClosed
	}
	t.pending.Range(func(key, _ any) bool {
		if v, ok := t.pending.LoadAndDelete(key); ok {
			incr(MetricWSPendingFailCount)
			v.(*pendingCall).ch <- wsResult{err: cause}
		}
		return true
	})
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) error {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg WSResponse
		if err := json.Unmarshal(message, &msg); err != nil {
			t.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		v, ok := t.pending.LoadAndDelete(msg.Ref)
		if !ok {
			t.logger.Debug("dropping unmatched frame",
				zap.String("kind", msg.Kind),
				zap.String("ref", msg.Ref))
			continue
		}

		call := v.(*pendingCall)
		switch msg.Kind {
		case KindRPCResponse:
			call.ch <- wsResult{data: msg.Data}
		case KindRPCFailure:
			call.ch <- wsResult{err: &RemoteError{
				Service: call.service,
				Method:  call.method,
				Message: failureMessage(msg.Data),
			}}
		default:
			call.ch <- wsResult{err: fmt.Errorf("websocket: unexpected frame kind %q", msg.Kind)}
		}
	}
}

func (t *WebSocketTransport) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// failureMessage accepts either a JSON string or any other JSON value.
func failureMessage(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}
