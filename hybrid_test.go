// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hybridrpc

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTransport struct {
	m mock.Mock
}

func (t *MockTransport) Send(ctx context.Context, service, method string, data any) ([]byte, error) {
	args := t.m.Called(ctx, service, method, data)
	resp, _ := args.Get(0).([]byte)
	return resp, args.Error(1)
}

func (t *MockTransport) SetAuthorization(method AuthMethod) error {
	return t.m.Called(method).Error(0)
}

func (t *MockTransport) GetAuthorization() AuthMethod {
	auth, _ := t.m.Called().Get(0).(AuthMethod)
	return auth
}

func (t *MockTransport) SetHeaders(headers Headers) error {
	return t.m.Called(headers).Error(0)
}

func (t *MockTransport) GetHeaders() Headers {
	headers, _ := t.m.Called().Get(0).(Headers)
	return headers
}

type MockStream struct {
	MockTransport
}

func (t *MockStream) IsReady() bool {
	return t.m.Called().Bool(0)
}

func newMockHybrid() (*HybridTransport, *MockTransport, *MockStream) {
	req := &MockTransport{}
	stream := &MockStream{}
	return NewHybridTransportFrom(req, stream), req, stream
}

type helloArgs struct {
	Name string `json:"name"`
}

func TestHybrid_InitialState(t *testing.T) {
	h, _, _ := newMockHybrid()

	require.Nil(t, h.GetAuthorization())
	require.NotNil(t, h.GetHeaders())
	require.Empty(t, h.GetHeaders())
}

func TestHybrid_SendOverRequestWhenStreamNotReady(t *testing.T) {
	h, req, stream := newMockHybrid()
	ctx := context.Background()
	args := helloArgs{Name: "X"}
	want := []byte(`{"greeting":"hello X"}`)

	stream.m.On("IsReady").Return(false)
	req.m.On("Send", ctx, "Greeter", "hello", args).Return(want, nil).Once()

	got, err := h.Send(ctx, "Greeter", "hello", args)
	require.NoError(t, err)
	require.Equal(t, want, got)

	req.m.AssertNumberOfCalls(t, "Send", 1)
	stream.m.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHybrid_SendOverStreamWhenReady(t *testing.T) {
	h, req, stream := newMockHybrid()
	ctx := context.Background()
	args := helloArgs{Name: "X"}
	want := []byte(`{"greeting":"hi from stream"}`)

	stream.m.On("IsReady").Return(true)
	stream.m.On("Send", ctx, "Greeter", "hello", args).Return(want, nil).Once()

	got, err := h.Send(ctx, "Greeter", "hello", args)
	require.NoError(t, err)
	require.Equal(t, want, got)

	stream.m.AssertNumberOfCalls(t, "Send", 1)
	req.m.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHybrid_ReevaluatesReadinessPerCall(t *testing.T) {
	h, req, stream := newMockHybrid()
	ctx := context.Background()

	stream.m.On("IsReady").Return(true).Once()
	stream.m.On("IsReady").Return(false).Once()
	stream.m.On("Send", ctx, "S", "m", nil).Return([]byte("1"), nil).Once()
	req.m.On("Send", ctx, "S", "m", nil).Return([]byte("2"), nil).Once()

	first, err := h.Send(ctx, "S", "m", nil)
	require.NoError(t, err)
	second, err := h.Send(ctx, "S", "m", nil)
	require.NoError(t, err)

	require.Equal(t, []byte("1"), first)
	require.Equal(t, []byte("2"), second)
	stream.m.AssertExpectations(t)
	req.m.AssertExpectations(t)
}

func TestHybrid_RequestErrorPassesThrough(t *testing.T) {
	h, req, stream := newMockHybrid()
	ctx := context.Background()
	netErr := &netError{err: syscall.ECONNREFUSED}

	stream.m.On("IsReady").Return(false)
	req.m.On("Send", ctx, "Greeter", "hello", mock.Anything).Return(nil, netErr).Once()

	got, err := h.Send(ctx, "Greeter", "hello", helloArgs{Name: "X"})
	require.Nil(t, got)
	require.Same(t, netErr, err, "error must be returned unmodified")
	stream.m.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	req.m.AssertNumberOfCalls(t, "Send", 1)
}

func TestHybrid_StreamErrorDoesNotFallBack(t *testing.T) {
	h, req, stream := newMockHybrid()
	ctx := context.Background()

	stream.m.On("IsReady").Return(true)
	stream.m.On("Send", ctx, "S", "m", nil).Return(nil, ErrConnectionLost).Once()

	_, err := h.Send(ctx, "S", "m", nil)
	require.ErrorIs(t, err, ErrConnectionLost)
	req.m.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHybrid_SetAuthorizationPropagates(t *testing.T) {
	h, req, stream := newMockHybrid()
	auth := TokenAuth{Token: "abc"}

	req.m.On("SetAuthorization", auth).Return(nil).Once()
	stream.m.On("SetAuthorization", auth).Return(nil).Once()

	require.NoError(t, h.SetAuthorization(auth))
	require.Equal(t, auth, h.GetAuthorization())

	req.m.AssertCalled(t, "SetAuthorization", auth)
	stream.m.AssertCalled(t, "SetAuthorization", auth)
}

func TestHybrid_SetHeadersPropagates(t *testing.T) {
	h, req, stream := newMockHybrid()
	headers := Headers{"X-Client": "cli", "X-Trace": "t1"}

	req.m.On("SetHeaders", headers).Return(nil).Once()
	stream.m.On("SetHeaders", headers).Return(nil).Once()

	require.NoError(t, h.SetHeaders(headers))
	require.Equal(t, headers, h.GetHeaders())

	req.m.AssertCalled(t, "SetHeaders", headers)
	stream.m.AssertCalled(t, "SetHeaders", headers)

	// Replacement is wholesale, not a merge.
	next := Headers{"X-Other": "1"}
	req.m.On("SetHeaders", next).Return(nil).Once()
	stream.m.On("SetHeaders", next).Return(nil).Once()
	require.NoError(t, h.SetHeaders(next))
	require.Equal(t, next, h.GetHeaders())
}

func TestHybrid_SetNilHeaders(t *testing.T) {
	h, req, stream := newMockHybrid()
	req.m.On("SetHeaders", Headers{}).Return(nil).Once()
	stream.m.On("SetHeaders", Headers{}).Return(nil).Once()

	require.NoError(t, h.SetHeaders(nil))
	got := h.GetHeaders()
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestHybrid_GetHeadersReturnsCopy(t *testing.T) {
	h, req, stream := newMockHybrid()
	headers := Headers{"X-A": "1"}
	req.m.On("SetHeaders", mock.Anything).Return(nil)
	stream.m.On("SetHeaders", mock.Anything).Return(nil)
	require.NoError(t, h.SetHeaders(headers))

	headers["X-A"] = "mutated"
	got := h.GetHeaders()
	got["X-B"] = "2"

	require.Equal(t, Headers{"X-A": "1"}, h.GetHeaders())
}

func TestHybrid_PropagationFailureIsReported(t *testing.T) {
	h, req, stream := newMockHybrid()
	auth := TokenAuth{Token: "abc"}
	rejected := errors.New("rejected")

	req.m.On("SetAuthorization", auth).Return(rejected).Once()

	require.Same(t, rejected, h.SetAuthorization(auth))
	// Local intent is recorded before propagation.
	require.Equal(t, auth, h.GetAuthorization())
	stream.m.AssertNotCalled(t, "SetAuthorization", mock.Anything)
}

func TestHybrid_StreamPropagationFailureIsReported(t *testing.T) {
	h, req, stream := newMockHybrid()
	headers := Headers{"X-A": "1"}
	rejected := errors.New("stream rejected")

	req.m.On("SetHeaders", headers).Return(nil).Once()
	stream.m.On("SetHeaders", headers).Return(rejected).Once()

	require.Same(t, rejected, h.SetHeaders(headers))
	require.Equal(t, headers, h.GetHeaders())
	req.m.AssertCalled(t, "SetHeaders", headers)
}

func TestHybrid_ClearAuthorization(t *testing.T) {
	h, req, stream := newMockHybrid()
	req.m.On("SetAuthorization", mock.Anything).Return(nil)
	stream.m.On("SetAuthorization", mock.Anything).Return(nil)

	require.NoError(t, h.SetAuthorization(BasicAuth{User: "u", Password: "p"}))
	require.NoError(t, h.SetAuthorization(nil))
	require.Nil(t, h.GetAuthorization())
}

func TestNewHybridTransport(t *testing.T) {
	h, err := NewHybridTransport("http://127.0.0.1:1/rpc", "ws://127.0.0.1:1/ws", nil, nil,
		WithReconnectDelay(time.Hour, time.Hour))
	require.NoError(t, err)
	defer h.Stream().(*WebSocketTransport).Close()

	require.IsType(t, &HTTPTransport{}, h.Request())
	require.IsType(t, &WebSocketTransport{}, h.Stream())
	require.False(t, h.Stream().IsReady())

	auth := APIKeyAuth{Key: "k"}
	require.NoError(t, h.SetAuthorization(auth))
	require.Equal(t, auth, h.Request().GetAuthorization())
	require.Equal(t, auth, h.Stream().GetAuthorization())

	headers := Headers{"X-Client": "test"}
	require.NoError(t, h.SetHeaders(headers))
	require.Equal(t, headers, h.Request().GetHeaders())
	require.Equal(t, headers, h.Stream().GetHeaders())
}

func TestNewHybridTransport_ConstructionFailure(t *testing.T) {
	_, err := NewHybridTransport("not a url\x7f", "ws://127.0.0.1:1/ws", nil, nil)
	require.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = NewHybridTransport("http://127.0.0.1:1/rpc", "http://127.0.0.1:1/ws", nil, nil)
	require.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = NewHybridTransport("http://127.0.0.1:1/rpc", "ws://127.0.0.1:1/ws", nil, nil,
		WithRequestTransport("carrier-pigeon"))
	require.ErrorIs(t, err, ErrUnknownTransport)
}

func TestNewHybridTransport_ValidationFailureKeepsChannelsInSync(t *testing.T) {
	h, err := NewHybridTransport("http://127.0.0.1:1/rpc", "ws://127.0.0.1:1/ws", nil, nil,
		WithReconnectDelay(time.Hour, time.Hour))
	require.NoError(t, err)
	defer h.Stream().(*WebSocketTransport).Close()

	err = h.SetAuthorization(TokenAuth{})
	require.ErrorIs(t, err, ErrInvalidAuth)
	require.Nil(t, h.Request().GetAuthorization())
	require.Nil(t, h.Stream().GetAuthorization())

	err = h.SetHeaders(Headers{"bad header": "v"})
	require.ErrorIs(t, err, ErrInvalidHeader)
	require.Empty(t, h.Request().GetHeaders())
	require.Empty(t, h.Stream().GetHeaders())
}

type netError struct {
	err error
}

func (e *netError) Error() string { return "dial tcp: " + e.err.Error() }
func (e *netError) Unwrap() error { return e.err }

func TestHybridTransport_EndToEnd(t *testing.T) {
	httpSrv := newGreeterServer(t)
	wsEndpoint, _ := newWSServer(t, echoReply)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := NewHybridTransport(httpSrv.URL, wsEndpoint, JSONCodec{}, nil,
		WithReconnectDelay(10*time.Millisecond, 50*time.Millisecond))
	require.NoError(t, err)
	defer h.Stream().(*WebSocketTransport).Close()

	require.NoError(t, h.SetAuthorization(TokenAuth{Token: "abc"}))
	require.NoError(t, h.SetHeaders(Headers{"X-Client": "e2e"}))

	require.Eventually(t, h.Stream().IsReady, 5*time.Second, 10*time.Millisecond)
	var overStream echoPayload
	require.NoError(t, Call(ctx, h, JSONCodec{}, "Greeter", "Hello", &HelloArgs{Name: "X"}, &overStream))
	require.Equal(t, "Greeter", overStream.Service)
	require.Equal(t, "Bearer abc", overStream.Auth)
	require.Equal(t, "e2e", overStream.Client)

	// With the stream gone every call lands on HTTP.
	require.NoError(t, h.Stream().(*WebSocketTransport).Close())
	var overHTTP HelloReply
	require.NoError(t, Call(ctx, h, JSONCodec{}, "Greeter", "Hello", &HelloArgs{Name: "X"}, &overHTTP))
	require.Equal(t, HelloReply{Greeting: "hello X", Auth: "Bearer abc", Client: "e2e"}, overHTTP)
}
