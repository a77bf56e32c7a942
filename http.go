// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hybridrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	rpc "github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"
)

const (
	maxRetries    = 3
	retryBaseWait = 500 * time.Millisecond
)

// newHTTPClient creates a fresh HTTP client with disabled connection reuse.
// This avoids EOF errors that can occur with connection pooling in complex
// process hierarchies.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// CleanlyCloseBody drains and closes an HTTP response body to prevent
// HTTP/2 GOAWAY errors caused by closing bodies with unread data.
// See: https://github.com/golang/go/issues/46071
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// isRetryableError checks if an error is transient and worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	errStr := err.Error()
	// EOF errors are often transient connection issues
	if errors.Is(err, io.EOF) || strings.Contains(errStr, "EOF") {
		return true
	}
	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe") {
		return true
	}
	return false
}

// HTTPTransport sends each call as a JSON-RPC 2.0 POST. The wire method is
// "service.method".
type HTTPTransport struct {
	endpoint *url.URL
	codec    Codec
	logger   *zap.Logger
	client   *http.Client
	opts     *options
	state    *callState
}

var _ ClientTransport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a request/response transport bound to endpoint
func NewHTTPTransport(endpoint string, codec Codec, logger *zap.Logger, opts ...Option) (*HTTPTransport, error) {
	return newHTTPTransport(endpoint, codec, logger, newOptions(opts))
}

func newHTTPTransport(endpoint string, codec Codec, logger *zap.Logger, o *options) (*HTTPTransport, error) {
	uri, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if uri.Scheme != "http" && uri.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q is not an http(s) url", ErrInvalidEndpoint, endpoint)
	}
	if codec == nil {
		codec = defaultCodec
	}
	client := o.httpClient
	if client == nil {
		client = newHTTPClient()
	}
	return &HTTPTransport{
		endpoint: uri,
		codec:    codec,
		logger:   orNop(logger).With(LabelTransport.Z(TransportHTTP), LabelEndpoint.Z(uri.Redacted())),
		client:   client,
		opts:     o,
		state:    newCallState(),
	}, nil
}

func newHTTPRequestTransport(endpoint string, codec Codec, logger *zap.Logger, o *options) (ClientTransport, error) {
	return newHTTPTransport(endpoint, codec, logger, o)
}

func (t *HTTPTransport) SetAuthorization(method AuthMethod) error {
	return t.state.setAuthorization(method)
}

func (t *HTTPTransport) GetAuthorization() AuthMethod {
	return t.state.authorization()
}

func (t *HTTPTransport) SetHeaders(headers Headers) error {
	return t.state.setHeaders(headers)
}

func (t *HTTPTransport) GetHeaders() Headers {
	return t.state.getHeaders()
}

// Send encodes data with the transport codec and posts it
func (t *HTTPTransport) Send(ctx context.Context, service, method string, data any) ([]byte, error) {
	params, err := t.codec.Encode(data)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	requestBodyBytes, err := rpc.EncodeClientRequest(service+"."+method, json.RawMessage(params))
	if err != nil {
		return nil, fmt.Errorf("failed to encode client params: %w", err)
	}

	uri := *t.endpoint
	if len(t.opts.queryParams) > 0 {
		q := uri.Query()
		for k, vs := range t.opts.queryParams {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		uri.RawQuery = q.Encode()
	}

	headers, auth := t.state.snapshot()

	var lastErr error
	for attempt := 0; attempt < t.opts.retries; attempt++ {
		if attempt > 0 {
			waitTime := t.opts.retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(waitTime):
			}
			incr(MetricHTTPRetryCount, LabelService.M(service), LabelMethod.M(method))
		}

		// Create fresh request for each attempt (body buffer is consumed)
		request, err := http.NewRequestWithContext(
			ctx,
			http.MethodPost,
			uri.String(),
			bytes.NewBuffer(requestBodyBytes),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		request.Header = headers.HTTPHeader(auth)
		request.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(request)
		if err != nil {
			lastErr = err
			retryable := isRetryableError(err)
			t.logger.Debug("request attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Bool("retryable", retryable),
				LabelService.Z(service),
				LabelMethod.Z(method),
				zap.Error(err))
			if retryable {
				continue
			}
			return nil, fmt.Errorf("failed to issue request: %w", err)
		}
		if attempt > 0 {
			t.logger.Debug("request succeeded after retry", zap.Int("attempt", attempt+1))
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			CleanlyCloseBody(resp.Body)
			return nil, &StatusError{Code: resp.StatusCode}
		}

		var result json.RawMessage
		err = rpc.DecodeClientResponse(resp.Body, &result)
		CleanlyCloseBody(resp.Body)
		if errors.Is(err, rpc.ErrNullResult) {
			return nil, nil
		}
		if err != nil {
			var rpcErr *rpc.Error
			if errors.As(err, &rpcErr) {
				return nil, rpcErr
			}
			return nil, fmt.Errorf("failed to decode client response: %w", err)
		}
		return result, nil
	}

	return nil, fmt.Errorf("failed to issue request after %d retries: %w", t.opts.retries, lastErr)
}

// Close releases idle connections held by the HTTP client
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
