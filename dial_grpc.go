//go:build grpc

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hybridrpc

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

func init() {
	// Register gRPC transport when build tag is enabled
	registerTransport(TransportGRPC, newGRPCRequestTransport)
}

// rawCodec moves encoded payloads through gRPC untouched
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	}
	return nil, fmt.Errorf("grpc raw codec: cannot marshal %T", v)
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("grpc raw codec: cannot unmarshal into %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "hybridrpc-raw" }

// GRPCTransport invokes "/service/method" with codec-encoded bytes.
// Headers and authorization travel as outgoing metadata.
type GRPCTransport struct {
	conn   *grpc.ClientConn
	codec  Codec
	logger *zap.Logger
	state  *callState
}

var _ ClientTransport = (*GRPCTransport)(nil)

// NewGRPCTransport creates a gRPC request transport for target
func NewGRPCTransport(target string, codec Codec, logger *zap.Logger, opts ...Option) (*GRPCTransport, error) {
	return newGRPCTransport(target, codec, logger, newOptions(opts))
}

func newGRPCTransport(target string, codec Codec, logger *zap.Logger, _ *options) (*GRPCTransport, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	if codec == nil {
		codec = defaultCodec
	}
	return &GRPCTransport{
		conn:   conn,
		codec:  codec,
		logger: orNop(logger).With(LabelTransport.Z(TransportGRPC), LabelEndpoint.Z(target)),
		state:  newCallState(),
	}, nil
}

func newGRPCRequestTransport(target string, codec Codec, logger *zap.Logger, o *options) (ClientTransport, error) {
	return newGRPCTransport(target, codec, logger, o)
}

func (c *GRPCTransport) SetAuthorization(method AuthMethod) error {
	return c.state.setAuthorization(method)
}

func (c *GRPCTransport) GetAuthorization() AuthMethod {
	return c.state.authorization()
}

func (c *GRPCTransport) SetHeaders(headers Headers) error {
	return c.state.setHeaders(headers)
}

func (c *GRPCTransport) GetHeaders() Headers {
	return c.state.getHeaders()
}

func (c *GRPCTransport) Send(ctx context.Context, service, method string, data any) ([]byte, error) {
	payload, err := c.codec.Encode(data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}

	headers, auth := c.state.snapshot()
	md := metadata.MD{}
	for name, value := range headers.withAuth(auth) {
		md.Set(strings.ToLower(name), value)
	}
	ctx = metadata.NewOutgoingContext(ctx, md)

	var resp []byte
	if err := c.conn.Invoke(ctx, "/"+service+"/"+method, payload, &resp); err != nil {
		c.logger.Debug("grpc invoke failed",
			LabelService.Z(service),
			LabelMethod.Z(method),
			zap.Error(err))
		return nil, err
	}
	return resp, nil
}

func (c *GRPCTransport) Close() error {
	return c.conn.Close()
}
