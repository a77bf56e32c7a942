// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hybridrpc

import (
	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

var (
	// MetricSendCount counts calls by the transport that carried them.
	MetricSendCount          = []string{"hybridrpc", "send", "count"}
	MetricSendErrorCount     = []string{"hybridrpc", "send", "error", "count"}
	MetricHTTPRetryCount     = []string{"hybridrpc", "http", "retry", "count"}
	MetricWSConnectCount     = []string{"hybridrpc", "ws", "connect", "count"}
	MetricWSConnectErrCount  = []string{"hybridrpc", "ws", "connect", "error", "count"}
	MetricWSDisconnectCount  = []string{"hybridrpc", "ws", "disconnect", "count"}
	MetricWSPendingFailCount = []string{"hybridrpc", "ws", "pending", "failed", "count"}
)

type TelemetryLabel string

var (
	LabelTransport TelemetryLabel = "transport"
	LabelService   TelemetryLabel = "service"
	LabelMethod    TelemetryLabel = "method"
	LabelEndpoint  TelemetryLabel = "endpoint"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) Z(val string) zap.Field {
	return zap.String(string(lab), val)
}

func incr(key []string, labels ...metrics.Label) {
	metrics.IncrCounterWithLabels(key, 1, labels)
}
