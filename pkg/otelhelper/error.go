package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks span as failed with err. attrs are attached to the
// recorded exception event.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// RouteAttributes identifies a route, and one of its nodes when nodeID is set.
func RouteAttributes(routeID, nodeID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(RouteIDKey, routeID)}
	if nodeID != "" {
		attrs = append(attrs, attribute.String(NodeIDKey, nodeID))
	}

	return attrs
}
