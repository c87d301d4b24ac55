package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// HTTPAttributes returns standard span attributes for an HTTP request.
func HTTPAttributes(method, path, url string, statusCode int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.String("http.url", url),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", statusCode))
	}
	return attrs
}

// LeaseAttributes returns span attributes for a lease operation.
func LeaseAttributes(bldgID, resourceID, robotID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("lease.bldg_id", bldgID),
		attribute.String("lease.resource_id", resourceID),
		attribute.String("lease.robot_id", robotID),
	}
}
