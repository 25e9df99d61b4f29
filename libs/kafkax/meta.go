package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// Header keys set on every published scheduling event.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
	HeaderTenantID  = "tenant_id"
)

// HeaderValue returns the first value stored under key, or "".
func HeaderValue(headers []kafka.Header, key string) string {
	for i := range headers {
		if headers[i].Key == key {
			return string(headers[i].Value)
		}
	}
	return ""
}

// SplitBrokers parses a comma separated broker list. Blank entries are skipped.
func SplitBrokers(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' })
	var brokers []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			brokers = append(brokers, f)
		}
	}
	return brokers
}
