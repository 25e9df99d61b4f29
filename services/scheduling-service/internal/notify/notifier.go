// Package notify delivers best-effort text messages to clients.
package notify

import "context"

// Sender delivers one message to one destination and returns the provider's delivery id.
type Sender interface {
	Send(ctx context.Context, message, destination string) (string, error)
	ProviderID() string
}

type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "noop"
}

func (s *NoopSender) Send(_ context.Context, _ string, _ string) (string, error) {
	return "", nil
}
