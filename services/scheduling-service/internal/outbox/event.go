package outbox

import (
	"encoding/json"
	"fmt"
)

// Event types published by the scheduling service. The Kafka topic equals the event type.
const (
	TypeBookingBooked    = "booking.appointment.booked.v1"
	TypeBookingCancelled = "booking.appointment.cancelled.v1"
	TypeWaitlistNotified = "waitlist.entry.notified.v1"
)

// Event is the domain event envelope written to the outbox table in the same
// transaction as the state change it describes.
type Event struct {
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

func NewEvent(tenantID, aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{
		TenantID:      tenantID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
