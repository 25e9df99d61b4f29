package storage

import (
	"context"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/notify"
)

// RecordDelivery appends one row per dispatched message.
func (s *Store) RecordDelivery(ctx context.Context, d notify.Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (tenant_id, topic, related_id, provider, destination, delivery_id, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.TenantID, d.Topic, d.RelatedID, d.Provider, d.Destination, d.DeliveryID, string(d.Status), d.Error, d.At.UTC())
	return err
}
