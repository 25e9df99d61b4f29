package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
)

func (r reader) Client(ctx context.Context, tenantID, clientID string) (model.Client, error) {
	var c model.Client
	err := r.q.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, name, email, phone
		FROM clients
		WHERE id = $1 AND tenant_id = $2
	`, clientID, tenantID).Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone)
	if err != nil {
		return model.Client{}, translate(err)
	}
	return c, nil
}

// ClientByEmail finds the tenant's client by email, case-insensitively.
func (r reader) ClientByEmail(ctx context.Context, tenantID, email string) (model.Client, error) {
	var c model.Client
	err := r.q.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, name, email, phone
		FROM clients
		WHERE tenant_id = $1 AND email = $2
	`, tenantID, strings.ToLower(strings.TrimSpace(email))).Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone)
	if err != nil {
		return model.Client{}, translate(err)
	}
	return c, nil
}

// UpsertClientByEmail reuses the tenant's client with the same email. On a match the
// name is always replaced and the phone only when c.Phone is not empty.
func (s *Store) UpsertClientByEmail(ctx context.Context, c model.Client) (model.Client, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if c.TenantID == "" || email == "" {
		return model.Client{}, errors.New("tenant and email are required")
	}
	var out model.Client
	err := s.pool.QueryRow(ctx, `
		INSERT INTO clients (tenant_id, name, email, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, email) DO UPDATE
		SET name = EXCLUDED.name,
			phone = CASE WHEN EXCLUDED.phone <> '' THEN EXCLUDED.phone ELSE clients.phone END
		RETURNING id::text, tenant_id::text, name, email, phone
	`, c.TenantID, c.Name, email, c.Phone).Scan(&out.ID, &out.TenantID, &out.Name, &out.Email, &out.Phone)
	if err != nil {
		return model.Client{}, translate(err)
	}
	return out, nil
}
