package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Service struct {
	ID           string
	TenantID     string
	Name         string
	BaseDuration time.Duration
	BasePrice    decimal.Decimal
	Active       bool
}

// Assignment links a professional to a service they perform.
// Nil Price or Duration falls back to the service's base value.
type Assignment struct {
	ProfessionalID string
	ServiceID      string
	Price          *decimal.Decimal
	Duration       *time.Duration
}

// EffectiveDuration is the only place the duration fallback is decided.
func EffectiveDuration(svc Service, a *Assignment) time.Duration {
	if a != nil && a.Duration != nil && *a.Duration > 0 {
		return *a.Duration
	}
	return svc.BaseDuration
}

// EffectivePrice is the only place the price fallback is decided.
func EffectivePrice(svc Service, a *Assignment) decimal.Decimal {
	if a != nil && a.Price != nil {
		return *a.Price
	}
	return svc.BasePrice
}
