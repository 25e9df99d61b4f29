package model

import "time"

// WaitlistEntry is a client's request to be told when a slot frees up.
// Entries are deactivated, never deleted.
type WaitlistEntry struct {
	ID                      string
	TenantID                string
	ClientID                string
	ServiceID               string // empty means any service
	PreferredProfessionalID string // empty means any professional
	DesiredDate             time.Time
	DesiredTime             string // "HH:MM" or empty
	FlexibleDate            bool
	FlexibleTime            bool
	Priority                int
	RequestedAt             time.Time
	Notified                bool
	NotifiedAt              *time.Time
	Active                  bool
	Notes                   string
}
