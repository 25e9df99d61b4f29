package memstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/notify"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/outbox"
)

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func (s *Store) AddTenant(t model.Tenant) model.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = newID(t.ID)
	s.tenants[t.ID] = t
	return t
}

func (s *Store) AddProfessional(p model.Professional) model.Professional {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = newID(p.ID)
	s.professionals[p.ID] = p
	return p
}

func (s *Store) AddService(svc model.Service) model.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc.ID = newID(svc.ID)
	s.services[svc.ID] = svc
	return svc
}

func (s *Store) Assign(a model.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[assignmentKey{a.ProfessionalID, a.ServiceID}] = a
}

func (s *Store) AddOverride(o model.Override) (model.Override, error) {
	if err := o.Validate(); err != nil {
		return model.Override{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = newID(o.ID)
	s.overrides[o.ProfessionalID] = append(s.overrides[o.ProfessionalID], o)
	return o, nil
}

func (s *Store) AddClient(c model.Client) model.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = newID(c.ID)
	s.clients[c.ID] = c
	return c
}

// AddBooking inserts b directly, enforcing the same overlap rule as the transactor path.
func (s *Store) AddBooking(b model.Booking) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflictsLocked(b, nil) {
		return model.Booking{}, model.ErrOverlap
	}
	b.ID = newID(b.ID)
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.clock.Now().UTC()
	}
	s.bookings[b.ID] = b
	return b, nil
}

func (s *Store) Booking(id string) (model.Booking, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	return b, ok
}

func (s *Store) BookingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bookings)
}

func (s *Store) WaitlistEntry(id string) (model.WaitlistEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.waitlist[id]
	return e, ok
}

func (s *Store) Events() []outbox.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]outbox.Event(nil), s.events...)
}

func (s *Store) Deliveries() []notify.Delivery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]notify.Delivery(nil), s.deliveries...)
}

// Demo holds the identifiers created by SeedDemo.
type Demo struct {
	TenantID       string
	ProfessionalID string
	ServiceID      string
	ClientID       string
}

// SeedDemo creates one open barbershop with a barber, a haircut and a client so a
// database-less instance has something to book against.
func SeedDemo(s *Store, timezone string) Demo {
	tenant := s.AddTenant(model.Tenant{
		Name:     "Demo Barbershop",
		Active:   true,
		Timezone: timezone,
		Policy:   model.DefaultPolicy(),
	})
	pro := s.AddProfessional(model.Professional{TenantID: tenant.ID, Name: "Carlos", Active: true})
	svc := s.AddService(model.Service{
		TenantID:     tenant.ID,
		Name:         "Haircut",
		BaseDuration: 30 * time.Minute,
		BasePrice:    decimal.RequireFromString("45.00"),
		Active:       true,
	})
	s.Assign(model.Assignment{ProfessionalID: pro.ID, ServiceID: svc.ID})
	client := s.AddClient(model.Client{TenantID: tenant.ID, Name: "Demo Client", Email: "client@example.com", Phone: "11987654321"})
	return Demo{TenantID: tenant.ID, ProfessionalID: pro.ID, ServiceID: svc.ID, ClientID: client.ID}
}
