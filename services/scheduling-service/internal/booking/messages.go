package booking

import (
	"fmt"
	"time"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/model"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/notify"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/waitlist"
)

const (
	dateLayout = "02/01/2006"
	timeLayout = "15:04"
)

func confirmationMessage(c model.Client, p model.Professional, start time.Time) string {
	return fmt.Sprintf("Hi %s, your appointment with %s is confirmed for %s at %s.",
		c.Name, p.Name, start.Format(dateLayout), start.Format(timeLayout))
}

func cancellationMessage(c model.Client, p model.Professional, start time.Time) string {
	return fmt.Sprintf("Hi %s, your appointment with %s on %s at %s was cancelled.",
		c.Name, p.Name, start.Format(dateLayout), start.Format(timeLayout))
}

func notifyMessage(tenantID, topic, relatedID, phone, body string) notify.Message {
	return notify.Message{
		TenantID:  tenantID,
		Topic:     topic,
		RelatedID: relatedID,
		Phone:     phone,
		Body:      body,
	}
}

func waitlistFreed(b model.Booking) waitlist.Freed {
	return waitlist.Freed{
		TenantID:       b.TenantID,
		ProfessionalID: b.ProfessionalID,
		ServiceID:      b.ServiceID,
		Start:          b.Start,
	}
}
