package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/clock"
)

type Message struct {
	TenantID string
	// Topic names what the message is about, e.g. "booking.confirmed".
	Topic     string
	RelatedID string
	Phone     string
	Body      string
}

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// Delivery is the outcome of one dispatched message.
type Delivery struct {
	TenantID    string
	Topic       string
	RelatedID   string
	Provider    string
	Destination string
	DeliveryID  string
	Status      DeliveryStatus
	Error       string
	At          time.Time
}

// Recorder persists delivery outcomes. Optional.
type Recorder interface {
	RecordDelivery(ctx context.Context, d Delivery) error
}

type DispatcherConfig struct {
	CountryCode string
	Channel     Channel
	Timeout     time.Duration
	// Clock stamps delivery records. Defaults to the system clock.
	Clock       clock.Clock
}

// Dispatcher sends messages after the triggering transaction has committed.
// Sends run in their own goroutine, detached from the caller's cancellation,
// and never report failure back to the caller.
type Dispatcher struct {
	sender   Sender
	recorder Recorder
	logger   *slog.Logger
	cfg      DispatcherConfig
	wg       sync.WaitGroup
}

func NewDispatcher(sender Sender, recorder Recorder, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if sender == nil {
		sender = NewNoopSender()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Channel == "" {
		cfg.Channel = ChannelWhatsApp
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	return &Dispatcher{sender: sender, recorder: recorder, logger: logger, cfg: cfg}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
		defer cancel()
		d.deliver(sendCtx, msg)
	}()
}

// Wait blocks until every dispatched message has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	out := Delivery{
		TenantID:  msg.TenantID,
		Topic:     msg.Topic,
		RelatedID: msg.RelatedID,
		Provider:  d.sender.ProviderID(),
		Status:    DeliverySent,
	}

	dest, err := Destination(msg.Phone, d.cfg.CountryCode, d.cfg.Channel)
	if err == nil {
		out.Destination = dest
		out.DeliveryID, err = d.sender.Send(ctx, msg.Body, dest)
	}
	out.At = d.cfg.Clock.Now().UTC()
	if err != nil {
		out.Status = DeliveryFailed
		out.Error = err.Error()
		d.logger.Warn("notification failed",
			"tenant_id", msg.TenantID,
			"topic", msg.Topic,
			"related_id", msg.RelatedID,
			"provider", out.Provider,
			"err", err,
		)
	} else {
		d.logger.Info("notification sent",
			"tenant_id", msg.TenantID,
			"topic", msg.Topic,
			"related_id", msg.RelatedID,
			"provider", out.Provider,
			"delivery_id", out.DeliveryID,
		)
	}

	if d.recorder != nil {
		if err := d.recorder.RecordDelivery(ctx, out); err != nil {
			d.logger.Warn("record notification failed", "related_id", msg.RelatedID, "err", err)
		}
	}
}
