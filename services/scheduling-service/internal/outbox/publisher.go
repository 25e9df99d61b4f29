package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/chairbook/chairbook/libs/db"
	"github.com/chairbook/chairbook/libs/kafkax"
	otelx "github.com/chairbook/chairbook/libs/otel"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
	// MaxBackoff caps the pause after consecutive failed batches.
	MaxBackoff time.Duration
}

// Publisher relays committed outbox rows to Kafka, marking each batch published
// only after the broker acknowledged it.
type Publisher struct {
	pool    *db.Pool
	repo    *Repository
	logger  *slog.Logger
	brokers []string
	cfg     PublisherConfig
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxBackoff < cfg.PollEvery {
		cfg.MaxBackoff = max(30*time.Second, cfg.PollEvery)
	}
	return &Publisher{
		pool:    pool,
		repo:    repo,
		logger:  logger,
		brokers: kafkax.SplitBrokers(cfg.Brokers),
		cfg:     cfg,
	}
}

// Run polls until ctx is cancelled. It returns at once when Kafka or Postgres is not configured.
func (p *Publisher) Run(ctx context.Context) {
	switch {
	case len(p.brokers) == 0:
		p.logger.Warn("outbox publisher disabled", "reason", "no kafka brokers")
		return
	case p.pool == nil:
		p.logger.Warn("outbox publisher disabled", "reason", "no database")
		return
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	wait := p.cfg.PollEvery
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		n, err := p.publishBatch(ctx, writer)
		switch {
		case err != nil:
			wait = nextBackoff(wait, p.cfg.MaxBackoff)
			p.logger.Error("outbox publish failed", "err", err, "retry_in", wait)
		case n == p.cfg.BatchSize:
			// Full batch: more rows are likely waiting.
			wait = 0
		default:
			wait = p.cfg.PollEvery
			if n > 0 {
				p.logger.Debug("outbox batch published", "count", n)
			}
		}
		timer.Reset(wait)
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next <= 0 {
		next = time.Second
	}
	return min(next, limit)
}

func (p *Publisher) publishBatch(ctx context.Context, writer MessageWriter) (int, error) {
	var published int
	err := p.pool.InTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		records, err := p.repo.FetchUnpublished(ctx, tx, p.cfg.BatchSize)
		if err != nil || len(records) == 0 {
			return err
		}
		msgs := make([]kafka.Message, len(records))
		ids := make([]int64, len(records))
		for i, r := range records {
			msgs[i] = Message(ctx, r)
			ids[i] = r.ID
		}
		if err := writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		published = len(records)
		return p.repo.MarkPublished(ctx, tx, ids)
	})
	if err != nil {
		return 0, err
	}
	return published, nil
}

// Message maps a record to its Kafka message: topic is the event type, key the aggregate id.
// The trace active when the record was written is continued in the message headers.
func Message(ctx context.Context, r Record) kafka.Message {
	headers := []kafka.Header{
		{Key: kafkax.HeaderEventID, Value: []byte(r.EventID)},
		{Key: kafkax.HeaderEventType, Value: []byte(r.EventType)},
		{Key: kafkax.HeaderTenantID, Value: []byte(r.TenantID)},
	}
	traced := otelx.TraceContext{Traceparent: r.Traceparent, Tracestate: r.Tracestate}.Resume(ctx)
	return kafka.Message{
		Topic:   r.EventType,
		Key:     []byte(r.AggregateID),
		Value:   r.Payload,
		Headers: kafkax.InjectTraceHeaders(traced, headers),
	}
}
