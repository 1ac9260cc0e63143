package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var tracer = otel.Tracer("inventory-ledger/core")

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(attrs...)
	return ctx, span
}

// endSpan records err on the span and ends it. Use from a deferred closure
// over a named error result.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// EventType names a ledger event published after a transaction commits.
type EventType string

const (
	EventReservationStatusChanged   EventType = "reservation.status_changed"
	EventOrderStatusChanged         EventType = "order.status_changed"
	EventTransferStatusChanged      EventType = "transfer.status_changed"
	EventPurchaseOrderStatusChanged EventType = "purchase_order.status_changed"
	EventReturnLineStatusChanged    EventType = "return_line.status_changed"
)

// LedgerEvent is the payload handed to an EventPublisher.
type LedgerEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	EntityID   int       `json:"entity_id"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher delivers ledger events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, evt LedgerEvent) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, LedgerEvent) error { return nil }

// notifier bundles the publisher and logger every service carries.
type notifier struct {
	publisher EventPublisher
	logger    *zap.Logger
}

func newNotifier(publisher EventPublisher, logger *zap.Logger) notifier {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return notifier{publisher: publisher, logger: logger}
}

// emit publishes an event after commit. Delivery failures are logged only:
// the ledger state is already durable.
func (n notifier) emit(ctx context.Context, typ EventType, entityID int, status string) {
	evt := LedgerEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		EntityID:   entityID,
		Status:     status,
		OccurredAt: time.Now().UTC(),
	}
	if err := n.publisher.Publish(ctx, evt); err != nil {
		n.logger.Error("failed to publish ledger event",
			zap.Error(err),
			zap.String("event_type", string(typ)),
			zap.Int("entity_id", entityID),
		)
	}
}
