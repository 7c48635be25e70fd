package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/pgkeeper/internal/domain"
)

const (
	tracerName = "github.com/neomorfeo/pgkeeper/internal/adapter/otel"
	meterName  = tracerName
)

// TracingTransactor wraps a domain.Transactor with a span per transaction
// and counters for transaction outcomes.
type TracingTransactor struct {
	next         domain.Transactor
	tracer       trace.Tracer
	transactions metric.Int64Counter
	conflicts    metric.Int64Counter
}

// Compile-time check: TracingTransactor implements domain.Transactor.
var _ domain.Transactor = (*TracingTransactor)(nil)

// NewTracingTransactor creates a tracing decorator around the given transactor.
func NewTracingTransactor(next domain.Transactor) (*TracingTransactor, error) {
	meter := otel.Meter(meterName)

	transactions, err := meter.Int64Counter("pgkeeper.store.transactions",
		metric.WithDescription("Store transactions by outcome."),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transactions counter: %w", err)
	}

	conflicts, err := meter.Int64Counter("pgkeeper.store.conflicts",
		metric.WithDescription("Store transactions aborted by a write conflict."),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating conflicts counter: %w", err)
	}

	return &TracingTransactor{
		next:         next,
		tracer:       otel.Tracer(tracerName),
		transactions: transactions,
		conflicts:    conflicts,
	}, nil
}

func (t *TracingTransactor) WithTx(ctx context.Context, fn func(domain.Store) error) error {
	ctx, span := t.tracer.Start(ctx, "Transactor.WithTx")
	defer span.End()

	err := t.next.WithTx(ctx, fn)

	result := outcome(err)
	span.SetAttributes(attribute.String("tx.outcome", result))
	t.transactions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", result)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if result == "conflict" {
		t.conflicts.Add(ctx, 1)
	}
	return err
}

// outcome names the error kind of a finished transaction.
func outcome(err error) string {
	switch {
	case err == nil:
		return "commit"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidAssociation):
		return "invalid_association"
	case errors.Is(err, domain.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	default:
		return "rollback"
	}
}
