package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/pgkeeper/internal/domain"
)

// TracingPublisher wraps a domain.EventPublisher with a span per published
// change and counts the bed and room status transitions each change carries.
type TracingPublisher struct {
	next        domain.EventPublisher
	tracer      trace.Tracer
	transitions metric.Int64Counter
}

// Compile-time check: TracingPublisher implements domain.EventPublisher.
var _ domain.EventPublisher = (*TracingPublisher)(nil)

// NewTracingPublisher creates a tracing decorator around the given publisher.
func NewTracingPublisher(next domain.EventPublisher) (*TracingPublisher, error) {
	transitions, err := otel.Meter(meterName).Int64Counter("pgkeeper.occupancy.transitions",
		metric.WithDescription("Committed bed and room status changes."),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transitions counter: %w", err)
	}

	return &TracingPublisher{
		next:        next,
		tracer:      otel.Tracer(tracerName),
		transitions: transitions,
	}, nil
}

func (p *TracingPublisher) Publish(ctx context.Context, change domain.OccupancyChange) error {
	ctx, span := p.tracer.Start(ctx, "EventPublisher.Publish",
		trace.WithAttributes(
			attribute.String("occupancy.kind", string(change.Kind)),
			attribute.Int64("tenant.id", change.Tenant.ID),
			attribute.Int("occupancy.beds", len(change.Reconciliation.Beds)),
			attribute.Int("occupancy.rooms", len(change.Reconciliation.Rooms)),
			attribute.Bool("occupancy.changed", change.Reconciliation.Changed()),
		),
	)
	defer span.End()

	// The change is already committed, so transitions count even if the
	// publish below fails.
	for _, b := range change.Reconciliation.Beds {
		if b.From != b.To {
			p.record(ctx, span, "bed", b.BedID, string(b.From), string(b.To))
		}
	}
	for _, r := range change.Reconciliation.Rooms {
		if r.From != r.To {
			p.record(ctx, span, "room", r.RoomID, string(r.From), string(r.To))
		}
	}

	err := p.next.Publish(ctx, change)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *TracingPublisher) record(ctx context.Context, span trace.Span, entity string, id int64, from, to string) {
	span.AddEvent(entity+".status_changed", trace.WithAttributes(
		attribute.Int64(entity+".id", id),
		attribute.String("from", from),
		attribute.String("to", to),
	))
	p.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("to", to),
	))
}
