package worker

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/spec-kit/ops-portal/internal/events"
	"github.com/spec-kit/ops-portal/internal/observability"
)

func TestStartSubscribersWiresMetrics(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	metrics := observability.NewMetrics()
	StartSubscribers(dispatcher, Subscribers{Metrics: metrics})

	event := events.Event{Type: events.EventTicketCreated, AggregateType: events.AggregateTicket, AggregateID: "t-1"}
	if err := dispatcher.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	count, err := testutil.GatherAndCount(metrics.Registry(), "ops_portal_domain_events_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one event series, got %d", count)
	}
}

func TestStartSubscribersToleratesNil(t *testing.T) {
	StartSubscribers(nil, Subscribers{})
	StartSubscribers(events.NewInMemoryDispatcher(), Subscribers{})
}
