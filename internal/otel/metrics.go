package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce    sync.Once
	taskOpsCounter     metric.Int64Counter
	transitionsCounter metric.Int64Counter
	agentCallDuration  metric.Float64Histogram
	eventsCounter      metric.Int64Counter
	subscribersGauge   metric.Int64ObservableGauge
	subscribers        int64
	subscribersMu      sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only
// runs once. Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		taskOpsCounter, err = m.Int64Counter("taskdeck_task_operations_total", metric.WithDescription("Total task operations (create, update, delete)"))
		if err != nil {
			return
		}
		transitionsCounter, err = m.Int64Counter("taskdeck_task_transitions_total", metric.WithDescription("Total task status transitions"))
		if err != nil {
			return
		}
		agentCallDuration, err = m.Float64Histogram("taskdeck_agent_call_duration_seconds", metric.WithDescription("Collaborator call duration in seconds"))
		if err != nil {
			return
		}
		eventsCounter, err = m.Int64Counter("taskdeck_events_published_total", metric.WithDescription("Total events fanned out to task subscribers"))
		if err != nil {
			return
		}
		subscribersGauge, err = m.Int64ObservableGauge("taskdeck_subscribers", metric.WithDescription("Current realtime subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			subscribersMu.Lock()
			n := subscribers
			subscribersMu.Unlock()
			o.ObserveInt64(subscribersGauge, n)
			return nil
		}, subscribersGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordTaskOp records a task operation (create, update, delete).
func RecordTaskOp(ctx context.Context, op string) {
	if taskOpsCounter == nil {
		return
	}
	taskOpsCounter.Add(ctx, 1, metric.WithAttributes(AttrOp.String(op)))
}

// RecordTransition records a status transition.
func RecordTransition(ctx context.Context, toStatus string) {
	if transitionsCounter == nil {
		return
	}
	transitionsCounter.Add(ctx, 1, metric.WithAttributes(AttrStatus.String(toStatus)))
}

// RecordAgentCall records one collaborator call and its duration.
func RecordAgentCall(ctx context.Context, agent string, duration time.Duration) {
	if agentCallDuration == nil {
		return
	}
	agentCallDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrAgent.String(agent)))
}

// RecordEventPublished records one event fan-out.
func RecordEventPublished(ctx context.Context, eventType string) {
	if eventsCounter == nil {
		return
	}
	eventsCounter.Add(ctx, 1, metric.WithAttributes(AttrEvent.String(eventType)))
}

// AddSubscriber adds 1 to the subscriber gauge (call on subscribe).
func AddSubscriber() {
	subscribersMu.Lock()
	subscribers++
	subscribersMu.Unlock()
}

// RemoveSubscriber subtracts 1 from the subscriber gauge (call on unsubscribe).
func RemoveSubscriber() {
	subscribersMu.Lock()
	subscribers--
	if subscribers < 0 {
		subscribers = 0
	}
	subscribersMu.Unlock()
}
