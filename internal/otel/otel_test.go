package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInitMeterProvider(t *testing.T) {
	ctx := context.Background()
	handler, err := InitMeterProvider(ctx, "test-service")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if handler == nil {
		t.Fatal("InitMeterProvider: expected non-nil handler")
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics: status=%d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("GET /metrics: empty body")
	}
}

func TestInitMetricsAndRecorders(t *testing.T) {
	ctx := context.Background()
	if _, err := InitMeterProvider(ctx, "metrics-test"); err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	// Recorders must be safe to call and to call before/after init.
	RecordTaskOp(ctx, "create")
	RecordTransition(ctx, "planning")
	RecordAgentCall(ctx, "planner", 120*time.Millisecond)
	RecordEventPublished(ctx, "task_updated")
	AddSubscriber()
	RemoveSubscriber()
	RemoveSubscriber() // gauge clamps at zero
}
