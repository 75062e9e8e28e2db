package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitInstallsProvider(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "test", SampleRatio: 1})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown() error = %v", err)
		}
	}()

	_, span := otel.Tracer("test").Start(context.Background(), "span")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Fatal("expected a recording span from the sdk provider")
	}
}
