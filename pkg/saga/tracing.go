package saga

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sagalog.saga"

// Span names emitted by the orchestrator.
const (
	spanRun          = "saga.run"
	spanTask         = "saga.task"
	spanCompensation = "saga.compensation"
)

func sagaTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func attrSagaID(id string) attribute.KeyValue {
	return attribute.String("saga.id", id)
}

func attrTaskID(id string) attribute.KeyValue {
	return attribute.String("saga.task_id", id)
}

func attrDefinition(name string) attribute.KeyValue {
	return attribute.String("saga.definition", name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
