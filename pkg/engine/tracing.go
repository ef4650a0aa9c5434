package engine

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const engineTracerName = "ideaforge.engine"

const (
	spanRunExecute = "workflow.execute"
	spanStage      = "workflow.stage"
	spanStep       = "workflow.step"
)

func engineTracer() trace.Tracer {
	return otel.Tracer(engineTracerName)
}
