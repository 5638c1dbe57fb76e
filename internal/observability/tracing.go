package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ccbridge")

// StartRequestSpan opens a span for one inbound proxy request, tagging it
// with the caller-facing model name and the dialect it arrived in.
func StartRequestSpan(ctx context.Context, name, dialect, model string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("ccbridge.dialect", dialect),
		attribute.String("ccbridge.model", model),
	))
}

// RecordUsageAttributes annotates span with token accounting once known.
func RecordUsageAttributes(span trace.Span, inputTokens, outputTokens, cacheReadTokens int) {
	span.SetAttributes(
		attribute.Int("ccbridge.usage.input_tokens", inputTokens),
		attribute.Int("ccbridge.usage.output_tokens", outputTokens),
		attribute.Int("ccbridge.usage.cache_read_tokens", cacheReadTokens),
	)
}
