// Gateway-specific semantic convention attributes.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Request attributes
	AttrTenantID = attribute.Key("edon.tenant.id")
	AttrAgentID  = attribute.Key("edon.agent.id")
	AttrEndpoint = attribute.Key("edon.http.endpoint")

	// Action attributes
	AttrTool      = attribute.Key("edon.action.tool")
	AttrOperation = attribute.Key("edon.action.operation")

	// Decision attributes
	AttrIntentID   = attribute.Key("edon.intent.id")
	AttrDecisionID = attribute.Key("edon.decision.id")
	AttrVerdict    = attribute.Key("edon.decision.verdict")
	AttrReasonCode = attribute.Key("edon.decision.reason_code")
	AttrRisk       = attribute.Key("edon.decision.risk")

	// Execution attributes
	AttrConnector  = attribute.Key("edon.connector")
	AttrPolicyPack = attribute.Key("edon.policy_pack")
)

// ActionAttrs describes the action under evaluation.
func ActionAttrs(agentID, tool, operation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAgentID.String(agentID),
		AttrTool.String(tool),
		AttrOperation.String(operation),
	}
}

// DecisionAttrs describes an evaluation outcome.
func DecisionAttrs(intentID, decisionID, verdict, reasonCode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrIntentID.String(intentID),
		AttrDecisionID.String(decisionID),
		AttrVerdict.String(verdict),
		AttrReasonCode.String(reasonCode),
	}
}

// ConnectorAttrs describes a dispatch to a tool connector.
func ConnectorAttrs(connector, tool, operation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrConnector.String(connector),
		AttrTool.String(tool),
		AttrOperation.String(operation),
	}
}

// StartSpan starts a span on the globally registered tracer. With no
// provider configured the span is a no-op.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
