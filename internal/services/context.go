package services

import "context"

type contextKey string

const (
	runIDKey   contextKey = "run_id"
	circuitKey contextKey = "circuit"
	stepKey    contextKey = "step"
)

// WithRunID annotates context with the resolution run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the resolution run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithCircuit annotates context with the circuit name being resolved.
func WithCircuit(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, circuitKey, name)
}

// CircuitFromContext returns the circuit name if present.
func CircuitFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(circuitKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStep annotates context with the pipeline step name.
func WithStep(ctx context.Context, step string) context.Context {
	if step == "" {
		return ctx
	}
	return context.WithValue(ctx, stepKey, step)
}

// StepFromContext returns the pipeline step name if present.
func StepFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stepKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
