// Package middleware provides HTTP middleware components for the SIPSA ingestion service.
package middleware

import (
	"context"
	"time"
)

// operatorContextKey is the context key for authenticated operator information.
// Using a struct type ensures type safety and prevents collisions with other context keys.
type operatorContextKey struct{}

// OperatorContext contains authenticated operator information enriched in the request context.
// This context is added by the authentication middleware after successful API key validation.
type OperatorContext struct {
	// OperatorID is the unique identifier for the operator (e.g., "dbt-operator-v1")
	OperatorID string

	// Name is the human-readable operator name for logging and display
	Name string

	// Permissions are the authorization scopes granted to this operator
	Permissions []string

	// KeyID is the API key ID used for authentication (for audit logging)
	KeyID string

	// AuthTime is the timestamp when authentication occurred (for latency tracking)
	AuthTime time.Time
}

// GetOperatorContext extracts operator context from the request context.
// Returns (context, true) if authenticated, (empty, false) if not found.
//
// Example usage:
//
//	operatorCtx, authenticated := middleware.GetOperatorContext(r.Context())
//	if !authenticated {
//	    // Handle unauthenticated request
//	    return
//	}
//	log.Printf("Request from operator: %s", operatorCtx.OperatorID)
func GetOperatorContext(ctx context.Context) (OperatorContext, bool) {
	operatorCtx, ok := ctx.Value(operatorContextKey{}).(OperatorContext)

	return operatorCtx, ok
}

// SetOperatorContext adds operator context to the request context.
// Returns a new context with the operator context attached.
//
// This function is used by the authentication middleware to enrich the request context
// after successful API key validation.
//
// Example usage:
//
//	operatorCtx := middleware.OperatorContext{
//	    OperatorID:    "dbt-operator-v1",
//	    Name:        "dbt Core Operator",
//	    Permissions: []string{"lineage:write"},
//	    KeyID:       "key-123",
//	    AuthTime:    time.Now(),
//	}
//	newCtx := middleware.SetOperatorContext(r.Context(), operatorCtx)
func SetOperatorContext(ctx context.Context, operatorCtx OperatorContext) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, operatorCtx)
}
