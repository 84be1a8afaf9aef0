// Package middleware provides HTTP middleware components for the SIPSA ingestion service.
package middleware

import (
	"context"
	"testing"
	"time"
)

// TestGetOperatorContext_NotFound verifies that GetOperatorContext returns empty context and false
// when no operator context exists in the request context.
func TestGetOperatorContext_NotFound(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	operatorCtx, found := GetOperatorContext(ctx)

	if found {
		t.Error("GetOperatorContext should return false when context not found")
	}

	if operatorCtx.OperatorID != "" {
		t.Errorf("Expected empty OperatorID, got %q", operatorCtx.OperatorID)
	}
}

// TestGetOperatorContext_Found verifies that GetOperatorContext returns the correct
// operator context when it exists in the request context.
func TestGetOperatorContext_Found(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	authTime := time.Now()

	expected := OperatorContext{
		OperatorID:    "dbt-operator-v1",
		Name:        "dbt Core Operator",
		Permissions: []string{"lineage:write", "metrics:read"},
		KeyID:       "key-123",
		AuthTime:    authTime,
	}

	ctx = SetOperatorContext(ctx, expected)
	actual, found := GetOperatorContext(ctx)

	if !found {
		t.Fatal("GetOperatorContext should return true when context exists")
	}

	if actual.OperatorID != expected.OperatorID {
		t.Errorf("Expected OperatorID %q, got %q", expected.OperatorID, actual.OperatorID)
	}

	if actual.Name != expected.Name {
		t.Errorf("Expected Name %q, got %q", expected.Name, actual.Name)
	}

	if len(actual.Permissions) != len(expected.Permissions) {
		t.Errorf("Expected %d permissions, got %d", len(expected.Permissions), len(actual.Permissions))
	}

	for i, perm := range expected.Permissions {
		if actual.Permissions[i] != perm {
			t.Errorf("Expected permission[%d] %q, got %q", i, perm, actual.Permissions[i])
		}
	}

	if actual.KeyID != expected.KeyID {
		t.Errorf("Expected KeyID %q, got %q", expected.KeyID, actual.KeyID)
	}

	if !actual.AuthTime.Equal(expected.AuthTime) {
		t.Errorf("Expected AuthTime %v, got %v", expected.AuthTime, actual.AuthTime)
	}
}

// TestSetOperatorContext verifies that SetOperatorContext correctly stores
// operator context in the request context and can be retrieved.
func TestSetOperatorContext(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	authTime := time.Now()

	operatorCtx := OperatorContext{
		OperatorID:    "airflow-operator-v1",
		Name:        "Apache Airflow Operator",
		Permissions: []string{"lineage:write"},
		KeyID:       "key-456",
		AuthTime:    authTime,
	}

	newCtx := SetOperatorContext(ctx, operatorCtx)

	// Verify original context is not modified
	_, found := GetOperatorContext(ctx)
	if found {
		t.Error("Original context should not contain operator context")
	}

	// Verify new context contains operator context
	retrieved, found := GetOperatorContext(newCtx)
	if !found {
		t.Fatal("New context should contain operator context")
	}

	if retrieved.OperatorID != operatorCtx.OperatorID {
		t.Errorf("Expected OperatorID %q, got %q", operatorCtx.OperatorID, retrieved.OperatorID)
	}
}

// TestSetOperatorContext_MultipleValues verifies that SetOperatorContext can be called
// multiple times and the latest value is returned.
func TestSetOperatorContext_MultipleValues(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()

	first := OperatorContext{
		OperatorID: "first-operator",
		Name:     "First Operator",
		KeyID:    "key-1",
		AuthTime: time.Now(),
	}

	second := OperatorContext{
		OperatorID: "second-operator",
		Name:     "Second Operator",
		KeyID:    "key-2",
		AuthTime: time.Now(),
	}

	// Set first value
	ctx = SetOperatorContext(ctx, first)

	// Set second value (overwrites first)
	ctx = SetOperatorContext(ctx, second)

	// Retrieve and verify second value is returned
	retrieved, found := GetOperatorContext(ctx)
	if !found {
		t.Fatal("Context should contain operator context")
	}

	if retrieved.OperatorID != second.OperatorID {
		t.Errorf("Expected OperatorID %q, got %q", second.OperatorID, retrieved.OperatorID)
	}

	if retrieved.Name != second.Name {
		t.Errorf("Expected Name %q, got %q", second.Name, retrieved.Name)
	}
}

// TestOperatorContext_EmptyPermissions verifies that OperatorContext handles
// empty permissions slice correctly.
func TestOperatorContext_EmptyPermissions(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()

	operatorCtx := OperatorContext{
		OperatorID:    "test-operator",
		Name:        "Test Operator",
		Permissions: []string{}, // Empty permissions
		KeyID:       "key-789",
		AuthTime:    time.Now(),
	}

	ctx = SetOperatorContext(ctx, operatorCtx)
	retrieved, found := GetOperatorContext(ctx)

	if !found {
		t.Fatal("Context should contain operator context")
	}

	if retrieved.Permissions == nil {
		t.Error("Permissions should not be nil, expected empty slice")
	}

	if len(retrieved.Permissions) != 0 {
		t.Errorf("Expected 0 permissions, got %d", len(retrieved.Permissions))
	}
}
