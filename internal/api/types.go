// Package api provides HTTP API server implementation for the SIPSA ingestion service.
package api

import (
	"net/http"
	"time"
)

type (
	// TriggerAcceptedResponse is the §6.1 202 response for a newly dispatched
	// ingestion run. The run itself executes asynchronously; this response
	// only confirms it was accepted for processing.
	TriggerAcceptedResponse struct {
		RequestID string `json:"requestId"`
		Status    string `json:"status"`
		Method    string `json:"method"`
		Force     bool   `json:"force"`
	}

	// TriggerRejectedResponse is the §6.1 400 response for a blank or
	// unrecognized method name.
	TriggerRejectedResponse struct {
		Error            string   `json:"error"`
		AvailableMethods []string `json:"availableMethods"`
		RequestID        string   `json:"requestId"`
	}

	// MethodsResponse is the §6.1 GET /internal/ingestion/methods response.
	MethodsResponse struct {
		Methods []string `json:"methods"`
		Count   int      `json:"count"`
	}

	// AuditEventResponse is one entry in an audit timeline response. Separate
	// from ingestion.AuditEvent so the wire format doesn't couple to the
	// domain struct's field layout.
	AuditEventResponse struct {
		AuditID       string    `json:"auditId"`
		RunID         string    `json:"runId,omitempty"`
		RequestID     string    `json:"requestId"`
		RequestSource string    `json:"requestSource"`
		EventType     string    `json:"eventType"`
		Message       string    `json:"message"`
		OccurredAt    time.Time `json:"occurredAt"`
	}

	// AuditTrailResponse is the §6.2 request-scoped audit query response.
	AuditTrailResponse struct {
		RequestID  string               `json:"requestId"`
		EventCount int                  `json:"eventCount"`
		FirstEvent time.Time            `json:"firstEvent"`
		LastEvent  time.Time            `json:"lastEvent"`
		Events     []AuditEventResponse `json:"events"`
	}

	// CuratedEnvelopeResponse is the §6.3 paginated curated read response.
	// Results stay as generic column maps: the five curated tables have
	// disjoint column sets, so there is no shared struct to decode rows into.
	CuratedEnvelopeResponse struct {
		Count   int                      `json:"count"`
		Next    *int                     `json:"next"`
		Prev    *int                     `json:"prev"`
		Pages   int                      `json:"pages"`
		Results []map[string]interface{} `json:"results"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	// Used for declarative route registration with middleware bypass support.
	Route struct {
		Path    string // The URL path for this route (e.g., "/ping", "/api/v1/ciudad")
		Handler http.HandlerFunc
	}

	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}
)
