// Package api provides HTTP API server implementation for the SIPSA ingestion service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sipsa-ingest/ingestor/internal/api/middleware"
	"github.com/sipsa-ingest/ingestor/internal/curated"
	"github.com/sipsa-ingest/ingestor/internal/ingestion"
	"github.com/sipsa-ingest/ingestor/internal/methods"
)

const (
	healthCheckTimeout    = 2 * time.Second
	expectedURLParts      = 2
	recentAuditLimit      = 100
	dateQueryLayout       = "2006-01-02"
)

// curatedEndpoint describes one of the five §6.3 read endpoints: the
// curated table it reads, the column its date filters apply to, and the
// query-param-to-column mapping for its exact-match business keys.
type curatedEndpoint struct {
	table      string
	dateColumn string
	equals     map[string]string // query param -> column
}

// curatedEndpoints is the closed set backing /api/v1/{ciudad,parcial,...}.
// Table and column names are string literals that match methods.Registry
// and the write-side schema; nothing checks them against the registry.
var curatedEndpoints = map[string]curatedEndpoint{ //nolint:gochecknoglobals
	"ciudad": {
		table: "city_prices", dateColumn: "fecha_captura",
		equals: map[string]string{"regId": "reg_id", "codProducto": "cod_producto"},
	},
	"parcial": {
		table: "partial_market_prices", dateColumn: "enma_fecha",
		equals: map[string]string{"muniId": "muni_id", "fuenId": "fuen_id"},
	},
	"mayorista-semanal": {
		table: "weekly_wholesale_prices", dateColumn: "fecha_ini",
		equals: map[string]string{"artiId": "arti_id", "fuenId": "fuen_id"},
	},
	"mayorista-mensual": {
		table: "monthly_wholesale_prices", dateColumn: "fecha_mes_ini",
		equals: map[string]string{"artiId": "arti_id", "fuenId": "fuen_id"},
	},
	"abastecimiento-mensual": {
		table: "monthly_supply", dateColumn: "fecha_mes",
		equals: map[string]string{"artiId": "arti_id", "fuenId": "fuen_id"},
	},
}

// setupRoutes registers every HTTP route for the API server (§6).
func (s *Server) setupRoutes(mux *http.ServeMux) {
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},     // K8s liveness probe
		Route{"GET /ready", s.handleReady},   // K8s readiness probe
		Route{"GET /health", s.handleHealth}, // Basic health check - status, uptime, version
		Route{"/", s.handleNotFound},         // Catch-all handler for 404 responses
	)

	mux.HandleFunc("POST /internal/ingestion/run", s.handleTriggerIngestion)
	mux.HandleFunc("GET /internal/ingestion/methods", s.handleListMethods)

	mux.HandleFunc("GET /internal/audit/request/{requestId}", s.handleAuditByRequest)
	mux.HandleFunc("GET /internal/audit/run/{runId}", s.handleAuditByRun)
	mux.HandleFunc("GET /internal/audit/recent", s.handleRecentAudit)

	for name, endpoint := range curatedEndpoints {
		mux.HandleFunc("GET /api/v1/"+name, s.handleCuratedRead(endpoint))
	}
}

// registerPublicRoutes registers HTTP routes that bypass authentication and rate limiting.
// Public routes should only be used for health check endpoints that need to be accessible
// without authentication (e.g., K8s liveness/readiness probes, monitoring tools).
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	validHTTPMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
	}

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		path := route.Path

		parts := strings.Fields(path)
		if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
			path = strings.TrimSpace(parts[1])
		}

		if path == "" {
			s.logger.Warn("malformed route path detected, ignoring route", slog.String("path", path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("failed to write ping response", slog.String("correlation_id", correlationID), slog.String("error", err.Error()))
	}
}

// handleReady responds to Kubernetes readiness probes with storage backend health checks.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if s.apiKeyStore == nil { // pragma: allowlist secret
		s.logger.Warn("API key store not configured - readiness check disabled", slog.String("correlation_id", correlationID))
		writePlainText(w, s.logger, correlationID, http.StatusOK, "ready")

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.apiKeyStore.HealthCheck(ctx); err != nil {
		s.logger.Error("storage health check failed", slog.String("correlation_id", correlationID), slog.String("error", err.Error()))
		writePlainText(w, s.logger, correlationID, http.StatusServiceUnavailable, "storage unavailable")

		return
	}

	writePlainText(w, s.logger, correlationID, http.StatusOK, "ready")
}

func writePlainText(w http.ResponseWriter, logger *slog.Logger, correlationID string, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		logger.Error("failed to write response", slog.String("correlation_id", correlationID), slog.String("error", err.Error()))
	}
}

// handleHealth returns detailed health status information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	health := HealthStatus{Status: "healthy", ServiceName: "sipsa-ingestor", Version: "v1.0.0", Uptime: uptime}

	writeJSON(w, s.logger, correlationID, http.StatusOK, health)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// handleTriggerIngestion implements §6.1's POST /internal/ingestion/run.
// The run executes asynchronously: this handler only validates the method
// name and window-legal request shape, then dispatches and returns 202.
func (s *Server) handleTriggerIngestion(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())
	requestID := uuid.NewString()

	methodName := strings.TrimSpace(r.URL.Query().Get("method"))
	force := r.URL.Query().Get("force") == "true"

	if _, err := methods.Lookup(methodName); err != nil {
		writeJSON(w, s.logger, correlationID, http.StatusBadRequest, TriggerRejectedResponse{
			Error:            "unknown or blank method",
			AvailableMethods: methods.Names(),
			RequestID:        requestID,
		})

		return
	}

	source := ingestion.RequestSourceManual

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Minute)
		defer cancel()

		if err := s.job.Run(ctx, methodName, force, requestID, source); err != nil {
			s.logger.Error("ingestion run failed",
				slog.String("method", methodName),
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)
		}
	}()

	writeJSON(w, s.logger, correlationID, http.StatusAccepted, TriggerAcceptedResponse{
		RequestID: requestID,
		Status:    "ACCEPTED",
		Method:    methodName,
		Force:     force,
	})
}

// handleListMethods implements §6.1's GET /internal/ingestion/methods.
func (s *Server) handleListMethods(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())
	names := methods.Names()

	writeJSON(w, s.logger, correlationID, http.StatusOK, MethodsResponse{Methods: names, Count: len(names)})
}

// handleAuditByRequest implements §6.2's GET /internal/audit/request/{requestId}.
func (s *Server) handleAuditByRequest(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("requestId")

	trail, err := s.control.AuditByRequestID(r.Context(), requestID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to query audit trail"))

		return
	}

	if trail == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("no audit events for requestId "+requestID))

		return
	}

	writeJSON(w, s.logger, middleware.GetCorrelationID(r.Context()), http.StatusOK, toAuditTrailResponse(*trail))
}

// handleAuditByRun implements §6.2's GET /internal/audit/run/{runId}.
func (s *Server) handleAuditByRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")

	events, err := s.control.AuditByRunID(r.Context(), runID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to query audit events"))

		return
	}

	if len(events) == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("no audit events for runId "+runID))

		return
	}

	writeJSON(w, s.logger, middleware.GetCorrelationID(r.Context()), http.StatusOK, toAuditEventResponses(events))
}

// handleRecentAudit implements §6.2's GET /internal/audit/recent.
func (s *Server) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	events, err := s.control.RecentAudit(r.Context(), recentAuditLimit)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to query recent audit events"))

		return
	}

	writeJSON(w, s.logger, middleware.GetCorrelationID(r.Context()), http.StatusOK, toAuditEventResponses(events))
}

// handleCuratedRead returns a handler for one §6.3 curated read endpoint,
// parameterized over the table/date-column/equality-key set that endpoint
// was registered with.
func (s *Server) handleCuratedRead(endpoint curatedEndpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		filter, problem := parseCuratedFilter(query, endpoint)
		if problem != nil {
			WriteErrorResponse(w, r, s.logger, problem)

			return
		}

		page := curated.Pagination{
			Page:     parseIntDefault(query.Get("page"), 1),
			PageSize: parseIntDefault(query.Get("pageSize"), curated.DefaultPageSize),
		}

		env, err := s.curated.Query(r.Context(), endpoint.table, endpoint.dateColumn, filter, page)
		if err != nil {
			WriteErrorResponse(w, r, s.logger, InternalServerError("failed to query curated data"))

			return
		}

		writeJSON(w, s.logger, middleware.GetCorrelationID(r.Context()), http.StatusOK, toCuratedEnvelopeResponse(env))
	}
}

// parseCuratedFilter builds a curated.Filter from query parameters per
// §6.3: an exact date, or a [startDate,endDate] range, plus whichever
// equality keys this endpoint declares.
func parseCuratedFilter(query map[string][]string, endpoint curatedEndpoint) (curated.Filter, *ProblemDetail) {
	get := func(key string) string {
		if v, ok := query[key]; ok && len(v) > 0 {
			return v[0]
		}

		return ""
	}

	var filter curated.Filter

	if raw := get("date"); raw != "" {
		parsed, err := time.Parse(dateQueryLayout, raw)
		if err != nil {
			return curated.Filter{}, BadRequest("invalid date: " + raw)
		}

		filter.Date = &parsed
	}

	if raw := get("startDate"); raw != "" {
		parsed, err := time.Parse(dateQueryLayout, raw)
		if err != nil {
			return curated.Filter{}, BadRequest("invalid startDate: " + raw)
		}

		filter.StartDate = &parsed
	}

	if raw := get("endDate"); raw != "" {
		parsed, err := time.Parse(dateQueryLayout, raw)
		if err != nil {
			return curated.Filter{}, BadRequest("invalid endDate: " + raw)
		}

		filter.EndDate = &parsed
	}

	equals := make(map[string]string)

	for param, column := range endpoint.equals {
		if v := get(param); v != "" {
			equals[column] = v
		}
	}

	if len(equals) > 0 {
		filter.Equals = equals
	}

	return filter, nil
}

func parseIntDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return n
}

func toAuditEventResponses(events []ingestion.AuditEvent) []AuditEventResponse {
	out := make([]AuditEventResponse, len(events))
	for i, e := range events {
		out[i] = toAuditEventResponse(e)
	}

	return out
}

func toAuditEventResponse(e ingestion.AuditEvent) AuditEventResponse {
	return AuditEventResponse{
		AuditID:       e.AuditID,
		RunID:         e.RunID,
		RequestID:     e.RequestID,
		RequestSource: string(e.RequestSource),
		EventType:     string(e.EventType),
		Message:       e.Message,
		OccurredAt:    e.OccurredAt,
	}
}

func toAuditTrailResponse(t ingestion.AuditTrail) AuditTrailResponse {
	return AuditTrailResponse{
		RequestID:  t.RequestID,
		EventCount: t.EventCount,
		FirstEvent: t.FirstEvent,
		LastEvent:  t.LastEvent,
		Events:     toAuditEventResponses(t.Events),
	}
}

func toCuratedEnvelopeResponse(env *curated.Envelope) CuratedEnvelopeResponse {
	return CuratedEnvelopeResponse{
		Count:   env.Count,
		Next:    env.Next,
		Prev:    env.Prev,
		Pages:   env.Pages,
		Results: env.Results,
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, correlationID string, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal response", slog.String("correlation_id", correlationID), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		logger.Error("failed to write response", slog.String("correlation_id", correlationID), slog.String("error", err.Error()))
	}
}
