package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/trend"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	catalog *rules.Catalog
	custom  *rules.CustomEvaluator
	trends  *trend.Service
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, catalog *rules.Catalog, custom *rules.CustomEvaluator, trends *trend.Service, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  eng,
		catalog: catalog,
		custom:  custom,
		trends:  trends,
		version: version,
	}
}

// EvaluateRequest is the request body for the evaluate endpoints.
type EvaluateRequest struct {
	DocumentID      string `json:"documentId,omitempty"`
	ClientCompanyID string `json:"clientCompanyId,omitempty"`

	// Features, when present, is evaluated directly instead of the
	// stored feature record. Inline evaluation only.
	Features *domain.DocumentRiskFeatures `json:"features,omitempty"`

	// Async enqueues the evaluation instead of running it inline.
	Async bool `json:"async,omitempty"`
}

// EvaluateDocument handles POST /evaluate/document.
func (h *Handler) EvaluateDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.DocumentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "documentId is required",
		})
		return
	}

	if req.Async {
		// The job payload carries identifiers only; a job consumer
		// reads features from the store.
		if req.Features != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "features cannot be combined with async",
			})
			return
		}
		h.enqueue(w, r, tenantID, domain.TopicDocumentEvaluate, domain.EvaluationJob{
			TenantID:   tenantID,
			DocumentID: req.DocumentID,
		})
		return
	}

	score, err := h.engine.EvaluateDocumentWithFeatures(ctx, tenantID, req.DocumentID, req.Features)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "document not found",
			})
			return
		}
		if errors.Is(err, repository.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("document evaluation failed",
			"tenant_id", tenantID,
			"document_id", req.DocumentID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, score)
}

// EvaluateCompany handles POST /evaluate/company.
func (h *Handler) EvaluateCompany(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ClientCompanyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "clientCompanyId is required",
		})
		return
	}

	if req.Async {
		h.enqueue(w, r, tenantID, domain.TopicCompanyEvaluate, domain.EvaluationJob{
			TenantID:        tenantID,
			ClientCompanyID: req.ClientCompanyID,
		})
		return
	}

	score, err := h.engine.EvaluateCompany(ctx, tenantID, req.ClientCompanyID)
	if err != nil {
		slog.Error("company evaluation failed",
			"tenant_id", tenantID,
			"company_id", req.ClientCompanyID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, score)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, tenantID, topic string, job domain.EvaluationJob) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	payload, _ := json.Marshal(job)
	if err := h.bus.Publish(r.Context(), tenantID, topic, payload); err != nil {
		slog.Error("failed to enqueue evaluation job",
			"tenant_id", tenantID,
			"topic", topic,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to enqueue evaluation",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
	})
}

// SaveFeatures handles POST /features, the upstream extraction sink.
func (h *Handler) SaveFeatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var features domain.DocumentRiskFeatures
	if err := json.NewDecoder(r.Body).Decode(&features); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if features.DocumentID == "" || features.ClientCompanyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "documentId and clientCompanyId are required",
		})
		return
	}

	// The header tenant always wins over the payload.
	features.TenantID = tenantID
	if features.ExtractedAt.IsZero() {
		features.ExtractedAt = time.Now().UTC()
	}

	if err := h.repo.SaveDocumentFeatures(ctx, tenantID, &features); err != nil {
		slog.Error("failed to save document features",
			"tenant_id", tenantID,
			"document_id", features.DocumentID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save features",
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"documentId": features.DocumentID,
	})
}

// SaveInvoice handles POST /invoices.
func (h *Handler) SaveInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var inv domain.Invoice
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if inv.ClientCompanyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "clientCompanyId is required",
		})
		return
	}

	inv.TenantID = tenantID
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	if inv.IssueDate.IsZero() {
		inv.IssueDate = inv.CreatedAt
	}

	if err := h.repo.SaveInvoice(ctx, tenantID, &inv); err != nil {
		slog.Error("failed to save invoice",
			"tenant_id", tenantID,
			"invoice_id", inv.ID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save invoice",
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id": inv.ID,
	})
}

// SaveTransaction handles POST /transactions.
func (h *Handler) SaveTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if tx.ClientCompanyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "clientCompanyId is required",
		})
		return
	}

	tx.TenantID = tenantID
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.BookedAt.IsZero() {
		tx.BookedAt = tx.CreatedAt
	}

	if err := h.repo.SaveTransaction(ctx, tenantID, &tx); err != nil {
		slog.Error("failed to save transaction",
			"tenant_id", tenantID,
			"transaction_id", tx.ID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transaction",
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id": tx.ID,
	})
}

// GetScore handles GET /scores/{entityType}/{id}.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	entityType, ok := parseEntityType(chi.URLParam(r, "entityType"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entity type must be document or company",
		})
		return
	}
	entityID := chi.URLParam(r, "id")

	// The engine caches the current score on every evaluation; a cache
	// miss or failure falls through to storage.
	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, tenantID, engine.ScoreCacheKey(entityType, entityID)); err == nil && cached != nil {
			var score domain.RiskScore
			if json.Unmarshal(cached, &score) == nil {
				writeJSON(w, http.StatusOK, &score)
				return
			}
		}
	}

	score, err := h.repo.GetCurrentScore(ctx, tenantID, entityType, entityID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "score not found",
			})
			return
		}
		slog.Error("failed to get score", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get score",
		})
		return
	}

	writeJSON(w, http.StatusOK, score)
}

// GetHistory handles GET /scores/{entityType}/{id}/history?days=N.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	entityType, ok := parseEntityType(chi.URLParam(r, "entityType"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entity type must be document or company",
		})
		return
	}

	days := 90
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "days must be a positive integer",
			})
			return
		}
		days = parsed
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	entries, err := h.repo.ListHistory(ctx, tenantID, entityType, chi.URLParam(r, "id"), since)
	if err != nil {
		slog.Error("failed to list history", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list history",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
		"days":    days,
	})
}

// GetTrend handles GET /scores/{entityType}/{id}/trend.
func (h *Handler) GetTrend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	entityType, ok := parseEntityType(chi.URLParam(r, "entityType"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entity type must be document or company",
		})
		return
	}

	report, err := h.trends.Direction(ctx, tenantID, entityType, chi.URLParam(r, "id"))
	if err != nil {
		slog.Error("failed to derive trend", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to derive trend",
		})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListRules returns the tenant's active rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	active, err := h.catalog.LoadActive(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": active,
		"count": len(active),
	})
}

// GetRule retrieves a rule by code, active or not.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rule, err := h.repo.GetRule(ctx, tenantID, chi.URLParam(r, "code"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to get rule", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// SaveRule creates or replaces a rule for the tenant.
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rule domain.RiskRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if rule.Code == "" || rule.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "code and name are required",
		})
		return
	}
	if rule.Scope != domain.ScopeDocument && rule.Scope != domain.ScopeCompany {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "scope must be document or company",
		})
		return
	}
	if rule.Weight < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight must not be negative",
		})
		return
	}

	rule.TenantID = tenantID

	// A custom expression must compile before the rule is accepted.
	if h.custom != nil {
		if err := h.custom.Validate(&rule); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid rule expression: " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.SaveRule(ctx, tenantID, &rule); err != nil {
		slog.Error("failed to save rule",
			"tenant_id", tenantID,
			"rule_code", rule.Code,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	h.catalog.Invalidate(ctx, tenantID)

	slog.Info("rule saved",
		"tenant_id", tenantID,
		"rule_code", rule.Code,
		"scope", rule.Scope,
	)
	writeJSON(w, http.StatusCreated, rule)
}

// ReloadRules drops the cached catalog and reloads it from storage.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	h.catalog.Invalidate(ctx, tenantID)

	active, err := h.catalog.LoadActive(ctx, tenantID)
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules",
		})
		return
	}

	slog.Info("rules reloaded",
		"tenant_id", tenantID,
		"count", len(active),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(active),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func parseEntityType(s string) (domain.EntityType, bool) {
	switch s {
	case "document":
		return domain.EntityDocument, true
	case "company":
		return domain.EntityCompany, true
	default:
		return "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
