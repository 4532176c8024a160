package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"runhub/internal/cache"
	"runhub/internal/domain/knowledge"
	applog "runhub/internal/platform/log"
	"runhub/internal/platform/metrics"
	"runhub/internal/source"
)

// KnowledgeHandler 知识检索 API
type KnowledgeHandler struct {
	processor *knowledge.Processor
	registry  *source.Registry
	cache     *cache.Hybrid
	feedback  knowledge.FeedbackStore
	collector *metrics.Collector
}

// NewKnowledgeHandler 创建知识检索处理器
func NewKnowledgeHandler(
	processor *knowledge.Processor,
	registry *source.Registry,
	hybrid *cache.Hybrid,
	feedback knowledge.FeedbackStore,
	collector *metrics.Collector,
) *KnowledgeHandler {
	return &KnowledgeHandler{
		processor: processor,
		registry:  registry,
		cache:     hybrid,
		feedback:  feedback,
		collector: collector,
	}
}

// RegisterRoutes 注册知识检索路由
func (h *KnowledgeHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", h.Query)
		r.Post("/feedback", h.Feedback)
		r.Get("/sources/status", h.SourcesStatus)
		r.Get("/sources/{name}/documents/{id}", h.GetDocument)
		r.Get("/cache/stats", h.CacheStats)
		r.Get("/metrics", h.Metrics)
	})
}

// --- 查询 ---

// QueryRequest 查询请求
type QueryRequest struct {
	Query   string                  `json:"query"`
	Context *knowledge.QueryContext `json:"context,omitempty"`
}

func (h *KnowledgeHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.processor.ProcessQuery(r.Context(), req.Query, req.Context)
	if err != nil {
		if errors.Is(err, knowledge.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		applog.Error("[KB] Query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// --- 单篇文档 ---

func (h *KnowledgeHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	id := chi.URLParam(r, "id")

	doc, err := h.registry.GetDocument(r.Context(), name, id)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		applog.Error("[KB] Get document failed", "source", name, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// --- 反馈 ---

func (h *KnowledgeHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var rec knowledge.FeedbackRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if rec.RunbookID == "" {
		writeError(w, http.StatusBadRequest, "runbook_id is required")
		return
	}
	switch rec.Outcome {
	case "resolved", "not_helpful", "escalated":
	default:
		writeError(w, http.StatusBadRequest, "outcome must be resolved, not_helpful or escalated")
		return
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	if h.feedback == nil {
		// 未配置持久化时仅记日志，不让调用方失败
		applog.Info("[Feedback] Recorded (log only)",
			"runbook_id", rec.RunbookID, "outcome", rec.Outcome)
		writeJSON(w, http.StatusAccepted, map[string]string{"id": rec.ID})
		return
	}

	if err := h.feedback.Record(r.Context(), &rec); err != nil {
		applog.Error("[Feedback] Record failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record feedback")
		return
	}
	h.collector.Inc("feedback_recorded", 1)
	writeJSON(w, http.StatusCreated, map[string]string{"id": rec.ID})
}

// --- 运行状态 ---

func (h *KnowledgeHandler) SourcesStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Health())
}

func (h *KnowledgeHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache not configured")
		return
	}
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *KnowledgeHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.collector.Snapshot())
}
