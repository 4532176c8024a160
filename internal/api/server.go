package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"runhub/internal/cache"
	"runhub/internal/domain/knowledge"
	applog "runhub/internal/platform/log"
	"runhub/internal/platform/metrics"
	"runhub/internal/source"
)

// ServerConfig 服务配置
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	JWTSecret    string // 为空时关闭鉴权
	JWTIssuer    string
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// Server HTTP 服务器
type Server struct {
	config    *ServerConfig
	processor *knowledge.Processor
	registry  *source.Registry
	cache     *cache.Hybrid
	feedback  knowledge.FeedbackStore
	collector *metrics.Collector
	httpSrv   *http.Server
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, processor *knowledge.Processor, registry *source.Registry, collector *metrics.Collector) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{
		config:    config,
		processor: processor,
		registry:  registry,
		collector: collector,
	}
}

// SetCache 设置结果缓存（可选）
func (s *Server) SetCache(h *cache.Hybrid) {
	s.cache = h
}

// SetFeedbackStore 设置反馈存储（可选，未配置时反馈仅记日志）
func (s *Server) SetFeedbackStore(fs knowledge.FeedbackStore) {
	s.feedback = fs
}

// Start 启动服务器
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 Knowledge API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/health", s.healthHandler)

	handler := NewKnowledgeHandler(s.processor, s.registry, s.cache, s.feedback, s.collector)

	if strings.TrimSpace(s.config.JWTSecret) != "" {
		authMW := authMiddleware(&JWTConfig{
			Secret: s.config.JWTSecret,
			Issuer: s.config.JWTIssuer,
		})
		r.Group(func(r chi.Router) {
			r.Use(authMW)
			handler.RegisterRoutes(r)
		})
	} else {
		applog.Warn("⚠️ JWT_SECRET not set, API runs without authentication")
		handler.RegisterRoutes(r)
	}
	return r
}

// healthHandler 总体健康：任一源可用即 ok，全部熔断/失联时 degraded
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.registry != nil {
		healthy := 0
		for _, h := range s.registry.Health() {
			if h.Healthy {
				healthy++
			}
		}
		if healthy == 0 {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
