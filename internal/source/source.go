package source

import (
	"context"
	"errors"
	"time"

	"runhub/internal/domain/knowledge"
)

// ErrNotFound 指定文档不存在
var ErrNotFound = errors.New("document not found")

// SearchOptions 单源检索参数
type SearchOptions struct {
	Limit int // 每源最多返回的文档数
}

// Adapter 文档源连接器的统一能力接口。
// Search 在"无结果"时返回空切片而非错误；各实现自行处理内部超时。
type Adapter interface {
	// Name adapter 名称（配置内唯一）
	Name() string
	// Type 源类型（file / wiki / git / web）
	Type() knowledge.SourceType
	// Initialize 建立连接/加载索引
	Initialize(ctx context.Context) error
	// Search 按查询串检索文档
	Search(ctx context.Context, query string, opts SearchOptions) ([]knowledge.Document, error)
	// GetDocument 按 id 读取单篇文档，不存在时返回 ErrNotFound
	GetDocument(ctx context.Context, id string) (*knowledge.Document, error)
	// HealthCheck 探活，nil 即健康
	HealthCheck(ctx context.Context) error
	// Cleanup 释放资源，停机时调用
	Cleanup() error
}

// AdapterConfig 单个 adapter 的注册配置
type AdapterConfig struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Enabled          bool   `json:"enabled"`
	Priority         int    `json:"priority"` // 越大越优先
	TimeoutMs        int    `json:"timeout_ms"`
	FailureThreshold int    `json:"failure_threshold"`
	CooldownSeconds  int    `json:"cooldown_seconds"`
}

// Timeout 单 adapter 调用超时
func (c AdapterConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Health adapter 健康状态。由 Registry 的健康检查循环与
// 熔断器的调用结果更新，查询流量不直接依赖它。
type Health struct {
	Name           string       `json:"name"`
	Type           string       `json:"type"`
	Healthy        bool         `json:"healthy"`
	ResponseTimeMs int64        `json:"response_time_ms"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	CircuitState   CircuitState `json:"circuit_state"`
	LastCheckedAt  time.Time    `json:"last_checked_at,omitempty"`
}
