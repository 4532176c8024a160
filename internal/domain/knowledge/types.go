package knowledge

import "time"

// SourceType 文档源类型
type SourceType string

const (
	SourceTypeFile SourceType = "file"
	SourceTypeWiki SourceType = "wiki"
	SourceTypeGit  SourceType = "git"
	SourceTypeWeb  SourceType = "web"
)

// Severity 事件严重级别
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Document 单篇运维文档。由产出它的 adapter 持有，返回后不可变，
// 编排层只包装评分结果，绝不修改。
type Document struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Content         string            `json:"content"`
	Source          string            `json:"source"`      // adapter 名称
	SourceType      SourceType        `json:"source_type"`
	ConfidenceScore float64           `json:"confidence_score"` // adapter 给出的初始相关度 [0,1]
	MatchReasons    []string          `json:"match_reasons,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"` // category / tags / author / priority ...
	LastUpdated     time.Time         `json:"last_updated,omitempty"`
	RetrievalTimeMs int64             `json:"retrieval_time_ms"`
}

// QueryContext 调用方附带的事件上下文（只读）
type QueryContext struct {
	Urgent    bool     `json:"urgent,omitempty"`
	Severity  Severity `json:"severity,omitempty"`
	Systems   []string `json:"systems,omitempty"`
	AlertType string   `json:"alert_type,omitempty"`
}

// IntentType 查询意图类别
type IntentType string

const (
	IntentRunbookSearch      IntentType = "runbook_search"
	IntentProcedureLookup    IntentType = "procedure_lookup"
	IntentDecisionTreeLookup IntentType = "decision_tree_lookup"
	IntentEscalationInquiry  IntentType = "escalation_inquiry"
	IntentKnowledgeSearch    IntentType = "knowledge_search"
	IntentTroubleshooting    IntentType = "troubleshooting"
)

// Intent 分类结果
type Intent struct {
	Type       IntentType `json:"type"`
	Confidence float64    `json:"confidence"`
}

// EnhancedQuery 查询增强结果
type EnhancedQuery struct {
	Original            string   `json:"original"`
	Query               string   `json:"query"` // 用于词法/模糊匹配的最终查询串
	Expansions          []string `json:"expansions,omitempty"`
	ContextTerms        []string `json:"context_terms,omitempty"`
	OperationalKeywords []string `json:"operational_keywords,omitempty"`
}

// TimeConstraints 检索时间约束
type TimeConstraints struct {
	TargetResponseTime time.Duration `json:"target_response_time_ms"`
}

// Strategy 检索策略：查哪些源、每源取多少、时间预算
type Strategy struct {
	Approach        string          `json:"approach"`
	SourceTypes     []SourceType    `json:"source_types,omitempty"` // 空 = 全部
	PerSourceLimit  int             `json:"per_source_limit"`
	TimeConstraints TimeConstraints `json:"time_constraints"`
}

// ProcessedQuery 每次请求新建，自身不缓存（只缓存其结果）
type ProcessedQuery struct {
	Intent   Intent        `json:"intent"`
	Enhanced EnhancedQuery `json:"enhanced_query"`
	Strategy Strategy      `json:"strategy"`
	Context  *QueryContext `json:"context,omitempty"`
}

// RankedResult 评分后的结果，包装 Document 而不修改它
type RankedResult struct {
	Document        Document `json:"document"`
	ConfidenceScore float64  `json:"confidence_score"`
	MatchReasons    []string `json:"match_reasons,omitempty"`
}

// QueryResult 对外返回的最终结果集
type QueryResult struct {
	Results         []RankedResult `json:"results"`
	TotalResults    int            `json:"total_results"`
	Cached          bool           `json:"cached"`
	Degraded        bool           `json:"degraded"`
	RetrievalTimeMs int64          `json:"retrieval_time_ms"`
	Intent          IntentType     `json:"intent,omitempty"`
}

// SearchOutcome 多源扇出的聚合结果
type SearchOutcome struct {
	Documents []Document
	Attempted int  // 扇出的 adapter 数（breaker open / disabled 除外）
	Responded int  // 截止前成功返回的 adapter 数
	Degraded  bool // 响应数低于配置的最小可用源数量
}

// FeedbackRecord 结果反馈记录（仅校验与转发，由外部存储持久化）
type FeedbackRecord struct {
	ID          string    `json:"id"`
	RunbookID   string    `json:"runbook_id"`
	ProcedureID string    `json:"procedure_id,omitempty"`
	Outcome     string    `json:"outcome"` // resolved | not_helpful | escalated
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
