package knowledge

import "strings"

// ContextEnhancer 查询增强器：同义词扩展 + 运维词表 + 上下文词。
// 纯函数、确定性、无 I/O，可以安全地在时间预算内执行。
type ContextEnhancer struct{}

// NewContextEnhancer 创建增强器
func NewContextEnhancer() *ContextEnhancer {
	return &ContextEnhancer{}
}

// synonymMap 运维领域同义词/关联词表（顺序即相关度）
var synonymMap = map[string][]string{
	"disk":     {"storage", "volume", "filesystem"},
	"space":    {"capacity", "usage", "utilization"},
	"cleanup":  {"purge", "prune", "free"},
	"database": {"db", "postgres", "mysql", "sql"},
	"db":       {"database"},
	"memory":   {"ram", "oom", "heap"},
	"cpu":      {"processor", "load", "throttling"},
	"network":  {"connectivity", "dns", "latency"},
	"outage":   {"downtime", "incident", "unavailable"},
	"down":     {"outage", "unavailable"},
	"restart":  {"reboot", "recycle"},
	"deploy":   {"deployment", "release", "rollout"},
	"rollback": {"revert", "undo"},
	"latency":  {"slow", "response time", "p99"},
	"error":    {"failure", "exception", "fault"},
	"cert":     {"certificate", "tls", "ssl"},
	"queue":    {"backlog", "kafka", "broker"},
	"pod":      {"container", "kubernetes", "k8s"},
	"login":    {"auth", "authentication", "sso"},
	"payment":  {"billing", "transaction"},
	"backup":   {"snapshot", "restore"},
}

// operationalVocabulary 在查询中出现即视为运维关键词
var operationalVocabulary = []string{
	"restart", "failover", "rollback", "backup", "restore", "scale",
	"deploy", "escalate", "mitigate", "triage", "oncall", "on-call",
	"outage", "incident", "alert", "runbook", "cleanup", "purge",
	"throttle", "drain", "cordon", "disk", "memory", "cpu", "network",
	"database", "cache", "queue", "latency", "timeout", "certificate",
}

// escalation / troubleshooting 附加的意图词
var intentTerms = map[IntentType][]string{
	IntentEscalationInquiry:  {"escalation", "on-call", "contact"},
	IntentRunbookSearch:      {"runbook", "remediation"},
	IntentProcedureLookup:    {"procedure", "steps"},
	IntentDecisionTreeLookup: {"decision tree"},
	IntentTroubleshooting:    {"troubleshooting", "diagnosis"},
}

// Enhance 扩展查询：同义词、上下文词、运维关键词，并拼出最终匹配串
func (e *ContextEnhancer) Enhance(query string, intent Intent, qctx *QueryContext) EnhancedQuery {
	original := strings.TrimSpace(query)
	lower := strings.ToLower(original)
	tokens := Tokenize(lower)

	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		seen[t] = true
	}

	// 同义词扩展（去重，保持相关度顺序）
	var expansions []string
	appendTerm := func(term string) {
		term = strings.ToLower(term)
		if term == "" || seen[term] {
			return
		}
		seen[term] = true
		expansions = append(expansions, term)
	}
	for _, t := range tokens {
		for _, syn := range synonymMap[t] {
			appendTerm(syn)
		}
	}
	for _, t := range intentTerms[intent.Type] {
		appendTerm(t)
	}

	// 上下文词：受影响系统与告警类型
	var contextTerms []string
	if qctx != nil {
		for _, sys := range qctx.Systems {
			sys = strings.ToLower(strings.TrimSpace(sys))
			if sys != "" && !containsString(contextTerms, sys) {
				contextTerms = append(contextTerms, sys)
			}
		}
		if at := strings.ToLower(strings.TrimSpace(qctx.AlertType)); at != "" && !containsString(contextTerms, at) {
			contextTerms = append(contextTerms, at)
		}
	}

	// 查询中命中的运维词表
	var opKeywords []string
	for _, kw := range operationalVocabulary {
		if strings.Contains(lower, kw) {
			opKeywords = append(opKeywords, kw)
		}
	}

	// 最终匹配串 = 原查询 + 扩展 + 上下文词
	parts := []string{lower}
	parts = append(parts, expansions...)
	parts = append(parts, contextTerms...)

	return EnhancedQuery{
		Original:            original,
		Query:               strings.Join(parts, " "),
		Expansions:          expansions,
		ContextTerms:        contextTerms,
		OperationalKeywords: opKeywords,
	}
}

// Tokenize 按非字母数字切词，过滤单字符
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
