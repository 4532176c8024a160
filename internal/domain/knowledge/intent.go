package knowledge

import "strings"

// IntentClassifier 基于规则的意图分类器。
// 纯函数、无 I/O，必须在 10ms 内返回，不依赖任何训练模型。
type IntentClassifier struct{}

// NewIntentClassifier 创建分类器
func NewIntentClassifier() *IntentClassifier {
	return &IntentClassifier{}
}

// intentPrecedence 多条规则得分相同时的固定优先序
var intentPrecedence = []IntentType{
	IntentEscalationInquiry,
	IntentRunbookSearch,
	IntentProcedureLookup,
	IntentDecisionTreeLookup,
	IntentTroubleshooting,
	IntentKnowledgeSearch,
}

// intentSignals 每个意图的关键词信号与权重
var intentSignals = map[IntentType][]signal{
	IntentEscalationInquiry: {
		{"escalate", 0.5}, {"escalation", 0.5}, {"on-call", 0.4}, {"oncall", 0.4},
		{"urgent", 0.4}, {"emergency", 0.4}, {"who do i contact", 0.5}, {"page ", 0.3},
	},
	IntentRunbookSearch: {
		{"runbook", 0.6}, {"outage", 0.4}, {"incident", 0.4}, {"down", 0.25},
		{"alert", 0.3}, {"failover", 0.35}, {"recover", 0.3}, {"restore", 0.3},
		{"restart", 0.25},
	},
	IntentProcedureLookup: {
		{"procedure", 0.6}, {"how do i", 0.5}, {"how to", 0.4}, {"steps", 0.4},
		{"checklist", 0.4}, {"process for", 0.4},
	},
	IntentDecisionTreeLookup: {
		{"decision tree", 0.7}, {"decision", 0.35}, {"should i", 0.4},
		{"should we", 0.4}, {"which option", 0.4},
	},
	IntentTroubleshooting: {
		{"troubleshoot", 0.6}, {"debug", 0.4}, {"not working", 0.4}, {"failing", 0.3},
		{"fails", 0.3}, {"error", 0.3}, {"why is", 0.25}, {"slow", 0.2}, {"fix", 0.3},
	},
}

type signal struct {
	keyword string
	weight  float64
}

// Classify 将原始查询（+ 可选上下文）映射为意图与置信度。
// 没有任何规则命中时回落到 knowledge_search。
func (c *IntentClassifier) Classify(query string, qctx *QueryContext) Intent {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Intent{Type: IntentKnowledgeSearch, Confidence: 0}
	}

	scores := make(map[IntentType]float64, len(intentSignals))
	for intent, signals := range intentSignals {
		for _, s := range signals {
			if strings.Contains(q, s.keyword) {
				scores[intent] += s.weight
			}
		}
	}

	// 上下文信号：紧急事件向 escalation / runbook 倾斜
	if qctx != nil {
		if qctx.Urgent {
			scores[IntentEscalationInquiry] += 0.3
			scores[IntentRunbookSearch] += 0.2
		}
		switch qctx.Severity {
		case SeverityCritical:
			scores[IntentEscalationInquiry] += 0.3
			scores[IntentRunbookSearch] += 0.2
		case SeverityHigh:
			scores[IntentEscalationInquiry] += 0.15
			scores[IntentRunbookSearch] += 0.1
		}
		if qctx.AlertType != "" {
			scores[IntentRunbookSearch] += 0.2
		}
	}

	// 按固定优先序选最高分，保证同分时结果确定
	best := IntentKnowledgeSearch
	bestScore := 0.0
	for _, intent := range intentPrecedence {
		if s := scores[intent]; s > bestScore {
			best = intent
			bestScore = s
		}
	}

	if bestScore == 0 {
		// 无规则命中：通用知识检索，给一个保守置信度
		return Intent{Type: IntentKnowledgeSearch, Confidence: 0.3}
	}
	if bestScore > 1 {
		bestScore = 1
	}
	return Intent{Type: best, Confidence: bestScore}
}
