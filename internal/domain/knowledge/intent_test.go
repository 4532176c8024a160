package knowledge

import "testing"

// TestClassifyScenarios 典型运维查询的意图分类
func TestClassifyScenarios(t *testing.T) {
	c := NewIntentClassifier()

	tests := []struct {
		name  string
		query string
		qctx  *QueryContext
		want  IntentType
	}{
		{
			name:  "runbook by keyword",
			query: "runbook for payment service outage",
			want:  IntentRunbookSearch,
		},
		{
			name:  "procedure lookup",
			query: "how do i rotate the signing keys",
			want:  IntentProcedureLookup,
		},
		{
			name:  "decision tree",
			query: "decision tree for failing over the primary database",
			want:  IntentDecisionTreeLookup,
		},
		{
			name:  "escalation",
			query: "who do i contact to escalate a sev1",
			want:  IntentEscalationInquiry,
		},
		{
			name:  "troubleshooting",
			query: "troubleshoot why deployments are failing",
			want:  IntentTroubleshooting,
		},
		{
			name:  "plain knowledge fallback",
			query: "kafka partition rebalancing internals",
			want:  IntentKnowledgeSearch,
		},
		{
			name:  "urgent critical context boosts escalation",
			query: "urgent: database outage affecting payment system",
			qctx:  &QueryContext{Urgent: true, Severity: SeverityCritical},
			want:  IntentEscalationInquiry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.query, tt.qctx)
			if got.Type != tt.want {
				t.Fatalf("Classify(%q) = %s (%.2f), want %s", tt.query, got.Type, got.Confidence, tt.want)
			}
			if got.Confidence <= 0 || got.Confidence > 1 {
				t.Fatalf("confidence %f out of (0,1]", got.Confidence)
			}
		})
	}
}

// TestClassifyUrgentConfidence 明确紧急查询置信度要高
func TestClassifyUrgentConfidence(t *testing.T) {
	c := NewIntentClassifier()

	got := c.Classify("urgent: database outage affecting payment system", &QueryContext{
		Urgent:   true,
		Severity: SeverityCritical,
	})
	if got.Confidence < 0.7 {
		t.Fatalf("urgent+critical query should classify with high confidence, got %.2f", got.Confidence)
	}
	t.Logf("✅ Urgent query classified as %s with confidence %.2f", got.Type, got.Confidence)
}

// TestClassifyEmptyQuery 空查询回落且置信度为 0
func TestClassifyEmptyQuery(t *testing.T) {
	c := NewIntentClassifier()

	got := c.Classify("   ", nil)
	if got.Type != IntentKnowledgeSearch || got.Confidence != 0 {
		t.Fatalf("empty query should fall back to knowledge_search@0, got %s@%.2f", got.Type, got.Confidence)
	}
}

// TestClassifyDeterministic 同一输入分类结果稳定
func TestClassifyDeterministic(t *testing.T) {
	c := NewIntentClassifier()
	query := "alert fired, service down, need runbook"

	first := c.Classify(query, nil)
	for i := 0; i < 50; i++ {
		if got := c.Classify(query, nil); got != first {
			t.Fatalf("classification must be deterministic: %+v vs %+v", got, first)
		}
	}
}

// TestClassifyConfidenceClamped 多信号命中也不超过 1
func TestClassifyConfidenceClamped(t *testing.T) {
	c := NewIntentClassifier()

	got := c.Classify("runbook outage incident alert failover restore restart down", &QueryContext{
		Urgent:    true,
		Severity:  SeverityCritical,
		AlertType: "pager",
	})
	if got.Confidence > 1 {
		t.Fatalf("confidence must be clamped to 1, got %f", got.Confidence)
	}
}
