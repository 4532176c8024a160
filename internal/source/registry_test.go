package source

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"runhub/internal/domain/knowledge"
	"runhub/internal/platform/metrics"
)

// fakeAdapter 可编程的测试 adapter
type fakeAdapter struct {
	name    string
	typ     knowledge.SourceType
	docs    []knowledge.Document
	err     error
	delay   time.Duration
	initErr error
}

func (f *fakeAdapter) Name() string               { return f.name }
func (f *fakeAdapter) Type() knowledge.SourceType { return f.typ }

func (f *fakeAdapter) Initialize(ctx context.Context) error { return f.initErr }

func (f *fakeAdapter) Search(ctx context.Context, query string, opts SearchOptions) ([]knowledge.Document, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func (f *fakeAdapter) GetDocument(ctx context.Context, id string) (*knowledge.Document, error) {
	for i := range f.docs {
		if f.docs[i].ID == id {
			return &f.docs[i], nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) error { return f.err }
func (f *fakeAdapter) Cleanup() error                        { return nil }

func docFor(id, source string) knowledge.Document {
	return knowledge.Document{
		ID:         id,
		Title:      "doc " + id,
		Content:    "content for " + id,
		Source:     source,
		SourceType: knowledge.SourceTypeFile,
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MinimumWorkingAdapters = 2
	return NewRegistry(cfg, metrics.NewCollector())
}

func register(t *testing.T, r *Registry, a Adapter) {
	t.Helper()
	if err := r.Register(a, AdapterConfig{Name: a.Name(), Type: string(a.Type()), Enabled: true, TimeoutMs: 200}); err != nil {
		t.Fatalf("register %s: %v", a.Name(), err)
	}
}

// TestSearchAllPartialFailure 单源失败/超时不影响其余源的结果
func TestSearchAllPartialFailure(t *testing.T) {
	r := newTestRegistry(t)
	register(t, r, &fakeAdapter{name: "good-1", typ: knowledge.SourceTypeFile, docs: []knowledge.Document{docFor("a", "good-1")}})
	register(t, r, &fakeAdapter{name: "good-2", typ: knowledge.SourceTypeWiki, docs: []knowledge.Document{docFor("b", "good-2")}})
	register(t, r, &fakeAdapter{name: "broken", typ: knowledge.SourceTypeGit, err: errors.New("connection refused")})
	register(t, r, &fakeAdapter{name: "slow", typ: knowledge.SourceTypeWeb, delay: 2 * time.Second, docs: []knowledge.Document{docFor("c", "slow")}})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	outcome := r.SearchAll(ctx, "disk cleanup", nil)

	if outcome.Attempted != 4 {
		t.Fatalf("expected 4 attempted sources, got %d", outcome.Attempted)
	}
	if outcome.Responded != 2 {
		t.Fatalf("expected 2 responded sources, got %d", outcome.Responded)
	}
	if len(outcome.Documents) != 2 {
		t.Fatalf("expected 2 documents from healthy sources, got %d", len(outcome.Documents))
	}
	if outcome.Degraded {
		t.Fatal("2 responded sources meet the minimum, should not be degraded")
	}
	t.Logf("✅ Partial failure fan-out passed: %d/%d responded", outcome.Responded, outcome.Attempted)
}

// TestSearchAllDegradedFlag 响应源数量低于下限时标记降级
func TestSearchAllDegradedFlag(t *testing.T) {
	r := newTestRegistry(t)
	register(t, r, &fakeAdapter{name: "only", typ: knowledge.SourceTypeFile, docs: []knowledge.Document{docFor("a", "only")}})
	register(t, r, &fakeAdapter{name: "down", typ: knowledge.SourceTypeWiki, err: errors.New("boom")})

	outcome := r.SearchAll(context.Background(), "query", nil)
	if outcome.Responded != 1 {
		t.Fatalf("expected 1 responded, got %d", outcome.Responded)
	}
	if !outcome.Degraded {
		t.Fatal("responded below minimum_working_adapters must set Degraded")
	}
	if len(outcome.Documents) != 1 {
		t.Fatal("partial results must still be returned when degraded")
	}
}

// TestSearchAllAllFailed 全部失败返回空集而非错误
func TestSearchAllAllFailed(t *testing.T) {
	r := newTestRegistry(t)
	register(t, r, &fakeAdapter{name: "down-1", typ: knowledge.SourceTypeFile, err: errors.New("x")})
	register(t, r, &fakeAdapter{name: "down-2", typ: knowledge.SourceTypeWiki, err: errors.New("y")})

	outcome := r.SearchAll(context.Background(), "query", nil)
	if outcome.Responded != 0 || len(outcome.Documents) != 0 {
		t.Fatalf("expected empty outcome, got %d docs", len(outcome.Documents))
	}
	if !outcome.Degraded {
		t.Fatal("zero responses must be degraded")
	}
}

// TestSearchAllTypeFilter 策略的源类型过滤生效
func TestSearchAllTypeFilter(t *testing.T) {
	r := newTestRegistry(t)
	register(t, r, &fakeAdapter{name: "f", typ: knowledge.SourceTypeFile, docs: []knowledge.Document{docFor("a", "f")}})
	register(t, r, &fakeAdapter{name: "w", typ: knowledge.SourceTypeWeb, docs: []knowledge.Document{docFor("b", "w")}})

	strat := &knowledge.Strategy{SourceTypes: []knowledge.SourceType{knowledge.SourceTypeFile}}
	outcome := r.SearchAll(context.Background(), "query", strat)

	if outcome.Attempted != 1 {
		t.Fatalf("expected only the file source attempted, got %d", outcome.Attempted)
	}
	if len(outcome.Documents) != 1 || outcome.Documents[0].Source != "f" {
		t.Fatalf("unexpected documents: %+v", outcome.Documents)
	}
}

// TestSearchAllSkipsOpenBreaker 熔断打开的源直接跳过
func TestSearchAllSkipsOpenBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultFailureThreshold = 2
	r := NewRegistry(cfg, metrics.NewCollector())

	register(t, r, &fakeAdapter{name: "ok", typ: knowledge.SourceTypeFile, docs: []knowledge.Document{docFor("a", "ok")}})
	flaky := &fakeAdapter{name: "flaky", typ: knowledge.SourceTypeWiki, err: errors.New("boom")}
	if err := r.Register(flaky, AdapterConfig{Name: "flaky", Enabled: true, FailureThreshold: 2, TimeoutMs: 200}); err != nil {
		t.Fatal(err)
	}

	// 两轮失败触发熔断
	r.SearchAll(context.Background(), "q", nil)
	r.SearchAll(context.Background(), "q", nil)

	outcome := r.SearchAll(context.Background(), "q", nil)
	if outcome.Attempted != 1 {
		t.Fatalf("open breaker source should be excluded from fan-out, attempted=%d", outcome.Attempted)
	}
	t.Logf("✅ Breaker-open source skipped")
}

// TestSearchAllAbortedProbeRecovers 探测调度在调用前被放弃（截止已到）
// 不能吞掉 half_open 名额，恢复的源必须能被后续请求再次探测到
func TestSearchAllAbortedProbeRecovers(t *testing.T) {
	r := NewRegistry(DefaultConfig(), metrics.NewCollector())

	flaky := &fakeAdapter{name: "flaky", typ: knowledge.SourceTypeFile, err: errors.New("boom")}
	if err := r.Register(flaky, AdapterConfig{Name: "flaky", Enabled: true, FailureThreshold: 1, CooldownSeconds: 60, TimeoutMs: 200}); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	breaker := r.snapshotEntries()[0].breaker
	breaker.SetClock(func() time.Time { return now })

	// 一次失败即熔断
	r.SearchAll(context.Background(), "q", nil)
	if got := breaker.State(); got != CircuitOpen {
		t.Fatalf("breaker state = %s, want open", got)
	}

	// 源已恢复，冷却到期；用已取消的 ctx 消耗探测名额但不发出调用
	flaky.err = nil
	flaky.docs = []knowledge.Document{docFor("a", "flaky")}
	now = now.Add(61 * time.Second)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	r.SearchAll(cancelled, "q", nil)
	time.Sleep(50 * time.Millisecond) // 被放弃的 searchOne goroutine 归还名额

	// 后续健康请求必须再次到达该源
	outcome := r.SearchAll(context.Background(), "q", nil)
	if outcome.Responded != 1 {
		t.Fatalf("recovered source never reached again: responded=%d, breaker=%s",
			outcome.Responded, breaker.State())
	}
	if got := breaker.State(); got != CircuitClosed {
		t.Fatalf("successful probe should close breaker, got %s", got)
	}
	t.Logf("✅ Aborted probe dispatch released the half-open slot")
}

// TestRegisterDuplicateName 重名注册报错
func TestRegisterDuplicateName(t *testing.T) {
	r := newTestRegistry(t)
	register(t, r, &fakeAdapter{name: "dup", typ: knowledge.SourceTypeFile})
	err := r.Register(&fakeAdapter{name: "dup", typ: knowledge.SourceTypeWiki}, AdapterConfig{Name: "dup", Enabled: true})
	if err == nil {
		t.Fatal("duplicate adapter name must be rejected")
	}
}

// TestInitializeContinuesOnFailure 单源初始化失败不阻断整体启动
func TestInitializeContinuesOnFailure(t *testing.T) {
	r := newTestRegistry(t)
	register(t, r, &fakeAdapter{name: "ok", typ: knowledge.SourceTypeFile})
	register(t, r, &fakeAdapter{name: "bad", typ: knowledge.SourceTypeWiki, initErr: fmt.Errorf("no index")})

	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize should tolerate single-source failure: %v", err)
	}
}

// TestGetDocumentUnknownSource 未知源返回 ErrNotFound
func TestGetDocumentUnknownSource(t *testing.T) {
	r := newTestRegistry(t)
	register(t, r, &fakeAdapter{name: "only", typ: knowledge.SourceTypeFile, docs: []knowledge.Document{docFor("a", "only")}})

	if _, err := r.GetDocument(context.Background(), "missing", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown source, got %v", err)
	}

	doc, err := r.GetDocument(context.Background(), "only", "a")
	if err != nil || doc.ID != "a" {
		t.Fatalf("expected doc a, got %v err=%v", doc, err)
	}
}
