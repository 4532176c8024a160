// Package web 实现外部网页的源连接器：抓取配置的文档页面，
// goquery 抽取正文后在内存快照上检索。
package web

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"runhub/internal/domain/knowledge"
	applog "runhub/internal/platform/log"
	"runhub/internal/source"
)

// Config web adapter 配置
type Config struct {
	Name            string   `json:"name"`
	URLs            []string `json:"urls"`
	RefreshSeconds  int      `json:"refresh_seconds"`
	MaxContentBytes int      `json:"max_content_bytes"`
}

type page struct {
	doc       knowledge.Document
	fetchedAt time.Time
}

// Adapter 外部网页源
type Adapter struct {
	name     string
	urls     []string
	refresh  time.Duration
	maxBytes int
	client   *http.Client

	mu    sync.RWMutex
	pages map[string]*page // url → 快照
}

// New 创建 web adapter
func New(cfg Config) *Adapter {
	name := cfg.Name
	if name == "" {
		name = "web-docs"
	}
	refresh := time.Duration(cfg.RefreshSeconds) * time.Second
	if refresh <= 0 {
		refresh = 10 * time.Minute
	}
	maxBytes := cfg.MaxContentBytes
	if maxBytes <= 0 {
		maxBytes = 512 << 10
	}
	return &Adapter{
		name:     name,
		urls:     cfg.URLs,
		refresh:  refresh,
		maxBytes: maxBytes,
		client:   &http.Client{Timeout: 15 * time.Second},
		pages:    make(map[string]*page),
	}
}

func (a *Adapter) Name() string               { return a.name }
func (a *Adapter) Type() knowledge.SourceType { return knowledge.SourceTypeWeb }

// Initialize 首轮抓取。单页失败只告警，全部失败才报错。
func (a *Adapter) Initialize(ctx context.Context) error {
	if len(a.urls) == 0 {
		return fmt.Errorf("no urls configured")
	}

	fetched := 0
	for _, u := range a.urls {
		if err := a.fetchPage(ctx, u); err != nil {
			applog.Warn("[Source/Web] Initial fetch failed", "url", u, "error", err)
			continue
		}
		fetched++
	}
	if fetched == 0 {
		return fmt.Errorf("all %d configured pages failed to fetch", len(a.urls))
	}
	applog.Info("[Source/Web] Pages fetched", "adapter", a.name, "pages", fetched)
	return nil
}

// Search 在页面快照上做词匹配。过期页面先尽力刷新。
func (a *Adapter) Search(ctx context.Context, query string, opts source.SearchOptions) ([]knowledge.Document, error) {
	a.refreshStale(ctx)

	tokens := knowledge.Tokenize(query)
	if len(tokens) == 0 {
		return []knowledge.Document{}, nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	type scored struct {
		doc   knowledge.Document
		score float64
	}
	var matches []scored
	for _, u := range a.urls {
		p, ok := a.pages[u]
		if !ok {
			continue
		}
		titleLower := strings.ToLower(p.doc.Title)
		contentLower := strings.ToLower(p.doc.Content)

		score := 0.0
		for _, t := range tokens {
			switch {
			case strings.Contains(titleLower, t):
				score += 2
			case strings.Contains(contentLower, t):
				score++
			}
		}
		if score == 0 {
			continue
		}
		matches = append(matches, scored{doc: p.doc, score: score / float64(2*len(tokens))})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].doc.ID < matches[j].doc.ID
	})

	limit := opts.Limit
	if limit <= 0 || limit > len(matches) {
		limit = len(matches)
	}
	out := make([]knowledge.Document, 0, limit)
	for _, m := range matches[:limit] {
		doc := m.doc
		doc.ConfidenceScore = m.score
		out = append(out, doc)
	}
	return out, nil
}

// GetDocument 按 id（URL）读取快照，缺失时现场抓取
func (a *Adapter) GetDocument(ctx context.Context, id string) (*knowledge.Document, error) {
	a.mu.RLock()
	p, ok := a.pages[id]
	a.mu.RUnlock()
	if ok {
		cp := p.doc
		return &cp, nil
	}

	if !a.configured(id) {
		return nil, source.ErrNotFound
	}
	if err := a.fetchPage(ctx, id); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if p, ok := a.pages[id]; ok {
		cp := p.doc
		return &cp, nil
	}
	return nil, source.ErrNotFound
}

// HealthCheck 探测首个配置页面
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if len(a.urls) == 0 {
		return fmt.Errorf("no urls configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.urls[0], nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", a.urls[0], err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe %s returned %d", a.urls[0], resp.StatusCode)
	}
	return nil
}

// Cleanup 释放页面快照
func (a *Adapter) Cleanup() error {
	a.mu.Lock()
	a.pages = make(map[string]*page)
	a.mu.Unlock()
	a.client.CloseIdleConnections()
	return nil
}

func (a *Adapter) configured(u string) bool {
	for _, known := range a.urls {
		if known == u {
			return true
		}
	}
	return false
}

func (a *Adapter) refreshStale(ctx context.Context) {
	now := time.Now()
	for _, u := range a.urls {
		a.mu.RLock()
		p, ok := a.pages[u]
		a.mu.RUnlock()
		if ok && now.Sub(p.fetchedAt) < a.refresh {
			continue
		}
		// 刷新失败保留旧快照
		if err := a.fetchPage(ctx, u); err != nil {
			applog.Warn("[Source/Web] Refresh failed, keeping stale snapshot", "url", u, "error", err)
		}
	}
}

func (a *Adapter) fetchPage(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s returned %d", u, resp.StatusCode)
	}

	gq, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("parse %s: %w", u, err)
	}

	gq.Find("script, style, nav, footer, noscript").Remove()

	title := strings.TrimSpace(gq.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(gq.Find("h1").First().Text())
	}
	if title == "" {
		title = u
	}

	content := gq.Find("main, article").Text()
	if strings.TrimSpace(content) == "" {
		content = gq.Find("body").Text()
	}
	content = collapseWhitespace(content)
	if len(content) > a.maxBytes {
		content = truncateBytes(content, a.maxBytes)
	}

	now := time.Now()
	doc := knowledge.Document{
		ID:          u,
		Title:       title,
		Content:     content,
		Source:      a.name,
		SourceType:  knowledge.SourceTypeWeb,
		Metadata:    map[string]string{"url": u},
		LastUpdated: now,
	}

	a.mu.Lock()
	a.pages[u] = &page{doc: doc, fetchedAt: now}
	a.mu.Unlock()
	return nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateBytes 按字节上限截断，回退到 rune 边界避免截出非法 UTF-8
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
