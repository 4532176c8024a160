// Package file 实现本地文档目录的源连接器：启动时扫描并解析
// runbook / procedure 文档，检索在内存索引上完成。
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"runhub/internal/domain/knowledge"
	applog "runhub/internal/platform/log"
	"runhub/internal/source"
)

// Config file adapter 配置
type Config struct {
	Name         string   `json:"name"`
	Roots        []string `json:"roots"` // 文档根目录列表
	MaxFileBytes int64    `json:"max_file_bytes"`
}

// Adapter 本地文件源
type Adapter struct {
	name     string
	roots    []string
	maxBytes int64

	mu   sync.RWMutex
	docs map[string]*knowledge.Document // id → 文档
	ids  []string                       // 确定性遍历顺序
}

// New 创建 file adapter
func New(cfg Config) *Adapter {
	name := cfg.Name
	if name == "" {
		name = "local-docs"
	}
	maxBytes := cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20 // 10 MB
	}
	return &Adapter{
		name:     name,
		roots:    cfg.Roots,
		maxBytes: maxBytes,
		docs:     make(map[string]*knowledge.Document),
	}
}

func (a *Adapter) Name() string               { return a.name }
func (a *Adapter) Type() knowledge.SourceType { return knowledge.SourceTypeFile }

// Initialize 扫描全部根目录并建立内存索引
func (a *Adapter) Initialize(ctx context.Context) error {
	if len(a.roots) == 0 {
		return fmt.Errorf("no document roots configured")
	}

	docs := make(map[string]*knowledge.Document)
	var ids []string
	for _, root := range a.roots {
		if err := a.scanRoot(ctx, root, docs, &ids); err != nil {
			return err
		}
	}
	sort.Strings(ids)

	a.mu.Lock()
	a.docs = docs
	a.ids = ids
	a.mu.Unlock()

	applog.Info("[Source/File] Index built", "adapter", a.name, "documents", len(docs))
	return nil
}

func (a *Adapter) scanRoot(ctx context.Context, root string, docs map[string]*knowledge.Document, ids *[]string) error {
	root = filepath.Clean(root)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		p, err := parseFile(path, a.maxBytes)
		if err != nil {
			if !errors.Is(err, errUnsupported) {
				applog.Warn("[Source/File] Skipping unparsable file", "path", path, "error", err)
			}
			return nil
		}
		if p.Content == "" {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		id := filepath.ToSlash(rel)

		title := p.Title
		if title == "" {
			title = strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		}

		meta := map[string]string{"format": p.Format, "path": path}
		// 一级目录名作为分类（runbooks/ procedures/ ...）
		if idx := strings.IndexByte(id, '/'); idx > 0 {
			meta["category"] = id[:idx]
		}

		doc := &knowledge.Document{
			ID:         id,
			Title:      title,
			Content:    p.Content,
			Source:     a.name,
			SourceType: knowledge.SourceTypeFile,
			Metadata:   meta,
		}
		if info, err := os.Stat(path); err == nil {
			doc.LastUpdated = info.ModTime()
		}

		docs[id] = doc
		*ids = append(*ids, id)
		return nil
	})
}

// Search 在内存索引上做词匹配检索。无结果返回空切片。
func (a *Adapter) Search(ctx context.Context, query string, opts source.SearchOptions) ([]knowledge.Document, error) {
	tokens := knowledge.Tokenize(query)
	if len(tokens) == 0 {
		return []knowledge.Document{}, nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	type scored struct {
		doc   *knowledge.Document
		score float64
		hits  []string
	}
	var matches []scored
	for _, id := range a.ids {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		doc := a.docs[id]
		titleLower := strings.ToLower(doc.Title)
		contentLower := strings.ToLower(doc.Content)

		var hits []string
		score := 0.0
		for _, t := range tokens {
			switch {
			case strings.Contains(titleLower, t):
				score += 2
				hits = append(hits, t)
			case strings.Contains(contentLower, t):
				score++
				hits = append(hits, t)
			}
		}
		if score == 0 {
			continue
		}
		matches = append(matches, scored{
			doc:   doc,
			score: score / float64(2*len(tokens)),
			hits:  hits,
		})
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
		doc := *m.doc
		doc.ConfidenceScore = m.score
		doc.MatchReasons = []string{"file index match: " + strings.Join(m.hits, ",")}
		out = append(out, doc)
	}
	return out, nil
}

// GetDocument 按 id（相对路径）读取
func (a *Adapter) GetDocument(ctx context.Context, id string) (*knowledge.Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	doc, ok := a.docs[id]
	if !ok {
		return nil, source.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

// HealthCheck 确认全部根目录可访问
func (a *Adapter) HealthCheck(ctx context.Context) error {
	for _, root := range a.roots {
		if _, err := os.Stat(root); err != nil {
			return fmt.Errorf("root %s: %w", root, err)
		}
	}
	return nil
}

// Cleanup 释放内存索引
func (a *Adapter) Cleanup() error {
	a.mu.Lock()
	a.docs = make(map[string]*knowledge.Document)
	a.ids = nil
	a.mu.Unlock()
	return nil
}
