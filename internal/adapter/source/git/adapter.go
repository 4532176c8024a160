// Package git 实现 Git 仓库的源连接器：在配置的仓库 docs 路径内
// 检索 runbook 与流程文档。
package git

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"runhub/internal/domain/knowledge"
	"runhub/internal/source"
)

// Config git adapter 配置
type Config struct {
	Name  string   `json:"name"`
	Token string   `json:"token"`
	Repos []string `json:"repos"` // owner/repo 列表
	Paths []string `json:"paths"` // 限定路径前缀，空则不限
}

// Adapter Git 仓库源
type Adapter struct {
	name   string
	repos  []string
	paths  []string
	client *github.Client
}

// New 创建 git adapter
func New(cfg Config) *Adapter {
	name := cfg.Name
	if name == "" {
		name = "git-docs"
	}

	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: cfg.Token},
	))
	return &Adapter{
		name:   name,
		repos:  cfg.Repos,
		paths:  cfg.Paths,
		client: github.NewClient(httpClient),
	}
}

func (a *Adapter) Name() string               { return a.name }
func (a *Adapter) Type() knowledge.SourceType { return knowledge.SourceTypeGit }

// Initialize 校验配置并确认首个仓库可访问
func (a *Adapter) Initialize(ctx context.Context) error {
	if len(a.repos) == 0 {
		return fmt.Errorf("no repos configured")
	}
	for _, r := range a.repos {
		if !strings.Contains(r, "/") {
			return fmt.Errorf("repo %q is not in owner/repo form", r)
		}
	}
	return a.HealthCheck(ctx)
}

// Search 通过 code search 在配置仓库内检索文档
func (a *Adapter) Search(ctx context.Context, query string, opts source.SearchOptions) ([]knowledge.Document, error) {
	q := buildSearchQuery(query, a.repos, a.paths)

	perPage := opts.Limit
	if perPage <= 0 || perPage > 30 {
		perPage = 30
	}
	result, _, err := a.client.Search.Code(ctx, q, &github.SearchOptions{
		TextMatch:   true,
		ListOptions: github.ListOptions{PerPage: perPage},
	})
	if err != nil {
		return nil, fmt.Errorf("code search failed: %w", err)
	}

	docs := make([]knowledge.Document, 0, len(result.CodeResults))
	for _, hit := range result.CodeResults {
		if hit.Repository == nil || hit.Path == nil {
			continue
		}
		doc := knowledge.Document{
			ID:         hit.Repository.GetFullName() + "/" + hit.GetPath(),
			Title:      titleFromPath(hit.GetPath()),
			Content:    textMatchFragments(hit.TextMatches),
			Source:     a.name,
			SourceType: knowledge.SourceTypeGit,
			Metadata: map[string]string{
				"repo": hit.Repository.GetFullName(),
				"path": hit.GetPath(),
				"url":  hit.GetHTMLURL(),
			},
		}
		docs = append(docs, doc)
		if opts.Limit > 0 && len(docs) >= opts.Limit {
			break
		}
	}
	return docs, nil
}

// GetDocument 按 id（owner/repo/path）拉取全文
func (a *Adapter) GetDocument(ctx context.Context, id string) (*knowledge.Document, error) {
	parts := strings.SplitN(id, "/", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("document id %q is not in owner/repo/path form", id)
	}
	owner, repo, path := parts[0], parts[1], parts[2]

	content, _, resp, err := a.client.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return nil, source.ErrNotFound
		}
		return nil, fmt.Errorf("get contents failed: %w", err)
	}
	if content == nil {
		return nil, source.ErrNotFound
	}
	raw, err := content.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode contents: %w", err)
	}

	doc := &knowledge.Document{
		ID:         id,
		Title:      titleFromPath(path),
		Content:    raw,
		Source:     a.name,
		SourceType: knowledge.SourceTypeGit,
		Metadata: map[string]string{
			"repo": owner + "/" + repo,
			"path": path,
			"url":  content.GetHTMLURL(),
		},
	}

	// commit 时间作为文档更新时间
	commits, _, err := a.client.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
		Path:        path,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err == nil && len(commits) > 0 && commits[0].Commit != nil && commits[0].Commit.Committer != nil {
		doc.LastUpdated = commits[0].Commit.Committer.GetDate().Time
	}
	return doc, nil
}

// HealthCheck 确认 API 可达且令牌有效
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, _, err := a.client.RateLimit.Get(ctx)
	if err != nil {
		return fmt.Errorf("rate limit probe failed: %w", err)
	}
	return nil
}

func (a *Adapter) Cleanup() error { return nil }

func buildSearchQuery(query string, repos, paths []string) string {
	var sb strings.Builder
	sb.WriteString(query)
	for _, r := range repos {
		sb.WriteString(" repo:")
		sb.WriteString(r)
	}
	for _, p := range paths {
		sb.WriteString(" path:")
		sb.WriteString(p)
	}
	return sb.String()
}

func titleFromPath(path string) string {
	base := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		base = path[idx+1:]
	}
	if idx := strings.LastIndexByte(base, '.'); idx > 0 {
		base = base[:idx]
	}
	base = strings.ReplaceAll(base, "-", " ")
	base = strings.ReplaceAll(base, "_", " ")
	if decoded, err := url.PathUnescape(base); err == nil {
		base = decoded
	}
	return base
}

func textMatchFragments(matches []*github.TextMatch) string {
	if len(matches) == 0 {
		return ""
	}
	var frags []string
	for _, m := range matches {
		if f := m.GetFragment(); f != "" {
			frags = append(frags, f)
		}
	}
	return strings.Join(frags, "\n")
}
