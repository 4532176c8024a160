// Package wiki 实现内部 wiki 的源连接器：通过 JSON 检索接口查询
// 知识库页面。
package wiki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"runhub/internal/domain/knowledge"
	"runhub/internal/source"
)

// Config wiki adapter 配置
type Config struct {
	Name     string `json:"name"`
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
	Space    string `json:"space"` // 限定检索的空间，可空
}

// Adapter 内部 wiki 源
type Adapter struct {
	name     string
	baseURL  string
	username string
	password string
	space    string
	client   *http.Client
}

// New 创建 wiki adapter
func New(cfg Config) *Adapter {
	name := cfg.Name
	if name == "" {
		name = "wiki"
	}
	return &Adapter{
		name:     name,
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		space:    cfg.Space,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *Adapter) Name() string               { return a.name }
func (a *Adapter) Type() knowledge.SourceType { return knowledge.SourceTypeWiki }

// Initialize 校验配置并探测连通性
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.baseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if _, err := url.Parse(a.baseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	return a.HealthCheck(ctx)
}

type searchHit struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Excerpt   string            `json:"excerpt"`
	Body      string            `json:"body"`
	Space     string            `json:"space"`
	Labels    []string          `json:"labels"`
	Metadata  map[string]string `json:"metadata"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
	Total   int         `json:"total"`
}

// Search 调用 wiki 检索接口
func (a *Adapter) Search(ctx context.Context, query string, opts source.SearchOptions) ([]knowledge.Document, error) {
	q := url.Values{}
	q.Set("q", query)
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if a.space != "" {
		q.Set("space", a.space)
	}

	body, err := a.doRequest(ctx, http.MethodGet, "/api/v1/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	docs := make([]knowledge.Document, 0, len(resp.Results))
	for _, hit := range resp.Results {
		docs = append(docs, a.toDocument(hit))
	}
	return docs, nil
}

// GetDocument 按页面 id 拉取全文
func (a *Adapter) GetDocument(ctx context.Context, id string) (*knowledge.Document, error) {
	body, err := a.doRequest(ctx, http.MethodGet, "/api/v1/pages/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var hit searchHit
	if err := json.Unmarshal(body, &hit); err != nil {
		return nil, fmt.Errorf("decode page response: %w", err)
	}
	doc := a.toDocument(hit)
	return &doc, nil
}

// HealthCheck 探测 wiki 服务
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.doRequest(ctx, http.MethodGet, "/api/v1/ping", nil)
	return err
}

func (a *Adapter) Cleanup() error {
	a.client.CloseIdleConnections()
	return nil
}

func (a *Adapter) toDocument(hit searchHit) knowledge.Document {
	content := hit.Body
	if content == "" {
		content = hit.Excerpt
	}
	meta := map[string]string{}
	for k, v := range hit.Metadata {
		meta[k] = v
	}
	if hit.Space != "" {
		meta["space"] = hit.Space
	}
	if len(hit.Labels) > 0 {
		meta["labels"] = strings.Join(hit.Labels, ",")
	}
	return knowledge.Document{
		ID:          hit.ID,
		Title:       hit.Title,
		Content:     content,
		Source:      a.name,
		SourceType:  knowledge.SourceTypeWiki,
		Metadata:    meta,
		LastUpdated: hit.UpdatedAt,
	}
}

func (a *Adapter) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.username != "" {
		req.SetBasicAuth(a.username, a.password)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wiki request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, source.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("wiki returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
