package cache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ContentType 缓存内容类型，决定 TTL 档位
type ContentType string

const (
	ContentRunbook      ContentType = "runbook"
	ContentProcedure    ContentType = "procedure"
	ContentDecisionTree ContentType = "decision_tree"
	ContentKnowledge    ContentType = "knowledge"
	ContentWeb          ContentType = "web"
)

const keyPrefix = "kb:cache:"

// Config 混合缓存配置
type Config struct {
	MaxEntries int `json:"max_entries"` // 内存层容量（LRU 淘汰）

	// 各内容类型 TTL：稳定的 runbook/procedure 长，知识库中等，web 短。
	// 写入时确定，读取不续期。
	TTLSeconds map[string]int `json:"ttl_seconds"`
}

// DefaultConfig 默认缓存配置
func DefaultConfig() *Config {
	return &Config{
		MaxEntries: 1000,
		TTLSeconds: map[string]int{
			string(ContentRunbook):      1800,
			string(ContentProcedure):    1800,
			string(ContentDecisionTree): 1800,
			string(ContentKnowledge):    600,
			string(ContentWeb):          120,
		},
	}
}

// TTLFor 按内容类型取 TTL，未配置时兜底 5 分钟
func (c *Config) TTLFor(ct ContentType) time.Duration {
	if c != nil && c.TTLSeconds != nil {
		if secs, ok := c.TTLSeconds[string(ct)]; ok && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 5 * time.Minute
}

// BuildKey 缓存 key = hash(归一化查询 + 排序后的过滤参数 + 意图)。
// 同一语义查询（大小写、空白、过滤参数顺序不同）必须落在同一 key。
func BuildKey(query string, filters map[string]string, intent string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")

	parts := make([]string, 0, len(filters))
	for k, v := range filters {
		parts = append(parts, strings.ToLower(k)+"="+strings.ToLower(v))
	}
	sort.Strings(parts)

	raw := normalized + "|" + strings.Join(parts, ",") + "|" + intent
	sum := sha256.Sum256([]byte(raw))
	return keyPrefix + fmt.Sprintf("%x", sum[:12])
}
