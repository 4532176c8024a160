package knowledge

import (
	"context"
	"crypto/sha256"
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	applog "runhub/internal/platform/log"
	"runhub/internal/platform/metrics"
)

// Engine 语义检索引擎：融合语义相似度、模糊词法匹配与元数据加权，
// 输出去重、阈值过滤、确定性排序后的结果。
type Engine struct {
	cfg            *Config
	weights        ScoringWeights
	embedder       Embedder // 可选
	embedCache     *lru.Cache[[32]byte, []float32]
	sourcePriority map[string]int // adapter 名称 → 配置优先级（tie-break 用）
	metrics        *metrics.Collector
}

// NewEngine 创建检索引擎
func NewEngine(cfg *Config, collector *metrics.Collector) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	size := cfg.EmbedCacheSize
	if size <= 0 {
		size = 2048
	}
	cache, err := lru.New[[32]byte, []float32](size)
	if err != nil {
		// 只有非法 size 才会出错，上面已兜底
		panic(err)
	}
	return &Engine{
		cfg:        cfg,
		weights:    cfg.Weights.Normalized(),
		embedCache: cache,
		metrics:    collector,
	}
}

// SetEmbedder 设置 Embedder（启用语义相似度分量）
func (e *Engine) SetEmbedder(emb Embedder) {
	e.embedder = emb
}

// SetSourcePriorities 设置源优先级表（同分 tie-break）
func (e *Engine) SetSourcePriorities(p map[string]int) {
	e.sourcePriority = p
}

// HasEmbedder 是否配置了 Embedder
func (e *Engine) HasEmbedder() bool {
	return e.embedder != nil
}

// Search 对候选文档评分排序。
// Embedding 失败只影响语义分量（按 0 处理），不中断整个请求。
func (e *Engine) Search(ctx context.Context, enhanced *EnhancedQuery, docs []Document) []RankedResult {
	if len(docs) == 0 {
		return nil
	}

	queryLower := strings.ToLower(enhanced.Original)
	queryTokens := Tokenize(enhanced.Query)
	now := time.Now()

	queryVec, docVecs := e.embedAll(ctx, enhanced.Query, docs)

	// 无语义分量（未配置/失败）时把权重重新分配到剩余分量，
	// 否则模糊匹配几乎不可能越过相似度阈值
	weights := e.weights
	if queryVec == nil {
		if sum := weights.Fuzzy + weights.Metadata; sum > 0 {
			weights = ScoringWeights{Fuzzy: weights.Fuzzy / sum, Metadata: weights.Metadata / sum}
		}
	}

	results := make([]RankedResult, 0, len(docs))
	for i := range docs {
		doc := &docs[i]

		semantic := 0.0
		if queryVec != nil && docVecs[i] != nil {
			semantic = cosineSimilarity(queryVec, docVecs[i])
		}
		fuzzy := fuzzyScore(queryTokens, queryLower, doc)
		meta := metadataScore(doc, now)

		score := weights.Semantic*semantic + weights.Fuzzy*fuzzy.Score + weights.Metadata*meta
		if score > 1 {
			score = 1
		}
		if score < 0 {
			score = 0
		}
		if score < e.cfg.MinSimilarityThreshold {
			continue
		}

		var reasons []string
		if semantic > 0 {
			reasons = append(reasons, reasonSemantic(semantic))
		}
		if len(fuzzy.Overlap) > 0 {
			reasons = append(reasons, reasonOverlap(fuzzy.Overlap))
		}
		if fuzzy.TitleSimilar >= 0.6 {
			reasons = append(reasons, reasonTitle(fuzzy.TitleSimilar))
		}
		if !doc.LastUpdated.IsZero() && now.Sub(doc.LastUpdated) < 30*24*time.Hour {
			reasons = append(reasons, "recently updated")
		}
		if p := strings.ToLower(doc.Metadata["priority"]); p == "high" || p == "critical" {
			reasons = append(reasons, "high priority source")
		}

		results = append(results, RankedResult{
			Document:        *doc,
			ConfidenceScore: score,
			MatchReasons:    reasons,
		})
	}

	results = dedupeByID(results)
	sortRanked(results, e.sourcePriority)

	max := e.cfg.MaxResults
	if max > 0 && len(results) > max {
		results = results[:max]
	}
	return results
}

// embedAll 查询与文档向量，带 LRU 缓存（key = 内容 sha256）。
// 任一步失败返回 nil 向量，调用方退化为纯模糊匹配。
func (e *Engine) embedAll(ctx context.Context, query string, docs []Document) ([]float32, [][]float32) {
	docVecs := make([][]float32, len(docs))
	if e.embedder == nil {
		return nil, docVecs
	}

	queryKey := sha256.Sum256([]byte("q:" + query))
	queryVec, _ := e.embedCache.Get(queryKey)

	// 收集缓存未命中的文本，一次批量计算
	var missTexts []string
	var missIdx []int
	for i := range docs {
		key := contentHash(&docs[i])
		if vec, ok := e.embedCache.Get(key); ok {
			docVecs[i] = vec
			continue
		}
		missTexts = append(missTexts, embeddingText(&docs[i]))
		missIdx = append(missIdx, i)
	}
	if queryVec == nil {
		missTexts = append(missTexts, query)
	}

	if len(missTexts) > 0 {
		vectors, err := e.embedder.Embed(ctx, missTexts)
		if err != nil || len(vectors) != len(missTexts) {
			e.metrics.Inc("embedding_failures", 1)
			applog.Warn("[KB/Engine] Embedding failed, falling back to fuzzy-only scoring", "error", err)
			return nil, make([][]float32, len(docs))
		}
		for n, i := range missIdx {
			docVecs[i] = vectors[n]
			e.embedCache.Add(contentHash(&docs[i]), vectors[n])
		}
		if queryVec == nil {
			queryVec = vectors[len(vectors)-1]
			e.embedCache.Add(queryKey, queryVec)
		}
	}

	return queryVec, docVecs
}

// contentHash 文档内容哈希（embedding 缓存 key）
func contentHash(doc *Document) [32]byte {
	return sha256.Sum256([]byte(doc.Title + "\n" + doc.Content))
}

// embeddingText 控制送入 embedding 的文本长度
func embeddingText(doc *Document) string {
	const maxBytes = 6000
	text := doc.Title + "\n" + doc.Content
	if len(text) > maxBytes {
		// 回退到 rune 边界，避免截出非法 UTF-8
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}
