package knowledge

// ScoringWeights 融合评分权重
type ScoringWeights struct {
	Semantic float64 `json:"semantic"`
	Fuzzy    float64 `json:"fuzzy"`
	Metadata float64 `json:"metadata"`
}

// Normalized 权重之和超过 1 时按比例归一
func (w ScoringWeights) Normalized() ScoringWeights {
	sum := w.Semantic + w.Fuzzy + w.Metadata
	if sum <= 1 || sum == 0 {
		return w
	}
	return ScoringWeights{
		Semantic: w.Semantic / sum,
		Fuzzy:    w.Fuzzy / sum,
		Metadata: w.Metadata / sum,
	}
}

// Config 检索引擎配置
type Config struct {
	MinSimilarityThreshold float64        `json:"min_similarity_threshold"`
	MaxResults             int            `json:"max_results"`
	Weights                ScoringWeights `json:"scoring_weights"`

	// Embedding（可选，不配置时退化为纯模糊匹配）
	EmbeddingProvider           string `json:"embedding_provider"`
	EmbeddingModel              string `json:"embedding_model"`
	EmbeddingDims               int    `json:"embedding_dims"`
	EmbeddingBatchSize          int    `json:"embedding_batch_size"`
	EmbeddingHTTPTimeoutSeconds int    `json:"embedding_http_timeout_seconds"`
	EmbedCacheSize              int    `json:"embed_cache_size"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MinSimilarityThreshold: 0.3,
		MaxResults:             10,
		Weights: ScoringWeights{
			Semantic: 0.6,
			Fuzzy:    0.3,
			Metadata: 0.1,
		},
		EmbeddingBatchSize:          32,
		EmbeddingHTTPTimeoutSeconds: 30,
		EmbedCacheSize:              2048,
	}
}

// HasEmbedding 是否配置了 embedding
func (c *Config) HasEmbedding() bool {
	return c.EmbeddingProvider != "" && c.EmbeddingModel != ""
}
