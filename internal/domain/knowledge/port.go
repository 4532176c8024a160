package knowledge

import "context"

// SourceSearcher defines the multi-source fan-out required by Processor.
type SourceSearcher interface {
	SearchAll(ctx context.Context, query string, strat *Strategy) SearchOutcome
}

// ResultCacheStore defines cache operations required by Processor.
// GetOrCompute 在未命中时执行 compute，并保证同 key 并发请求只计算一次。
// 返回值第二项表示是否命中缓存。
type ResultCacheStore interface {
	GetOrCompute(ctx context.Context, key string, contentType string, compute func(context.Context) ([]byte, error)) ([]byte, bool, error)
	Invalidate(ctx context.Context, key string)
}

// FeedbackStore 反馈持久化（外部协作方）
type FeedbackStore interface {
	Record(ctx context.Context, rec *FeedbackRecord) error
}
