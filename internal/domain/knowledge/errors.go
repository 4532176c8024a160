package knowledge

import "errors"

// ErrInvalidQuery 查询校验失败（空串、非法上下文），在任何
// adapter/缓存工作之前同步拒绝，是唯一直接暴露给调用方的校验错误。
var ErrInvalidQuery = errors.New("invalid query")

// validSeverities 合法严重级别
var validSeverities = map[Severity]bool{
	"":               true,
	SeverityCritical: true,
	SeverityHigh:     true,
	SeverityMedium:   true,
	SeverityLow:      true,
}
