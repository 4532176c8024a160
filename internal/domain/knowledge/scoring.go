package knowledge

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
)

// ── 语义相似度 ─────────────────────────────────────────────────

// cosineSimilarity 余弦相似度，映射到 [0,1]
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// [-1,1] → [0,1]
	return (cos + 1) / 2
}

// ── 模糊词法匹配 ───────────────────────────────────────────────

// fuzzyMatch 词重叠 + 标题编辑距离的词法得分
type fuzzyMatch struct {
	Score        float64
	Overlap      []string // 命中的查询词
	TitleSimilar float64
}

func fuzzyScore(queryTokens []string, queryLower string, doc *Document) fuzzyMatch {
	if len(queryTokens) == 0 {
		return fuzzyMatch{}
	}

	docText := strings.ToLower(doc.Title + " " + doc.Content)
	var overlap []string
	for _, t := range queryTokens {
		if strings.Contains(docText, t) {
			overlap = append(overlap, t)
		}
	}
	overlapRatio := float64(len(overlap)) / float64(len(queryTokens))

	titleSim := editSimilarity(queryLower, strings.ToLower(doc.Title))

	return fuzzyMatch{
		Score:        0.7*overlapRatio + 0.3*titleSim,
		Overlap:      overlap,
		TitleSimilar: titleSim,
	}
}

// editSimilarity 1 - 归一化 Levenshtein 距离
func editSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	// 编辑距离对超长文本无意义，截断后比较
	const maxLen = 128
	if len(a) > maxLen {
		a = a[:maxLen]
	}
	if len(b) > maxLen {
		b = b[:maxLen]
	}
	dist := levenshtein.ComputeDistance(a, b)
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	if longer == 0 {
		return 0
	}
	sim := 1 - float64(dist)/float64(longer)
	if sim < 0 {
		sim = 0
	}
	return sim
}

// ── 元数据加权 ─────────────────────────────────────────────────

// metadataScore 时效 + 配置优先级 + 历史成功率
func metadataScore(doc *Document, now time.Time) float64 {
	recency := 0.2 // 无更新时间：中性偏低
	if !doc.LastUpdated.IsZero() {
		age := now.Sub(doc.LastUpdated)
		switch {
		case age < 7*24*time.Hour:
			recency = 1.0
		case age < 30*24*time.Hour:
			recency = 0.7
		case age < 90*24*time.Hour:
			recency = 0.4
		case age < 365*24*time.Hour:
			recency = 0.2
		default:
			recency = 0.05
		}
	}

	priority := 0.3
	switch strings.ToLower(doc.Metadata["priority"]) {
	case "critical", "high":
		priority = 1.0
	case "medium":
		priority = 0.6
	case "low":
		priority = 0.3
	}

	success := 0.5
	if v, err := strconv.ParseFloat(doc.Metadata["success_rate"], 64); err == nil && v >= 0 && v <= 1 {
		success = v
	}

	return 0.5*recency + 0.3*priority + 0.2*success
}

// ── 排序与去重 ─────────────────────────────────────────────────

// sortRanked 分数降序；同分按 last_updated 降序，再按源优先级降序，
// 最后按 id 升序，保证完全确定的输出顺序。
func sortRanked(results []RankedResult, sourcePriority map[string]int) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.ConfidenceScore != b.ConfidenceScore {
			return a.ConfidenceScore > b.ConfidenceScore
		}
		if !a.Document.LastUpdated.Equal(b.Document.LastUpdated) {
			return a.Document.LastUpdated.After(b.Document.LastUpdated)
		}
		pa, pb := sourcePriority[a.Document.Source], sourcePriority[b.Document.Source]
		if pa != pb {
			return pa > pb
		}
		return a.Document.ID < b.Document.ID
	})
}

// dedupeByID 同一逻辑文档可能被多个源返回：按 id 去重保留最高分
func dedupeByID(results []RankedResult) []RankedResult {
	best := make(map[string]int, len(results)) // id → index in out
	out := results[:0]
	for _, r := range results {
		idx, seen := best[r.Document.ID]
		if !seen {
			best[r.Document.ID] = len(out)
			out = append(out, r)
			continue
		}
		if r.ConfidenceScore > out[idx].ConfidenceScore {
			out[idx] = r
		}
	}
	return out
}

func reasonSemantic(score float64) string {
	return fmt.Sprintf("semantic match %.2f", score)
}

func reasonTitle(sim float64) string {
	return fmt.Sprintf("title similarity %.2f", sim)
}

func reasonOverlap(tokens []string) string {
	const maxShown = 5
	if len(tokens) > maxShown {
		tokens = tokens[:maxShown]
	}
	return "keyword overlap: " + strings.Join(tokens, ",")
}
