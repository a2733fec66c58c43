package evaluator

import "vitalguard-alarm/internal/models"

// ConfidenceFilter 丢弃模型置信度低于下限的候选报警
// 被丢弃的候选不会写入报警日志（与“重复抑制”不同，后者仍记录为 suppressed）
type ConfidenceFilter struct {
	minConfidence float64
}

// NewConfidenceFilter 创建置信度过滤器
func NewConfidenceFilter(minConfidence float64) *ConfidenceFilter {
	return &ConfidenceFilter{minConfidence: minConfidence}
}

// Allow 置信度 >= 下限时放行
func (f *ConfidenceFilter) Allow(c models.AlertCandidate) bool {
	return c.Confidence >= f.minConfidence
}

// Filter 返回放行和丢弃的候选（保持原有顺序）
func (f *ConfidenceFilter) Filter(candidates []models.AlertCandidate) (kept, dropped []models.AlertCandidate) {
	for _, c := range candidates {
		if f.Allow(c) {
			kept = append(kept, c)
		} else {
			dropped = append(dropped, c)
		}
	}
	return kept, dropped
}
