package evaluator

import (
	"sort"

	"vitalguard-alarm/internal/config"
	"vitalguard-alarm/internal/models"

	"go.uber.org/zap"
)

// Evaluator 组合阈值评估、跳变检测和置信度过滤，产出一个评估周期的候选报警
type Evaluator struct {
	threshold *ThresholdEvaluator
	spike     *SpikeDetector
	filter    *ConfidenceFilter
	logger    *zap.Logger
}

// NewEvaluator 创建评估器
func NewEvaluator(cfg *config.Config, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		threshold: NewThresholdEvaluator(cfg.Alarm.Thresholds),
		spike:     NewSpikeDetector(cfg.Alarm.Spike.Threshold, cfg.Alarm.Spike.HistorySize),
		filter:    NewConfidenceFilter(cfg.Alarm.MinConfidence),
		logger:    logger,
	}
}

// Evaluate 评估一次已校验的读数和风险样本
// 返回通过置信度过滤的候选（threshold 在前，spike 在后）以及被丢弃的候选数
// 跳变历史无论置信度如何都会更新
func (e *Evaluator) Evaluate(patientID string, vitals models.VitalReading, risk models.RiskSample) ([]models.AlertCandidate, int) {
	candidates := e.threshold.Evaluate(patientID, vitals, risk)
	if spike := e.spike.Observe(risk); spike != nil {
		candidates = append(candidates, *spike)
	}
	sortCandidates(candidates)

	kept, dropped := e.filter.Filter(candidates)
	for _, c := range dropped {
		e.logger.Debug("Alert candidate dropped by confidence filter",
			zap.String("patient_id", patientID),
			zap.String("alert_type", string(c.AlertType)),
			zap.Float64("confidence", c.Confidence),
			zap.String("message", c.Message),
		)
	}

	return kept, len(dropped)
}

// RiskHistory 返回患者的风险历史
func (e *Evaluator) RiskHistory(patientID string) []RiskPoint {
	return e.spike.History(patientID)
}

// ResetRiskHistory 清空患者的风险历史
func (e *Evaluator) ResetRiskHistory(patientID string) {
	e.spike.Reset(patientID)
}

// sortCandidates 按 models.AlertTypeOrder 稳定排序，同类型保持产生顺序
func sortCandidates(candidates []models.AlertCandidate) {
	rank := make(map[models.AlertType]int, len(models.AlertTypeOrder))
	for i, t := range models.AlertTypeOrder {
		rank[t] = i
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return rank[candidates[i].AlertType] < rank[candidates[j].AlertType]
	})
}
