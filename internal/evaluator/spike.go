package evaluator

import (
	"fmt"
	"sync"
	"time"

	"vitalguard-alarm/internal/models"
)

// RiskPoint 风险历史中的一个点
type RiskPoint struct {
	RiskScore float64   `json:"risk_score"`
	Timestamp time.Time `json:"timestamp"`
}

// SpikeDetector 比较同一患者相邻两次风险分值，检测突然恶化
// 每位患者只保留最近 size 个样本
type SpikeDetector struct {
	threshold float64
	size      int

	mu      sync.Mutex
	history map[string][]RiskPoint
}

// NewSpikeDetector 创建跳变检测器
func NewSpikeDetector(threshold float64, size int) *SpikeDetector {
	if size < 2 {
		size = 2
	}
	return &SpikeDetector{
		threshold: threshold,
		size:      size,
		history:   make(map[string][]RiskPoint),
	}
}

// Observe 记录新样本；上升幅度 >= threshold 时返回 spike 候选
// 患者的第一个样本永远不会触发
func (d *SpikeDetector) Observe(sample models.RiskSample) *models.AlertCandidate {
	d.mu.Lock()
	points := d.history[sample.PatientID]
	var prev *RiskPoint
	if len(points) > 0 {
		p := points[len(points)-1]
		prev = &p
	}
	points = append(points, RiskPoint{RiskScore: sample.RiskScore, Timestamp: sample.Timestamp})
	if len(points) > d.size {
		points = points[len(points)-d.size:]
	}
	d.history[sample.PatientID] = points
	d.mu.Unlock()

	if prev == nil {
		return nil
	}

	delta := sample.RiskScore - prev.RiskScore
	if delta < d.threshold {
		return nil
	}

	return &models.AlertCandidate{
		PatientID: sample.PatientID,
		AlertType: models.AlertTypeSpike,
		Message: fmt.Sprintf("Risk Spike: rising +%.1f points (%.1f%% -> %.1f%%)",
			delta, prev.RiskScore, sample.RiskScore),
		RiskScore:  sample.RiskScore,
		Confidence: sample.Confidence,
		Timestamp:  sample.Timestamp,
	}
}

// History 返回患者风险历史的副本（旧 → 新）
func (d *SpikeDetector) History(patientID string) []RiskPoint {
	d.mu.Lock()
	defer d.mu.Unlock()

	points := d.history[patientID]
	out := make([]RiskPoint, len(points))
	copy(out, points)
	return out
}

// Reset 清空患者的风险历史，下一个样本视为第一个样本
func (d *SpikeDetector) Reset(patientID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, patientID)
}
