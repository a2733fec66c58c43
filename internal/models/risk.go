package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskGreen  RiskLevel = "green"  // [0,40)
	RiskYellow RiskLevel = "yellow" // [40,70)
	RiskRed    RiskLevel = "red"    // [70,100]
)

// ClassifyRisk 按风险分值计算等级
func ClassifyRisk(score float64) RiskLevel {
	switch {
	case score < 40:
		return RiskGreen
	case score < 70:
		return RiskYellow
	default:
		return RiskRed
	}
}

// RiskSample 预测服务返回的一次风险样本
type RiskSample struct {
	PatientID  string    `json:"patient_id"`
	RiskScore  float64   `json:"risk_score"`
	RiskLevel  RiskLevel `json:"risk_level"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate 校验样本；分值与置信度越界直接拒绝，不做截断
// risk_level 为空时按分值补齐，非空时必须与分值一致
func (r *RiskSample) Validate() error {
	if r == nil {
		return &ValidationError{Field: "risk", Reason: "missing"}
	}
	if strings.TrimSpace(r.PatientID) == "" {
		return &ValidationError{Field: "risk.patient_id", Reason: "missing"}
	}
	if math.IsNaN(r.RiskScore) || r.RiskScore < 0 || r.RiskScore > 100 {
		return &ValidationError{Field: "risk.risk_score", Reason: formatOutOfRange(r.RiskScore, 0, 100)}
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return &ValidationError{Field: "risk.confidence", Reason: formatOutOfRange(r.Confidence, 0, 1)}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "risk.timestamp", Reason: "missing"}
	}
	derived := ClassifyRisk(r.RiskScore)
	if r.RiskLevel == "" {
		r.RiskLevel = derived
	} else if r.RiskLevel != derived {
		return &ValidationError{
			Field:  "risk.risk_level",
			Reason: fmt.Sprintf("%s does not match score %.1f (expected %s)", r.RiskLevel, r.RiskScore, derived),
		}
	}
	return nil
}

func formatOutOfRange(v, lo, hi float64) string {
	return fmt.Sprintf("%g out of range [%g, %g]", v, lo, hi)
}
