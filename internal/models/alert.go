package models

import "time"

// AlertType 报警类型
type AlertType string

const (
	AlertTypeThreshold  AlertType = "threshold"
	AlertTypeSpike      AlertType = "spike"
	AlertTypeConfidence AlertType = "confidence"
)

// AlertTypeOrder 同一评估周期内候选报警的处理顺序
var AlertTypeOrder = []AlertType{AlertTypeThreshold, AlertTypeSpike, AlertTypeConfidence}

// 抑制原因
const (
	ReasonDuplicateWithinCooldown = "duplicate within cooldown"
	ReasonDuplicateInSameTick     = "duplicate in same tick"
	ReasonClinicianDefault        = "suppressed by clinician"
)

// SuppressionSource 抑制来源
type SuppressionSource string

const (
	// SuppressedByPolicy 创建时即被抑制策略判定为重复
	SuppressedByPolicy SuppressionSource = "policy"
	// SuppressedByClinician 接受后被医护人员手动抑制
	SuppressedByClinician SuppressionSource = "clinician"
)

// AlertCandidate 检测器产生的候选报警（尚未经过置信度过滤和抑制判定）
type AlertCandidate struct {
	PatientID  string    `json:"patient_id"`
	AlertType  AlertType `json:"alert_type"`
	Metric     Metric    `json:"metric,omitempty"`
	Message    string    `json:"message"`
	RiskScore  float64   `json:"risk_score"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Alert 报警记录（报警日志中的一行）
// 除医护人员手动抑制外，创建后不再修改
type Alert struct {
	ID                string            `json:"id"`
	Seq               int64             `json:"seq"`
	PatientID         string            `json:"patient_id"`
	PatientName       string            `json:"patient_name"`
	Bed               string            `json:"bed"`
	AlertType         AlertType         `json:"alert_type"`
	Metric            Metric            `json:"metric,omitempty"`
	Message           string            `json:"message"`
	RiskScore         float64           `json:"risk_score"`
	Confidence        float64           `json:"confidence"`
	Timestamp         time.Time         `json:"timestamp"`
	CreatedAt         time.Time         `json:"created_at"`
	Suppressed        bool              `json:"suppressed"`
	SuppressedReason  *string           `json:"suppressed_reason"`
	SuppressedAt      *time.Time        `json:"suppressed_at,omitempty"`
	SuppressionSource SuppressionSource `json:"suppression_source,omitempty"`
}

// AlertKey 活跃报警索引键
type AlertKey struct {
	PatientID string
	AlertType AlertType
}

// Key 返回该报警的索引键
func (a *Alert) Key() AlertKey {
	return AlertKey{PatientID: a.PatientID, AlertType: a.AlertType}
}

// AcceptedAtCreation 创建时是否被接受为活跃报警（之后可能被手动抑制）
func (a *Alert) AcceptedAtCreation() bool {
	return !a.Suppressed || a.SuppressionSource == SuppressedByClinician
}

// AlertCounts 报警统计
type AlertCounts struct {
	Triggered  int `json:"triggered"`
	Suppressed int `json:"suppressed"`
	Active     int `json:"active"`
}
