package evaluator

import (
	"time"

	"vitalguard-alarm/internal/models"

	"github.com/google/uuid"
)

// AlertBuilder 由候选报警构建报警记录
type AlertBuilder struct {
	newID func() string
}

// NewAlertBuilder 创建报警构建器（UUIDv4 作为报警 ID）
func NewAlertBuilder() *AlertBuilder {
	return &AlertBuilder{
		newID: func() string { return uuid.New().String() },
	}
}

// Build 构建被接受的（活跃）报警
func (b *AlertBuilder) Build(c models.AlertCandidate, meta models.PatientMeta, createdAt time.Time) models.Alert {
	return models.Alert{
		ID:          b.newID(),
		PatientID:   c.PatientID,
		PatientName: meta.Name,
		Bed:         meta.Bed,
		AlertType:   c.AlertType,
		Metric:      c.Metric,
		Message:     c.Message,
		RiskScore:   c.RiskScore,
		Confidence:  c.Confidence,
		Timestamp:   c.Timestamp,
		CreatedAt:   createdAt,
	}
}

// BuildSuppressed 构建创建时即被抑制的报警
func (b *AlertBuilder) BuildSuppressed(c models.AlertCandidate, meta models.PatientMeta, createdAt time.Time, reason string) models.Alert {
	alert := b.Build(c, meta, createdAt)
	alert.Suppressed = true
	alert.SuppressedReason = &reason
	at := createdAt
	alert.SuppressedAt = &at
	alert.SuppressionSource = models.SuppressedByPolicy
	return alert
}
