package repository

import (
	"context"
	"database/sql"
	"fmt"

	"vitalguard-alarm/internal/models"

	"go.uber.org/zap"
)

// AlertEventsRepository 报警日志持久化（alert_events 表）
// 内存日志是权威数据，这里只做写穿和启动时重放
type AlertEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventsRepository 创建报警日志仓库
func NewAlertEventsRepository(db *sql.DB, logger *zap.Logger) *AlertEventsRepository {
	return &AlertEventsRepository{
		db:     db,
		logger: logger,
	}
}

const alertEventsSchema = `
	CREATE TABLE IF NOT EXISTS alert_events (
		alert_id           TEXT PRIMARY KEY,
		seq                BIGINT NOT NULL UNIQUE,
		patient_id         TEXT NOT NULL,
		patient_name       TEXT NOT NULL DEFAULT '',
		bed                TEXT NOT NULL DEFAULT '',
		alert_type         TEXT NOT NULL,
		metric             TEXT,
		message            TEXT NOT NULL,
		risk_score         DOUBLE PRECISION NOT NULL,
		confidence         DOUBLE PRECISION NOT NULL,
		sample_time        TIMESTAMPTZ NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL,
		suppressed         BOOLEAN NOT NULL DEFAULT FALSE,
		suppressed_reason  TEXT,
		suppressed_at      TIMESTAMPTZ,
		suppression_source TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_alert_events_patient ON alert_events (patient_id, alert_type);
`

// EnsureSchema 建表（已存在则跳过）
func (r *AlertEventsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, alertEventsSchema); err != nil {
		return fmt.Errorf("failed to create alert_events table: %w", err)
	}
	return nil
}

// SaveAlert 写入或更新一条报警
// 冲突时只更新抑制相关字段，且已抑制的记录不会被改回未抑制，重复写入和乱序写入都是安全的
func (r *AlertEventsRepository) SaveAlert(ctx context.Context, a models.Alert) error {
	if a.ID == "" {
		return fmt.Errorf("alert_id is required")
	}

	query := `
		INSERT INTO alert_events (
			alert_id, seq, patient_id, patient_name, bed,
			alert_type, metric, message, risk_score, confidence,
			sample_time, created_at, suppressed, suppressed_reason, suppressed_at,
			suppression_source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (alert_id) DO UPDATE SET
			suppressed = EXCLUDED.suppressed,
			suppressed_reason = EXCLUDED.suppressed_reason,
			suppressed_at = EXCLUDED.suppressed_at,
			suppression_source = EXCLUDED.suppression_source
		WHERE NOT alert_events.suppressed
	`

	var reason sql.NullString
	if a.SuppressedReason != nil {
		reason = sql.NullString{String: *a.SuppressedReason, Valid: true}
	}
	var suppressedAt sql.NullTime
	if a.SuppressedAt != nil {
		suppressedAt = sql.NullTime{Time: *a.SuppressedAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.Seq,
		a.PatientID,
		a.PatientName,
		a.Bed,
		string(a.AlertType),
		nullString(string(a.Metric)),
		a.Message,
		a.RiskScore,
		a.Confidence,
		a.Timestamp,
		a.CreatedAt,
		a.Suppressed,
		reason,
		suppressedAt,
		nullString(string(a.SuppressionSource)),
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// ListAll 按序号读取全部报警（用于启动重放）
func (r *AlertEventsRepository) ListAll(ctx context.Context) ([]models.Alert, error) {
	query := `
		SELECT
			alert_id, seq, patient_id, patient_name, bed,
			alert_type, metric, message, risk_score, confidence,
			sample_time, created_at, suppressed, suppressed_reason, suppressed_at,
			suppression_source
		FROM alert_events
		ORDER BY seq ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var alertType string
		var metric, reason, source sql.NullString
		var suppressedAt sql.NullTime

		if err := rows.Scan(
			&a.ID,
			&a.Seq,
			&a.PatientID,
			&a.PatientName,
			&a.Bed,
			&alertType,
			&metric,
			&a.Message,
			&a.RiskScore,
			&a.Confidence,
			&a.Timestamp,
			&a.CreatedAt,
			&a.Suppressed,
			&reason,
			&suppressedAt,
			&source,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}

		a.AlertType = models.AlertType(alertType)
		if metric.Valid {
			a.Metric = models.Metric(metric.String)
		}
		if reason.Valid {
			s := reason.String
			a.SuppressedReason = &s
		}
		if suppressedAt.Valid {
			t := suppressedAt.Time
			a.SuppressedAt = &t
		}
		if source.Valid {
			a.SuppressionSource = models.SuppressionSource(source.String)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert events: %w", err)
	}

	r.logger.Debug("Loaded alert events",
		zap.Int("count", len(alerts)),
	)
	return alerts, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
