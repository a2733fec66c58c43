package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"vitalguard-alarm/internal/config"
	"vitalguard-alarm/internal/evaluator"
	"vitalguard-alarm/internal/models"
	"vitalguard-alarm/internal/store"

	"go.uber.org/zap"
)

// PatientDirectory 提供患者展示信息
type PatientDirectory interface {
	GetPatientMeta(ctx context.Context, patientID string) (models.PatientMeta, error)
}

// AlertSink 报警日志的持久化目标（写穿）
// SaveAlert 必须是幂等的，并且不能把已抑制的记录改回未抑制
type AlertSink interface {
	SaveAlert(ctx context.Context, alert models.Alert) error
}

// AlertNotifier 新接受报警的推送通道
type AlertNotifier interface {
	Notify(ctx context.Context, alert models.Alert) error
}

// EngineOption 报警引擎可选项
type EngineOption func(*AlertEngine)

// WithSink 设置持久化目标
func WithSink(sink AlertSink) EngineOption {
	return func(e *AlertEngine) { e.sink = sink }
}

// WithNotifier 设置推送通道
func WithNotifier(n AlertNotifier) EngineOption {
	return func(e *AlertEngine) { e.notifier = n }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) EngineOption {
	return func(e *AlertEngine) { e.now = now }
}

// AlertEngine 报警引擎
// 一次评估：阈值评估 + 跳变检测 → 置信度过滤 → 抑制策略 → 追加报警日志
//
// 并发模型：
//   - 同一患者的评估串行（患者锁），保证跳变历史按顺序更新
//   - 抑制判定与日志追加在全局写锁内完成
//   - 持久化和推送在锁外进行，失败只记录日志
type AlertEngine struct {
	evaluator *evaluator.Evaluator
	policy    *SuppressionPolicy
	log       *store.AlertLog
	builder   *evaluator.AlertBuilder
	patients  PatientDirectory
	sink      AlertSink
	notifier  AlertNotifier
	now       func() time.Time
	logger    *zap.Logger

	mu           sync.Mutex
	patientLocks *keyedMutex
}

// NewAlertEngine 创建报警引擎
func NewAlertEngine(cfg *config.Config, patients PatientDirectory, logger *zap.Logger, opts ...EngineOption) *AlertEngine {
	e := &AlertEngine{
		evaluator:    evaluator.NewEvaluator(cfg, logger),
		policy:       NewSuppressionPolicy(cfg.Alarm.Cooldown),
		log:          store.NewAlertLog(),
		builder:      evaluator.NewAlertBuilder(),
		patients:     patients,
		now:          time.Now,
		logger:       logger,
		patientLocks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate 对一位患者执行一次评估
// 返回本次新建的报警（包括被抑制的），置信度不足的候选不会出现
// 输入不合法时返回 ValidationError，不写入任何状态
func (e *AlertEngine) Evaluate(ctx context.Context, patientID string, vitals models.VitalReading, risk models.RiskSample) ([]models.Alert, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, &models.ValidationError{Field: "patient_id", Reason: "missing"}
	}
	if err := vitals.Validate(); err != nil {
		return nil, err
	}
	if risk.PatientID == "" {
		risk.PatientID = patientID
	}
	if err := risk.Validate(); err != nil {
		return nil, err
	}
	if risk.PatientID != patientID {
		return nil, &models.ValidationError{
			Field:  "risk.patient_id",
			Reason: fmt.Sprintf("%s does not match patient %s", risk.PatientID, patientID),
		}
	}

	meta, err := e.patients.GetPatientMeta(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get patient meta: %w", err)
	}

	unlock := e.patientLocks.Lock(patientID)
	defer unlock()

	candidates, dropped := e.evaluator.Evaluate(patientID, vitals, risk)
	if len(candidates) == 0 {
		if dropped > 0 {
			e.logger.Debug("No alert candidates passed confidence filter",
				zap.String("patient_id", patientID),
				zap.Int("dropped", dropped),
			)
		}
		return nil, nil
	}

	created, err := e.apply(candidates, meta)
	if err != nil {
		return created, err
	}

	e.publish(ctx, created)
	return created, nil
}

// apply 在全局写锁内执行抑制判定并追加日志
func (e *AlertEngine) apply(candidates []models.AlertCandidate, meta models.PatientMeta) ([]models.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	seen := make(map[models.AlertKey]bool, len(candidates))
	created := make([]models.Alert, 0, len(candidates))

	for _, c := range candidates {
		d := e.policy.Decide(c, e.log, seen, now)

		var alert models.Alert
		if d.Accept {
			alert = e.builder.Build(c, meta, now)
		} else {
			alert = e.builder.BuildSuppressed(c, meta, now, d.Reason)
		}

		appended, err := e.log.Append(alert)
		if err != nil {
			return created, fmt.Errorf("failed to append alert: %w", err)
		}
		created = append(created, appended)

		if d.Accept {
			e.logger.Info("Alert triggered",
				zap.String("alert_id", appended.ID),
				zap.String("patient_id", appended.PatientID),
				zap.String("alert_type", string(appended.AlertType)),
				zap.String("message", appended.Message),
			)
		} else {
			e.logger.Info("Alert suppressed",
				zap.String("alert_id", appended.ID),
				zap.String("patient_id", appended.PatientID),
				zap.String("alert_type", string(appended.AlertType)),
				zap.String("reason", d.Reason),
			)
		}
	}

	return created, nil
}

// publish 持久化并推送新报警，失败不影响本次评估结果
func (e *AlertEngine) publish(ctx context.Context, alerts []models.Alert) {
	for _, a := range alerts {
		e.persist(ctx, a)
	}
	if e.notifier == nil {
		return
	}
	for _, a := range alerts {
		if a.Suppressed {
			continue
		}
		if err := e.notifier.Notify(ctx, a); err != nil {
			e.logger.Error("Failed to notify alert",
				zap.String("alert_id", a.ID),
				zap.String("patient_id", a.PatientID),
				zap.Error(err),
			)
		}
	}
}

func (e *AlertEngine) persist(ctx context.Context, a models.Alert) {
	if e.sink == nil {
		return
	}
	if err := e.sink.SaveAlert(ctx, a); err != nil {
		e.logger.Error("Failed to persist alert",
			zap.String("alert_id", a.ID),
			zap.Int64("seq", a.Seq),
			zap.Error(err),
		)
	}
}

// Suppress 医护人员手动抑制报警
// 已抑制的报警原样返回；不存在时返回 NotFoundError
func (e *AlertEngine) Suppress(ctx context.Context, alertID, reason string) (models.Alert, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = models.ReasonClinicianDefault
	}

	e.mu.Lock()
	alert, changed, err := e.log.MarkSuppressed(alertID, reason, e.now())
	e.mu.Unlock()
	if err != nil {
		return models.Alert{}, err
	}

	if changed {
		e.logger.Info("Alert suppressed by clinician",
			zap.String("alert_id", alert.ID),
			zap.String("patient_id", alert.PatientID),
			zap.String("reason", reason),
		)
		e.persist(ctx, alert)
	}
	return alert, nil
}

// Replay 加载持久化的报警日志，重建活跃索引
func (e *AlertEngine) Replay(records []models.Alert) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Replay(records)
}

// ResetRiskHistory 清空患者的风险历史，下一个样本视为第一个样本
func (e *AlertEngine) ResetRiskHistory(patientID string) {
	unlock := e.patientLocks.Lock(patientID)
	defer unlock()
	e.evaluator.ResetRiskHistory(patientID)
}

// RiskHistory 患者的风险历史
func (e *AlertEngine) RiskHistory(patientID string) []evaluator.RiskPoint {
	return e.evaluator.RiskHistory(patientID)
}

// Get 根据 ID 获取报警
func (e *AlertEngine) Get(alertID string) (models.Alert, error) {
	return e.log.Get(alertID)
}

// ListActive 全部活跃报警，新的在前
func (e *AlertEngine) ListActive() []models.Alert {
	return e.log.ListActive()
}

// ListActiveByPatient 某位患者的活跃报警
func (e *AlertEngine) ListActiveByPatient(patientID string) []models.Alert {
	return e.log.ListActiveByPatient(patientID)
}

// ListLog 完整报警日志，按时间正序（含已抑制）
func (e *AlertEngine) ListLog() []models.Alert {
	return e.log.ListAll()
}

// Counts 报警统计
func (e *AlertEngine) Counts() models.AlertCounts {
	return e.log.Counts()
}

// IndexSnapshot 当前活跃索引副本
func (e *AlertEngine) IndexSnapshot() map[models.AlertKey]store.ActiveEntry {
	return e.log.IndexSnapshot()
}
