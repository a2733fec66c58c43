package consumer

import (
	"context"
	"fmt"
	"time"

	"vitalguard-alarm/internal/config"
	"vitalguard-alarm/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PatientRoster 需要轮询评估的患者列表
type PatientRoster interface {
	ListPatientIDs(ctx context.Context) ([]string, error)
}

// VitalsSource 生命体征来源
type VitalsSource interface {
	GetVitals(ctx context.Context, patientID string) (*models.VitalReading, error)
}

// Predictor 风险预测来源
type Predictor interface {
	Predict(ctx context.Context, patientID string) (*models.RiskSample, error)
}

// AlertCache 患者活跃报警缓存
type AlertCache interface {
	UpdateAlertCache(ctx context.Context, patientID string, alerts []models.Alert) error
}

// Engine 报警引擎
type Engine interface {
	Evaluate(ctx context.Context, patientID string, vitals models.VitalReading, risk models.RiskSample) ([]models.Alert, error)
	ListActiveByPatient(patientID string) []models.Alert
}

// RoundStats 一轮轮询的统计
type RoundStats struct {
	Patients  int
	Evaluated int
	Skipped   int
	Failed    int
	Created   int
}

// TickRunner 定时轮询：对名册中的每位患者读取生命体征和风险预测，执行一次评估并刷新缓存
// 获取数据失败视为本轮没有发生评估
type TickRunner struct {
	config    *config.Config
	roster    PatientRoster
	vitals    VitalsSource
	predictor Predictor
	cache     AlertCache
	engine    Engine
	logger    *zap.Logger
}

// NewTickRunner 创建轮询器
func NewTickRunner(
	cfg *config.Config,
	roster PatientRoster,
	vitals VitalsSource,
	predictor Predictor,
	cache AlertCache,
	engine Engine,
	logger *zap.Logger,
) *TickRunner {
	return &TickRunner{
		config:    cfg,
		roster:    roster,
		vitals:    vitals,
		predictor: predictor,
		cache:     cache,
		engine:    engine,
		logger:    logger,
	}
}

// Start 启动轮询，直到 ctx 取消
func (r *TickRunner) Start(ctx context.Context) error {
	r.logger.Info("Tick runner started",
		zap.Duration("poll_interval", r.config.Alarm.PollInterval),
		zap.Int("batch_size", r.config.Alarm.Evaluation.BatchSize),
	)

	ticker := time.NewTicker(r.config.Alarm.PollInterval)
	defer ticker.Stop()

	// 立即执行一次
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("Failed to evaluate patients on startup",
			zap.Error(err),
		)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Tick runner stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("Failed to evaluate patients",
					zap.Error(err),
				)
			}
		}
	}
}

// RunOnce 执行一轮评估
func (r *TickRunner) RunOnce(ctx context.Context) (RoundStats, error) {
	ids, err := r.roster.ListPatientIDs(ctx)
	if err != nil {
		return RoundStats{}, fmt.Errorf("failed to list patients: %w", err)
	}

	stats := RoundStats{Patients: len(ids)}
	batchSize := r.config.Alarm.Evaluation.BatchSize
	if batchSize <= 0 {
		batchSize = len(ids)
	}

	for i := 0; i < len(ids); i += batchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		r.evaluateBatch(ctx, ids[i:end], &stats)
	}

	r.logger.Debug("Evaluation round finished",
		zap.Int("patients", stats.Patients),
		zap.Int("evaluated", stats.Evaluated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("created", stats.Created),
	)
	return stats, nil
}

type tickOutcome int

const (
	outcomeEvaluated tickOutcome = iota
	outcomeSkipped
	outcomeFailed
)

// evaluateBatch 批内并发评估，单个患者的失败不影响其他患者
func (r *TickRunner) evaluateBatch(ctx context.Context, ids []string, stats *RoundStats) {
	outcomes := make([]tickOutcome, len(ids))
	created := make([]int, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	if n := r.config.Alarm.Evaluation.Concurrency; n > 0 {
		g.SetLimit(n)
	}
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			outcomes[i], created[i] = r.evaluatePatient(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	for i := range ids {
		switch outcomes[i] {
		case outcomeEvaluated:
			stats.Evaluated++
		case outcomeSkipped:
			stats.Skipped++
		case outcomeFailed:
			stats.Failed++
		}
		stats.Created += created[i]
	}
}

func (r *TickRunner) evaluatePatient(ctx context.Context, patientID string) (tickOutcome, int) {
	vitals, err := r.vitals.GetVitals(ctx, patientID)
	if err != nil {
		r.logger.Debug("Vitals unavailable, skipping patient",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return outcomeSkipped, 0
	}

	risk, err := r.predictor.Predict(ctx, patientID)
	if err != nil {
		r.logger.Warn("Prediction unavailable, skipping patient",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return outcomeSkipped, 0
	}

	alerts, err := r.engine.Evaluate(ctx, patientID, *vitals, *risk)
	if err != nil {
		r.logger.Error("Failed to evaluate patient",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return outcomeFailed, 0
	}

	if r.cache != nil {
		active := r.engine.ListActiveByPatient(patientID)
		if err := r.cache.UpdateAlertCache(ctx, patientID, active); err != nil {
			r.logger.Error("Failed to update alert cache",
				zap.String("patient_id", patientID),
				zap.Error(err),
			)
		}
	}

	return outcomeEvaluated, len(alerts)
}
