package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vitalguard-alarm/internal/models"
	"vitalguard-alarm/internal/repository"
	"vitalguard-alarm/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePredictor struct {
	mu      sync.Mutex
	samples map[string]models.RiskSample
	fail    map[string]bool
}

func (p *fakePredictor) Predict(_ context.Context, patientID string) (*models.RiskSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[patientID] {
		return nil, errors.New("prediction service unavailable")
	}
	s, ok := p.samples[patientID]
	if !ok {
		s = models.RiskSample{PatientID: patientID, RiskScore: 20, Confidence: 0.9, Timestamp: t0}
	}
	return &s, nil
}

func (p *fakePredictor) set(patientID string, score, confidence float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples[patientID] = models.RiskSample{PatientID: patientID, RiskScore: score, Confidence: confidence, Timestamp: t0}
}

func normalReading() models.VitalReading {
	return models.VitalReading{
		HeartRate:       80,
		SpO2:            97,
		Systolic:        120,
		Diastolic:       80,
		RespirationRate: 16,
		Temperature:     37.0,
		Timestamp:       t0,
	}
}

func newTestRunner(t *testing.T) (*TickRunner, *fakePredictor, *CacheManager, *service.AlertEngine, func(string, models.VitalReading)) {
	mr, _, cacheManager := setupTestRedis(t)

	cfg := testCacheConfig()
	cfg.Alarm.Thresholds = models.DefaultThresholds()
	cfg.Alarm.MinConfidence = 0.75
	cfg.Alarm.Cooldown = 5 * time.Minute
	cfg.Alarm.Spike.Threshold = 20
	cfg.Alarm.Spike.HistorySize = 5
	cfg.Alarm.PollInterval = 10 * time.Millisecond
	cfg.Alarm.Evaluation.BatchSize = 3
	cfg.Alarm.Evaluation.Concurrency = 2

	directory := repository.NewStaticPatientDirectory(repository.DefaultPatients())
	engine := service.NewAlertEngine(cfg, directory, zap.NewNop())
	predictor := &fakePredictor{samples: map[string]models.RiskSample{}, fail: map[string]bool{}}

	runner := NewTickRunner(cfg, directory, cacheManager, predictor, cacheManager, engine, zap.NewNop())
	write := func(patientID string, v models.VitalReading) { writeVitals(t, mr, patientID, v) }
	return runner, predictor, cacheManager, engine, write
}

func TestTickRunner_RunOnce(t *testing.T) {
	runner, predictor, cacheManager, engine, write := newTestRunner(t)
	ctx := context.Background()

	tachy := normalReading()
	tachy.HeartRate = 145
	write("P001", tachy)
	write("P002", normalReading())
	write("P003", normalReading())
	write("P004", normalReading())
	// P005-P008 没有生命体征，跳过
	predictor.fail["P004"] = true

	stats, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Patients)
	assert.Equal(t, 3, stats.Evaluated)
	assert.Equal(t, 5, stats.Skipped)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 1, stats.Created)

	active := engine.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, "P001", active[0].PatientID)
	assert.Equal(t, "Arjun Mehta", active[0].PatientName)
	assert.Equal(t, "B01", active[0].Bed)

	cached, err := cacheManager.GetAlertCache(ctx, "P001")
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, active[0].ID, cached[0].ID)

	cached, err = cacheManager.GetAlertCache(ctx, "P002")
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestTickRunner_SpikeAcrossRounds(t *testing.T) {
	runner, predictor, _, engine, write := newTestRunner(t)
	ctx := context.Background()

	write("P002", normalReading())
	predictor.set("P002", 30, 0.9)
	_, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, engine.ListActive())

	predictor.set("P002", 55, 0.9)
	stats, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)

	active := engine.ListActiveByPatient("P002")
	require.Len(t, active, 1)
	assert.Equal(t, models.AlertTypeSpike, active[0].AlertType)
}

func TestTickRunner_InvalidSampleCountsAsFailure(t *testing.T) {
	runner, predictor, _, engine, write := newTestRunner(t)

	write("P001", normalReading())
	predictor.set("P001", 150, 0.9)

	stats, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Empty(t, engine.ListLog())
}

func TestTickRunner_StartStopsOnCancel(t *testing.T) {
	runner, _, _, _, write := newTestRunner(t)
	write("P001", normalReading())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tick runner did not stop")
	}
}
