package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"vitalguard-alarm/internal/config"
	"vitalguard-alarm/internal/models"
	"vitalguard-alarm/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDirectory map[string]models.PatientMeta

func (d fakeDirectory) GetPatientMeta(_ context.Context, patientID string) (models.PatientMeta, error) {
	meta, ok := d[patientID]
	if !ok {
		return models.PatientMeta{}, models.ErrUnknownPatient
	}
	return meta, nil
}

type recordingSink struct {
	mu    sync.Mutex
	saved []models.Alert
	err   error
}

func (s *recordingSink) SaveAlert(_ context.Context, a models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, a)
	return s.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a models.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, a)
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Alarm.Thresholds = models.DefaultThresholds()
	cfg.Alarm.MinConfidence = 0.75
	cfg.Alarm.Cooldown = 5 * time.Minute
	cfg.Alarm.Spike.Threshold = 20
	cfg.Alarm.Spike.HistorySize = 5
	return cfg
}

func testDirectory() fakeDirectory {
	d := fakeDirectory{}
	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("P%03d", i)
		d[id] = models.PatientMeta{PatientID: id, Name: "Patient " + id, Bed: fmt.Sprintf("B%02d", i)}
	}
	return d
}

func newTestEngine(opts ...EngineOption) (*AlertEngine, *fakeClock) {
	clock := &fakeClock{now: t0}
	opts = append([]EngineOption{WithClock(clock.Now)}, opts...)
	return NewAlertEngine(testConfig(), testDirectory(), zap.NewNop(), opts...), clock
}

func normalVitals() models.VitalReading {
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

func vitalsWithHR(hr float64) models.VitalReading {
	v := normalVitals()
	v.HeartRate = hr
	return v
}

func risk(patientID string, score, confidence float64) models.RiskSample {
	return models.RiskSample{
		PatientID:  patientID,
		RiskScore:  score,
		Confidence: confidence,
		Timestamp:  t0,
	}
}

func TestAlertEngine_ThresholdThenDuplicateWithinCooldown(t *testing.T) {
	engine, clock := newTestEngine()
	ctx := context.Background()

	first, err := engine.Evaluate(ctx, "P001", vitalsWithHR(145), risk("P001", 30, 0.9))
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, models.AlertTypeThreshold, first[0].AlertType)
	assert.Contains(t, first[0].Message, "145")
	assert.Contains(t, first[0].Message, "Heart Rate")
	assert.False(t, first[0].Suppressed)
	assert.Nil(t, first[0].SuppressedReason)
	assert.Equal(t, "Patient P001", first[0].PatientName)
	assert.Equal(t, "B01", first[0].Bed)

	clock.Advance(time.Second)
	second, err := engine.Evaluate(ctx, "P001", vitalsWithHR(146), risk("P001", 31, 0.9))
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.True(t, second[0].Suppressed)
	require.NotNil(t, second[0].SuppressedReason)
	assert.Equal(t, models.ReasonDuplicateWithinCooldown, *second[0].SuppressedReason)

	active := engine.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, first[0].ID, active[0].ID)
	assert.Len(t, engine.ListLog(), 2)
}

func TestAlertEngine_ReplacementAfterCooldown(t *testing.T) {
	engine, clock := newTestEngine()
	ctx := context.Background()

	first, err := engine.Evaluate(ctx, "P001", vitalsWithHR(145), risk("P001", 30, 0.9))
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	second, err := engine.Evaluate(ctx, "P001", vitalsWithHR(150), risk("P001", 30, 0.9))
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.False(t, second[0].Suppressed)

	active := engine.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, second[0].ID, active[0].ID)

	// 旧报警仍在日志中且未被修改
	old, err := engine.Get(first[0].ID)
	require.NoError(t, err)
	assert.False(t, old.Suppressed)
}

func TestAlertEngine_SpikeAccepted(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	out, err := engine.Evaluate(ctx, "P001", normalVitals(), risk("P001", 30, 0.9))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = engine.Evaluate(ctx, "P001", normalVitals(), risk("P001", 55, 0.9))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.AlertTypeSpike, out[0].AlertType)
	assert.False(t, out[0].Suppressed)
	assert.Len(t, engine.ListActive(), 1)
}

func TestAlertEngine_LowConfidenceNeverLogged(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	_, err := engine.Evaluate(ctx, "P001", normalVitals(), risk("P001", 30, 0.5))
	require.NoError(t, err)
	out, err := engine.Evaluate(ctx, "P001", vitalsWithHR(145), risk("P001", 55, 0.5))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, engine.ListLog())
	assert.Empty(t, engine.ListActive())

	// 跳变历史仍然更新
	assert.Len(t, engine.RiskHistory("P001"), 2)
}

func TestAlertEngine_SameTickDuplicate(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	v := vitalsWithHR(145)
	v.SpO2 = 85
	out, err := engine.Evaluate(ctx, "P001", v, risk("P001", 30, 0.9))
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.False(t, out[0].Suppressed)
	assert.Contains(t, out[0].Message, "Heart Rate")
	assert.True(t, out[1].Suppressed)
	assert.Equal(t, models.ReasonDuplicateInSameTick, *out[1].SuppressedReason)
	assert.Len(t, engine.ListActive(), 1)
}

func TestAlertEngine_ThresholdAndSpikeSameTick(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	_, err := engine.Evaluate(ctx, "P001", normalVitals(), risk("P001", 30, 0.9))
	require.NoError(t, err)
	out, err := engine.Evaluate(ctx, "P001", vitalsWithHR(145), risk("P001", 60, 0.9))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, models.AlertTypeThreshold, out[0].AlertType)
	assert.Equal(t, models.AlertTypeSpike, out[1].AlertType)
	assert.False(t, out[0].Suppressed)
	assert.False(t, out[1].Suppressed)
	assert.Len(t, engine.ListActive(), 2)
}

func TestAlertEngine_ValidationErrorWritesNothing(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	tests := []struct {
		name   string
		pid    string
		vitals models.VitalReading
		risk   models.RiskSample
	}{
		{"risk score above 100", "P001", vitalsWithHR(145), risk("P001", 120, 0.9)},
		{"confidence above 1", "P001", vitalsWithHR(145), risk("P001", 30, 1.2)},
		{"missing vitals timestamp", "P001", models.VitalReading{HeartRate: 145}, risk("P001", 30, 0.9)},
		{"patient mismatch", "P001", vitalsWithHR(145), risk("P002", 30, 0.9)},
		{"empty patient", "", vitalsWithHR(145), risk("P001", 30, 0.9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := engine.Evaluate(ctx, tt.pid, tt.vitals, tt.risk)
			require.Error(t, err)
			assert.True(t, models.IsValidation(err))
			assert.Nil(t, out)
		})
	}

	assert.Empty(t, engine.ListLog())
	assert.Empty(t, engine.RiskHistory("P001"))
}

func TestAlertEngine_UnknownPatient(t *testing.T) {
	engine, _ := newTestEngine()

	_, err := engine.Evaluate(context.Background(), "P999", vitalsWithHR(145), risk("P999", 30, 0.9))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUnknownPatient))
	assert.Empty(t, engine.ListLog())
	assert.Empty(t, engine.RiskHistory("P999"))
}

func TestAlertEngine_Suppress(t *testing.T) {
	sink := &recordingSink{}
	engine, clock := newTestEngine(WithSink(sink))
	ctx := context.Background()

	out, err := engine.Evaluate(ctx, "P001", vitalsWithHR(145), risk("P001", 30, 0.9))
	require.NoError(t, err)
	id := out[0].ID

	clock.Advance(time.Minute)
	alert, err := engine.Suppress(ctx, id, "false alarm, lead displaced")
	require.NoError(t, err)
	assert.True(t, alert.Suppressed)
	assert.Equal(t, "false alarm, lead displaced", *alert.SuppressedReason)
	assert.Equal(t, t0.Add(time.Minute), *alert.SuppressedAt)
	assert.Empty(t, engine.ListActive())

	again, err := engine.Suppress(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, "false alarm, lead displaced", *again.SuppressedReason)

	// 一次创建 + 一次抑制，重复抑制不再写入
	assert.Len(t, sink.saved, 2)

	// 抑制后同类报警立即重新进入 ACTIVE
	clock.Advance(time.Second)
	next, err := engine.Evaluate(ctx, "P001", vitalsWithHR(146), risk("P001", 30, 0.9))
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.False(t, next[0].Suppressed)
}

func TestAlertEngine_SuppressDefaultReasonAndNotFound(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	out, err := engine.Evaluate(ctx, "P001", vitalsWithHR(145), risk("P001", 30, 0.9))
	require.NoError(t, err)

	alert, err := engine.Suppress(ctx, out[0].ID, "  ")
	require.NoError(t, err)
	assert.Equal(t, models.ReasonClinicianDefault, *alert.SuppressedReason)

	_, err = engine.Suppress(ctx, "does-not-exist", "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestAlertEngine_SinkAndNotifierFailuresDoNotFailTick(t *testing.T) {
	sink := &recordingSink{err: errors.New("connection refused")}
	notifier := &recordingNotifier{}
	engine, clock := newTestEngine(WithSink(sink), WithNotifier(notifier))
	ctx := context.Background()

	out, err := engine.Evaluate(ctx, "P001", vitalsWithHR(145), risk("P001", 30, 0.9))
	require.NoError(t, err)
	require.Len(t, out, 1)

	clock.Advance(time.Second)
	_, err = engine.Evaluate(ctx, "P001", vitalsWithHR(146), risk("P001", 30, 0.9))
	require.NoError(t, err)

	assert.Len(t, sink.saved, 2)
	// 只推送被接受的报警
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, out[0].ID, notifier.sent[0].ID)
}

func TestAlertEngine_ResetRiskHistory(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	_, err := engine.Evaluate(ctx, "P001", normalVitals(), risk("P001", 30, 0.9))
	require.NoError(t, err)
	engine.ResetRiskHistory("P001")
	assert.Empty(t, engine.RiskHistory("P001"))

	out, err := engine.Evaluate(ctx, "P001", normalVitals(), risk("P001", 80, 0.9))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestAlertEngine_ReplayReconstructsIndex(t *testing.T) {
	engine, clock := newTestEngine()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		pid := fmt.Sprintf("P%03d", i%3+1)
		score := float64(10 + (i*37)%80)
		_, err := engine.Evaluate(ctx, pid, vitalsWithHR(float64(120+i*3)), risk(pid, score, 0.9))
		require.NoError(t, err)
		if i%7 == 3 {
			active := engine.ListActiveByPatient(pid)
			if len(active) > 0 {
				_, err = engine.Suppress(ctx, active[0].ID, "reviewed")
				require.NoError(t, err)
			}
		}
		clock.Advance(90 * time.Second)
	}

	records := engine.ListLog()
	require.NotEmpty(t, records)

	rebuilt := store.RebuildIndex(records)
	assert.Equal(t, engine.IndexSnapshot(), rebuilt.Snapshot())

	restored, _ := newTestEngine()
	require.NoError(t, restored.Replay(records))
	assert.Equal(t, engine.IndexSnapshot(), restored.IndexSnapshot())
	assert.Equal(t, engine.ListActive(), restored.ListActive())
	assert.Equal(t, engine.Counts(), restored.Counts())
}

func TestAlertEngine_AtMostOneActivePerKey(t *testing.T) {
	engine, clock := newTestEngine()
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		pid := fmt.Sprintf("P%03d", i%2+1)
		v := vitalsWithHR(float64(131 + i))
		if i%3 == 0 {
			v.SpO2 = 88
		}
		_, err := engine.Evaluate(ctx, pid, v, risk(pid, float64((i*29)%100), 0.8))
		require.NoError(t, err)
		clock.Advance(time.Duration(i%4) * 2 * time.Minute)

		seen := map[models.AlertKey]bool{}
		for _, a := range engine.ListActive() {
			assert.False(t, a.Suppressed)
			assert.False(t, seen[a.Key()], "duplicate active alert for %v", a.Key())
			seen[a.Key()] = true
		}
	}
}

func TestAlertEngine_ConcurrentPatients(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		pid := fmt.Sprintf("P%03d", i)
		for j := 0; j < 25; j++ {
			wg.Add(1)
			go func(pid string, j int) {
				defer wg.Done()
				_, err := engine.Evaluate(ctx, pid, vitalsWithHR(140), risk(pid, float64(j%2)*50, 0.9))
				assert.NoError(t, err)
			}(pid, j)
		}
	}
	wg.Wait()

	// 冷却期内每位患者每类只有一个活跃报警
	counts := map[models.AlertKey]int{}
	for _, a := range engine.ListActive() {
		counts[a.Key()]++
	}
	for key, n := range counts {
		assert.Equal(t, 1, n, "key %v", key)
	}
	for i := 1; i <= 4; i++ {
		pid := fmt.Sprintf("P%03d", i)
		_, ok := counts[models.AlertKey{PatientID: pid, AlertType: models.AlertTypeThreshold}]
		assert.True(t, ok)
	}
	assert.Equal(t, store.RebuildIndex(engine.ListLog()).Snapshot(), engine.IndexSnapshot())
}
