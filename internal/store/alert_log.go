package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"vitalguard-alarm/internal/models"
)

// AlertLog 只追加的报警日志，附带活跃报警索引
// 没有删除操作；唯一允许的修改是 MarkSuppressed
type AlertLog struct {
	mu      sync.RWMutex
	records []models.Alert
	byID    map[string]int
	index   *ActiveIndex
	seq     int64
}

// NewAlertLog 创建空日志
func NewAlertLog() *AlertLog {
	return &AlertLog{
		byID:  make(map[string]int),
		index: NewActiveIndex(),
	}
}

// Append 追加一条报警，分配序号并更新活跃索引
func (l *AlertLog) Append(alert models.Alert) (models.Alert, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(alert)
}

func (l *AlertLog) appendLocked(alert models.Alert) (models.Alert, error) {
	if alert.ID == "" {
		return models.Alert{}, fmt.Errorf("alert id is required")
	}
	if _, exists := l.byID[alert.ID]; exists {
		return models.Alert{}, fmt.Errorf("alert %s already in log", alert.ID)
	}

	if alert.Seq > l.seq {
		l.seq = alert.Seq
	} else {
		l.seq++
		alert.Seq = l.seq
	}

	l.records = append(l.records, alert)
	l.byID[alert.ID] = len(l.records) - 1
	l.index.apply(&alert)

	return alert, nil
}

// Replay 将持久化的记录按顺序加载到日志中（通常在启动时调用）
func (l *AlertLog) Replay(records []models.Alert) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sorted := make([]models.Alert, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	for _, a := range sorted {
		if _, err := l.appendLocked(a); err != nil {
			return fmt.Errorf("failed to replay alert log: %w", err)
		}
	}
	return nil
}

// Get 根据 ID 获取报警
func (l *AlertLog) Get(alertID string) (models.Alert, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.byID[alertID]
	if !ok {
		return models.Alert{}, &models.NotFoundError{AlertID: alertID}
	}
	return l.records[i], nil
}

// Active 查询 (patient_id, alert_type) 当前的活跃报警
func (l *AlertLog) Active(key models.AlertKey) (models.Alert, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.index.Get(key)
	if !ok {
		return models.Alert{}, false
	}
	return l.records[l.byID[e.AlertID]], true
}

// MarkSuppressed 医护人员手动抑制报警
// 已抑制的报警直接返回（changed=false）；活跃报警同时从索引中移除
func (l *AlertLog) MarkSuppressed(alertID, reason string, at time.Time) (alert models.Alert, changed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.byID[alertID]
	if !ok {
		return models.Alert{}, false, &models.NotFoundError{AlertID: alertID}
	}

	rec := &l.records[i]
	if rec.Suppressed {
		return *rec, false, nil
	}

	r := reason
	ts := at
	rec.Suppressed = true
	rec.SuppressedReason = &r
	rec.SuppressedAt = &ts
	rec.SuppressionSource = models.SuppressedByClinician
	l.index.retire(rec.Key(), rec.ID)

	return *rec, true, nil
}

// ListAll 全部记录，按写入顺序（时间正序）
func (l *AlertLog) ListAll() []models.Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Alert, len(l.records))
	copy(out, l.records)
	return out
}

// ListActive 活跃报警（未抑制），按创建时间倒序
func (l *AlertLog) ListActive() []models.Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Alert, 0, l.index.Len())
	for _, e := range l.index.entries {
		rec := l.records[l.byID[e.AlertID]]
		if !rec.Suppressed {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	return out
}

// ListActiveByPatient 某位患者的活跃报警
func (l *AlertLog) ListActiveByPatient(patientID string) []models.Alert {
	var out []models.Alert
	for _, a := range l.ListActive() {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out
}

// IndexSnapshot 当前活跃索引副本
func (l *AlertLog) IndexSnapshot() map[models.AlertKey]ActiveEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index.Snapshot()
}

// Counts 报警统计
func (l *AlertLog) Counts() models.AlertCounts {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c := models.AlertCounts{Triggered: len(l.records), Active: l.index.Len()}
	for i := range l.records {
		if l.records[i].Suppressed {
			c.Suppressed++
		}
	}
	return c
}

func sortNewestFirst(alerts []models.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if !alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
		}
		return alerts[i].Seq > alerts[j].Seq
	})
}
