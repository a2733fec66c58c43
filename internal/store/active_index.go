package store

import (
	"time"

	"vitalguard-alarm/internal/models"
)

// ActiveEntry 活跃报警索引项
type ActiveEntry struct {
	AlertID   string
	CreatedAt time.Time
}

// ActiveIndex (patient_id, alert_type) → 当前活跃报警
// 只是报警日志的派生视图，可通过重放日志重建
type ActiveIndex struct {
	entries map[models.AlertKey]ActiveEntry
}

// NewActiveIndex 创建空索引
func NewActiveIndex() *ActiveIndex {
	return &ActiveIndex{entries: make(map[models.AlertKey]ActiveEntry)}
}

// Get 查询活跃报警
func (x *ActiveIndex) Get(key models.AlertKey) (ActiveEntry, bool) {
	e, ok := x.entries[key]
	return e, ok
}

// Len 活跃报警数量
func (x *ActiveIndex) Len() int {
	return len(x.entries)
}

// Snapshot 返回索引副本
func (x *ActiveIndex) Snapshot() map[models.AlertKey]ActiveEntry {
	out := make(map[models.AlertKey]ActiveEntry, len(x.entries))
	for k, v := range x.entries {
		out[k] = v
	}
	return out
}

// apply 按日志顺序应用一条记录
// 创建时被接受的记录成为该键的活跃报警；已被手动抑制的记录若仍在索引中则移除
func (x *ActiveIndex) apply(a *models.Alert) {
	key := a.Key()
	if a.AcceptedAtCreation() {
		x.entries[key] = ActiveEntry{AlertID: a.ID, CreatedAt: a.CreatedAt}
	}
	if a.Suppressed {
		x.retire(key, a.ID)
	}
}

// retire 仅当索引项仍指向 alertID 时移除
func (x *ActiveIndex) retire(key models.AlertKey, alertID string) bool {
	if e, ok := x.entries[key]; ok && e.AlertID == alertID {
		delete(x.entries, key)
		return true
	}
	return false
}

// RebuildIndex 按顺序重放报警记录，得到活跃索引
func RebuildIndex(records []models.Alert) *ActiveIndex {
	x := NewActiveIndex()
	for i := range records {
		x.apply(&records[i])
	}
	return x
}
