package store

import (
	"errors"
	"testing"
	"time"

	"vitalguard-alarm/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)

func accepted(id, patientID string, typ models.AlertType, createdAt time.Time) models.Alert {
	return models.Alert{
		ID:        id,
		PatientID: patientID,
		AlertType: typ,
		Message:   "test",
		Timestamp: createdAt,
		CreatedAt: createdAt,
	}
}

func duplicate(id, patientID string, typ models.AlertType, createdAt time.Time) models.Alert {
	a := accepted(id, patientID, typ, createdAt)
	reason := models.ReasonDuplicateWithinCooldown
	a.Suppressed = true
	a.SuppressedReason = &reason
	a.SuppressedAt = &createdAt
	a.SuppressionSource = models.SuppressedByPolicy
	return a
}

func TestAlertLog_AppendAssignsSequence(t *testing.T) {
	log := NewAlertLog()

	a1, err := log.Append(accepted("a1", "P001", models.AlertTypeThreshold, t0))
	require.NoError(t, err)
	a2, err := log.Append(accepted("a2", "P002", models.AlertTypeSpike, t0.Add(time.Second)))
	require.NoError(t, err)

	assert.Equal(t, int64(1), a1.Seq)
	assert.Equal(t, int64(2), a2.Seq)

	all := log.ListAll()
	require.Len(t, all, 2)
	assert.Equal(t, "a1", all[0].ID)
	assert.Equal(t, "a2", all[1].ID)
}

func TestAlertLog_AppendRejectsDuplicateID(t *testing.T) {
	log := NewAlertLog()
	_, err := log.Append(accepted("a1", "P001", models.AlertTypeThreshold, t0))
	require.NoError(t, err)

	_, err = log.Append(accepted("a1", "P001", models.AlertTypeThreshold, t0))
	assert.Error(t, err)

	_, err = log.Append(models.Alert{})
	assert.Error(t, err)
	assert.Len(t, log.ListAll(), 1)
}

func TestAlertLog_ActiveIndexReplacement(t *testing.T) {
	log := NewAlertLog()
	key := models.AlertKey{PatientID: "P001", AlertType: models.AlertTypeThreshold}

	_, _ = log.Append(accepted("a1", "P001", models.AlertTypeThreshold, t0))
	_, _ = log.Append(duplicate("a2", "P001", models.AlertTypeThreshold, t0.Add(time.Second)))

	active, ok := log.Active(key)
	require.True(t, ok)
	assert.Equal(t, "a1", active.ID)

	_, _ = log.Append(accepted("a3", "P001", models.AlertTypeThreshold, t0.Add(10*time.Minute)))
	active, ok = log.Active(key)
	require.True(t, ok)
	assert.Equal(t, "a3", active.ID)

	// 旧记录保留且未被修改
	old, err := log.Get("a1")
	require.NoError(t, err)
	assert.False(t, old.Suppressed)

	list := log.ListActive()
	require.Len(t, list, 1)
	assert.Equal(t, "a3", list[0].ID)
}

func TestAlertLog_ListActiveNewestFirst(t *testing.T) {
	log := NewAlertLog()
	_, _ = log.Append(accepted("a1", "P001", models.AlertTypeThreshold, t0))
	_, _ = log.Append(accepted("a2", "P002", models.AlertTypeThreshold, t0.Add(2*time.Second)))
	_, _ = log.Append(accepted("a3", "P001", models.AlertTypeSpike, t0.Add(time.Second)))

	list := log.ListActive()
	require.Len(t, list, 3)
	assert.Equal(t, "a2", list[0].ID)
	assert.Equal(t, "a3", list[1].ID)
	assert.Equal(t, "a1", list[2].ID)

	p1 := log.ListActiveByPatient("P001")
	require.Len(t, p1, 2)
	assert.Equal(t, "a3", p1[0].ID)
}

func TestAlertLog_MarkSuppressed(t *testing.T) {
	log := NewAlertLog()
	_, _ = log.Append(accepted("a1", "P001", models.AlertTypeThreshold, t0))

	at := t0.Add(time.Minute)
	alert, changed, err := log.MarkSuppressed("a1", "clinician reviewed", at)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, alert.Suppressed)
	require.NotNil(t, alert.SuppressedReason)
	assert.Equal(t, "clinician reviewed", *alert.SuppressedReason)
	assert.Equal(t, models.SuppressedByClinician, alert.SuppressionSource)
	assert.Empty(t, log.ListActive())

	// 幂等：再次抑制不改变原因
	again, changed, err := log.MarkSuppressed("a1", "other reason", at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "clinician reviewed", *again.SuppressedReason)
	assert.Equal(t, at, *again.SuppressedAt)
}

func TestAlertLog_MarkSuppressedNotFound(t *testing.T) {
	log := NewAlertLog()
	_, _, err := log.MarkSuppressed("missing", "x", t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = log.Get("missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestAlertLog_MarkSuppressedRetiredAlertKeepsIndex(t *testing.T) {
	log := NewAlertLog()
	key := models.AlertKey{PatientID: "P001", AlertType: models.AlertTypeThreshold}
	_, _ = log.Append(accepted("a1", "P001", models.AlertTypeThreshold, t0))
	_, _ = log.Append(accepted("a2", "P001", models.AlertTypeThreshold, t0.Add(10*time.Minute)))

	_, changed, err := log.MarkSuppressed("a1", "late review", t0.Add(11*time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)

	active, ok := log.Active(key)
	require.True(t, ok)
	assert.Equal(t, "a2", active.ID)
}

func TestAlertLog_Counts(t *testing.T) {
	log := NewAlertLog()
	_, _ = log.Append(accepted("a1", "P001", models.AlertTypeThreshold, t0))
	_, _ = log.Append(duplicate("a2", "P001", models.AlertTypeThreshold, t0.Add(time.Second)))
	_, _ = log.Append(accepted("a3", "P002", models.AlertTypeSpike, t0.Add(2*time.Second)))

	c := log.Counts()
	assert.Equal(t, 3, c.Triggered)
	assert.Equal(t, 1, c.Suppressed)
	assert.Equal(t, 2, c.Active)
}

func TestRebuildIndex_MatchesIncrementalIndex(t *testing.T) {
	log := NewAlertLog()
	_, _ = log.Append(accepted("a1", "P001", models.AlertTypeThreshold, t0))
	_, _ = log.Append(duplicate("a2", "P001", models.AlertTypeThreshold, t0.Add(time.Second)))
	_, _ = log.Append(accepted("a3", "P001", models.AlertTypeSpike, t0.Add(2*time.Second)))
	_, _ = log.Append(accepted("a4", "P002", models.AlertTypeThreshold, t0.Add(3*time.Second)))
	_, _, _ = log.MarkSuppressed("a4", "false positive", t0.Add(4*time.Second))
	_, _ = log.Append(accepted("a5", "P001", models.AlertTypeThreshold, t0.Add(10*time.Minute)))
	_, _, _ = log.MarkSuppressed("a1", "late review", t0.Add(11*time.Minute))

	rebuilt := RebuildIndex(log.ListAll())
	assert.Equal(t, log.IndexSnapshot(), rebuilt.Snapshot())
	assert.Equal(t, 2, rebuilt.Len())
}

func TestAlertLog_Replay(t *testing.T) {
	src := NewAlertLog()
	_, _ = src.Append(accepted("a1", "P001", models.AlertTypeThreshold, t0))
	_, _ = src.Append(duplicate("a2", "P001", models.AlertTypeThreshold, t0.Add(time.Second)))
	_, _ = src.Append(accepted("a3", "P002", models.AlertTypeSpike, t0.Add(2*time.Second)))
	_, _, _ = src.MarkSuppressed("a3", "reviewed", t0.Add(3*time.Second))

	records := src.ListAll()
	// 打乱顺序，Replay 按 Seq 排序
	records[0], records[2] = records[2], records[0]

	dst := NewAlertLog()
	require.NoError(t, dst.Replay(records))
	assert.Equal(t, src.IndexSnapshot(), dst.IndexSnapshot())
	assert.Equal(t, src.ListAll(), dst.ListAll())

	// 重放后继续追加，序号递增
	next, err := dst.Append(accepted("a4", "P003", models.AlertTypeThreshold, t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Seq)
}
