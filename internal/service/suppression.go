package service

import (
	"time"

	"vitalguard-alarm/internal/models"
)

// ActiveLookup 查询 (patient_id, alert_type) 当前的活跃报警
type ActiveLookup interface {
	Active(key models.AlertKey) (models.Alert, bool)
}

// Decision 抑制策略的判定结果
type Decision struct {
	Accept bool
	Reason string // Accept=false 时的抑制原因
}

// SuppressionPolicy 每个 (patient_id, alert_type) 的两态状态机：NO_ACTIVE_ALERT / ACTIVE
//   - 无活跃报警：接受
//   - 有活跃报警且冷却未结束：记为抑制（duplicate within cooldown），不替换索引
//   - 有活跃报警且冷却已结束：接受，替换索引
//
// 调用方必须在全局写锁内调用 Decide 并紧接着追加日志
type SuppressionPolicy struct {
	cooldown time.Duration
}

// NewSuppressionPolicy 创建抑制策略
func NewSuppressionPolicy(cooldown time.Duration) *SuppressionPolicy {
	return &SuppressionPolicy{cooldown: cooldown}
}

// Decide 判定候选报警的命运
// seen 记录本轮评估已处理过的键，同一轮的后续候选记为 duplicate in same tick
func (p *SuppressionPolicy) Decide(c models.AlertCandidate, active ActiveLookup, seen map[models.AlertKey]bool, now time.Time) Decision {
	key := models.AlertKey{PatientID: c.PatientID, AlertType: c.AlertType}
	if seen[key] {
		return Decision{Reason: models.ReasonDuplicateInSameTick}
	}
	seen[key] = true

	current, ok := active.Active(key)
	if !ok {
		return Decision{Accept: true}
	}
	if now.Sub(current.CreatedAt) < p.cooldown {
		return Decision{Reason: models.ReasonDuplicateWithinCooldown}
	}
	return Decision{Accept: true}
}
