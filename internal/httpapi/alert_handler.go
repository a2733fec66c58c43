package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"vitalguard-alarm/internal/models"

	"go.uber.org/zap"
)

// AlertService 报警引擎对外操作
type AlertService interface {
	Evaluate(ctx context.Context, patientID string, vitals models.VitalReading, risk models.RiskSample) ([]models.Alert, error)
	Suppress(ctx context.Context, alertID, reason string) (models.Alert, error)
	Get(alertID string) (models.Alert, error)
	ListActive() []models.Alert
	ListActiveByPatient(patientID string) []models.Alert
	ListLog() []models.Alert
	Counts() models.AlertCounts
	ResetRiskHistory(patientID string)
}

// AlertCache 患者活跃报警缓存（与轮询器写入同一份）
type AlertCache interface {
	UpdateAlertCache(ctx context.Context, patientID string, alerts []models.Alert) error
}

// AlertHandler 报警 REST 接口
type AlertHandler struct {
	alerts AlertService
	cache  AlertCache
	logger *zap.Logger
}

// HandlerOption 报警接口可选项
type HandlerOption func(*AlertHandler)

// WithAlertCache 抑制或评估成功后刷新患者的活跃报警缓存
func WithAlertCache(cache AlertCache) HandlerOption {
	return func(h *AlertHandler) { h.cache = cache }
}

// NewAlertHandler 创建报警接口
func NewAlertHandler(alerts AlertService, logger *zap.Logger, opts ...HandlerOption) *AlertHandler {
	h := &AlertHandler{
		alerts: alerts,
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// refreshCache 重写患者的活跃报警缓存，失败只记录日志
func (h *AlertHandler) refreshCache(ctx context.Context, patientID string) {
	if h.cache == nil {
		return
	}
	active := h.alerts.ListActiveByPatient(patientID)
	if err := h.cache.UpdateAlertCache(ctx, patientID, active); err != nil {
		h.logger.Error("Failed to update alert cache",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	}
}

// SuppressRequest 抑制请求
type SuppressRequest struct {
	AlertID string `json:"alert_id"`
	Reason  string `json:"reason"`
}

// EvaluateRequest 外部评估请求
type EvaluateRequest struct {
	PatientID string               `json:"patient_id"`
	Vitals    *models.VitalReading `json:"vitals"`
	Risk      *models.RiskSample   `json:"risk"`
}

// ListActive GET /api/alerts[?patient_id=]
func (h *AlertHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	if pid := r.URL.Query().Get("patient_id"); pid != "" {
		active := h.alerts.ListActiveByPatient(pid)
		if active == nil {
			active = []models.Alert{}
		}
		writeJSON(w, http.StatusOK, Ok(active))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.alerts.ListActive()))
}

// ListLog GET /api/alerts/log[?patient_id=]
func (h *AlertHandler) ListLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.filteredLog(r)))
}

func (h *AlertHandler) filteredLog(r *http.Request) []models.Alert {
	all := h.alerts.ListLog()
	pid := r.URL.Query().Get("patient_id")
	if pid == "" {
		return all
	}
	out := make([]models.Alert, 0, len(all))
	for _, a := range all {
		if a.PatientID == pid {
			out = append(out, a)
		}
	}
	return out
}

// ExportLog GET /api/alerts/log/export
func (h *AlertHandler) ExportLog(w http.ResponseWriter, r *http.Request) {
	excelData, err := GenerateAlertLogExport(h.filteredLog(r))
	if err != nil {
		h.logger.Error("GenerateAlertLogExport failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(fmt.Sprintf("failed to generate export: %v", err)))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=alert-log-export.xlsx")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(excelData)
}

// Counts GET /api/alerts/counts
func (h *AlertHandler) Counts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.alerts.Counts()))
}

// GetAlert GET /api/alerts/{id}
func (h *AlertHandler) GetAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	alert, err := h.alerts.Get(alertID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}

// Suppress POST /api/alerts/suppress/{id} 或 POST /api/alerts/suppress {alert_id, reason}
func (h *AlertHandler) Suppress(w http.ResponseWriter, r *http.Request, alertID string) {
	var req SuppressRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if alertID == "" {
		alertID = strings.TrimSpace(req.AlertID)
	}
	if alertID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("alert_id is required"))
		return
	}

	alert, err := h.alerts.Suppress(r.Context(), alertID, req.Reason)
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			h.logger.Error("Suppress failed", zap.String("alert_id", alertID), zap.Error(err))
		}
		writeError(w, err)
		return
	}
	h.refreshCache(r.Context(), alert.PatientID)
	writeJSON(w, http.StatusOK, Ok(alert))
}

// Evaluate POST /api/alerts/evaluate
func (h *AlertHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if req.Vitals == nil {
		writeError(w, &models.ValidationError{Field: "vitals", Reason: "missing"})
		return
	}
	if req.Risk == nil {
		writeError(w, &models.ValidationError{Field: "risk", Reason: "missing"})
		return
	}

	created, err := h.alerts.Evaluate(r.Context(), req.PatientID, *req.Vitals, *req.Risk)
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			h.logger.Error("Evaluate failed", zap.String("patient_id", req.PatientID), zap.Error(err))
		}
		writeError(w, err)
		return
	}
	h.refreshCache(r.Context(), req.PatientID)
	if created == nil {
		created = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, Ok(created))
}

// ResetRiskHistory POST /api/alerts/reset/{patient_id}
func (h *AlertHandler) ResetRiskHistory(w http.ResponseWriter, r *http.Request, patientID string) {
	h.alerts.ResetRiskHistory(patientID)
	h.logger.Info("Risk history reset", zap.String("patient_id", patientID))
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"patient_id": patientID,
		"reset":      true,
	}))
}

// Health GET /health
func (h *AlertHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"status":        "ok",
		"active_alerts": len(h.alerts.ListActive()),
	}))
}
