package evaluator

import (
	"fmt"
	"strconv"

	"vitalguard-alarm/internal/models"
)

// metricLabel 指标的显示名、单位及越界时的临床术语
type metricLabel struct {
	Name     string
	Unit     string
	HighTerm string
	LowTerm  string
}

var metricLabels = map[models.Metric]metricLabel{
	models.MetricHeartRate:       {Name: "Heart Rate", Unit: " bpm", HighTerm: "Tachycardia", LowTerm: "Bradycardia"},
	models.MetricSpO2:            {Name: "SpO2", Unit: "%", HighTerm: "Hyperoxemia", LowTerm: "Hypoxemia"},
	models.MetricRespirationRate: {Name: "Respiration Rate", Unit: " br/min", HighTerm: "Tachypnea", LowTerm: "Bradypnea"},
	models.MetricTemperature:     {Name: "Temperature", Unit: "°C", HighTerm: "Fever", LowTerm: "Hypothermia"},
	models.MetricSystolic:        {Name: "Systolic BP", Unit: " mmHg", HighTerm: "Hypertension", LowTerm: "Hypotension"},
	models.MetricDiastolic:       {Name: "Diastolic BP", Unit: " mmHg", HighTerm: "Diastolic Hypertension", LowTerm: "Diastolic Hypotension"},
}

// ThresholdEvaluator 将单次读数与临床阈值表比较（无状态）
type ThresholdEvaluator struct {
	thresholds models.ThresholdTable
}

// NewThresholdEvaluator 创建阈值评估器
func NewThresholdEvaluator(thresholds models.ThresholdTable) *ThresholdEvaluator {
	return &ThresholdEvaluator{thresholds: thresholds}
}

// Evaluate 每个越界的阈值产生一个 threshold 候选，按 models.Metrics 顺序输出
func (e *ThresholdEvaluator) Evaluate(patientID string, vitals models.VitalReading, risk models.RiskSample) []models.AlertCandidate {
	var candidates []models.AlertCandidate

	for _, m := range models.Metrics {
		bound, ok := e.thresholds[m]
		if !ok {
			continue
		}
		value := vitals.Value(m)
		label := metricLabels[m]

		var message string
		switch {
		case bound.High != nil && value > *bound.High:
			message = fmt.Sprintf("%s: %s %s%s > %s%s",
				label.HighTerm, label.Name, formatValue(value), label.Unit, formatValue(*bound.High), label.Unit)
		case bound.Low != nil && value < *bound.Low:
			message = fmt.Sprintf("%s: %s %s%s < %s%s",
				label.LowTerm, label.Name, formatValue(value), label.Unit, formatValue(*bound.Low), label.Unit)
		default:
			continue
		}

		candidates = append(candidates, models.AlertCandidate{
			PatientID:  patientID,
			AlertType:  models.AlertTypeThreshold,
			Metric:     m,
			Message:    message,
			RiskScore:  risk.RiskScore,
			Confidence: risk.Confidence,
			Timestamp:  vitals.Timestamp,
		})
	}

	return candidates
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
