package models

import (
	"math"
	"time"
)

// VitalReading 单次生命体征读数（由外部模拟器/传感器产生，创建后不可变）
type VitalReading struct {
	HeartRate       float64   `json:"hr"`   // bpm
	SpO2            float64   `json:"spo2"` // %
	Systolic        float64   `json:"sbp"`  // mmHg
	Diastolic       float64   `json:"dbp"`  // mmHg
	RespirationRate float64   `json:"rr"`   // breaths/min
	Temperature     float64   `json:"temp"` // °C
	Timestamp       time.Time `json:"timestamp"`
}

// Metric 生命体征指标名
type Metric string

const (
	MetricHeartRate       Metric = "hr"
	MetricSpO2            Metric = "spo2"
	MetricRespirationRate Metric = "rr"
	MetricTemperature     Metric = "temp"
	MetricSystolic        Metric = "sbp"
	MetricDiastolic       Metric = "dbp"
)

// Metrics 固定的指标评估顺序
var Metrics = []Metric{
	MetricHeartRate,
	MetricSpO2,
	MetricRespirationRate,
	MetricTemperature,
	MetricSystolic,
	MetricDiastolic,
}

// Value 读取指定指标的值
func (v *VitalReading) Value(m Metric) float64 {
	switch m {
	case MetricHeartRate:
		return v.HeartRate
	case MetricSpO2:
		return v.SpO2
	case MetricRespirationRate:
		return v.RespirationRate
	case MetricTemperature:
		return v.Temperature
	case MetricSystolic:
		return v.Systolic
	case MetricDiastolic:
		return v.Diastolic
	}
	return math.NaN()
}

// plausibleRange 生理上可能出现的取值范围，超出即视为读数损坏
var plausibleRange = map[Metric][2]float64{
	MetricHeartRate:       {1, 300},
	MetricSpO2:            {1, 100},
	MetricRespirationRate: {1, 100},
	MetricTemperature:     {25, 45},
	MetricSystolic:        {20, 300},
	MetricDiastolic:       {10, 250},
}

// Validate 校验读数完整性和取值范围；缺失字段（零值）同样视为非法
func (v *VitalReading) Validate() error {
	if v == nil {
		return &ValidationError{Field: "vitals", Reason: "missing"}
	}
	if v.Timestamp.IsZero() {
		return &ValidationError{Field: "vitals.timestamp", Reason: "missing"}
	}
	for _, m := range Metrics {
		val := v.Value(m)
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return &ValidationError{Field: "vitals." + string(m), Reason: "not a number"}
		}
		r := plausibleRange[m]
		if val < r[0] || val > r[1] {
			return &ValidationError{
				Field:  "vitals." + string(m),
				Reason: formatOutOfRange(val, r[0], r[1]),
			}
		}
	}
	if v.Diastolic >= v.Systolic {
		return &ValidationError{Field: "vitals.dbp", Reason: "must be below systolic pressure"}
	}
	return nil
}
