package models

// Bound 单个指标的临床上下限，nil 表示该方向不检查
type Bound struct {
	Low  *float64 `json:"low,omitempty"`
	High *float64 `json:"high,omitempty"`
}

// ThresholdTable 指标 → 临床阈值
type ThresholdTable map[Metric]Bound

// DefaultThresholds 默认临床阈值
func DefaultThresholds() ThresholdTable {
	return ThresholdTable{
		MetricHeartRate:       {Low: Float(40), High: Float(130)},
		MetricSpO2:            {Low: Float(90)},
		MetricRespirationRate: {High: Float(30)},
		MetricTemperature:     {High: Float(39.0)},
		MetricSystolic:        {Low: Float(85)},
	}
}

// Float 返回浮点数指针
func Float(v float64) *float64 {
	return &v
}
