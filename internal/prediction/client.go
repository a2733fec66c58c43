package prediction

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vitalguard-alarm/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// PredictionResult 预测服务响应
type PredictionResult struct {
	PatientID            string             `json:"patient_id"`
	Timestamp            time.Time          `json:"timestamp"`
	RiskScore            float64            `json:"risk_score"`
	RiskLevel            string             `json:"risk_level"`
	Confidence           float64            `json:"confidence"`
	FeatureContributions map[string]float64 `json:"feature_contributions,omitempty"`
}

// Client 风险预测服务客户端
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient 创建预测客户端
func NewClient(baseURL string, timeout time.Duration, retryCount int, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{
		httpClient: client,
		logger:     logger,
	}
}

// Predict 请求患者的最新风险样本
// 返回的样本尚未校验，由报警引擎统一校验
func (c *Client) Predict(ctx context.Context, patientID string) (*models.RiskSample, error) {
	var result PredictionResult
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("patient_id", patientID).
		SetResult(&result).
		Post("/api/predict/{patient_id}")

	if err != nil {
		return nil, fmt.Errorf("failed to call prediction service: %w", err)
	}
	if resp.IsError() {
		c.logger.Warn("Prediction service returned error",
			zap.String("patient_id", patientID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil, fmt.Errorf("prediction service error: status %d", resp.StatusCode())
	}

	sample := &models.RiskSample{
		PatientID:  result.PatientID,
		RiskScore:  result.RiskScore,
		RiskLevel:  models.RiskLevel(result.RiskLevel),
		Confidence: result.Confidence,
		Timestamp:  result.Timestamp,
	}
	if sample.PatientID == "" {
		sample.PatientID = patientID
	}
	return sample, nil
}
