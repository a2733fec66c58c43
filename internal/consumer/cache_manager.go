package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vitalguard-alarm/internal/config"
	"vitalguard-alarm/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrVitalsNotFound 缓存中没有该患者的生命体征
var ErrVitalsNotFound = errors.New("vitals not found")

// CacheManager Redis 缓存管理器
// 读取模拟器/采集端写入的生命体征，写回患者的活跃报警列表
type CacheManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (c *CacheManager) vitalsKey(patientID string) string {
	return fmt.Sprintf("%s%s%s",
		c.config.Alarm.Cache.VitalsKeyPrefix,
		patientID,
		c.config.Alarm.Cache.VitalsSuffix,
	)
}

func (c *CacheManager) alertKey(patientID string) string {
	return fmt.Sprintf("%s%s%s",
		c.config.Alarm.Cache.AlertKeyPrefix,
		patientID,
		c.config.Alarm.Cache.AlertSuffix,
	)
}

// GetVitals 读取患者最新的生命体征
func (c *CacheManager) GetVitals(ctx context.Context, patientID string) (*models.VitalReading, error) {
	val, err := c.redisClient.Get(ctx, c.vitalsKey(patientID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("patient %s: %w", patientID, ErrVitalsNotFound)
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var vitals models.VitalReading
	if err := json.Unmarshal([]byte(val), &vitals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vitals: %w", err)
	}
	return &vitals, nil
}

// UpdateAlertCache 覆盖写入患者的活跃报警（空列表同样写入，以便清除已抑制的报警）
func (c *CacheManager) UpdateAlertCache(ctx context.Context, patientID string, alerts []models.Alert) error {
	if alerts == nil {
		alerts = []models.Alert{}
	}

	key := c.alertKey(patientID)
	jsonData, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alert data: %w", err)
	}

	err = c.redisClient.Set(
		ctx,
		key,
		jsonData,
		time.Duration(c.config.Alarm.Cache.AlertTTL)*time.Second,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set alert cache: %w", err)
	}

	c.logger.Debug("Updated alert cache",
		zap.String("patient_id", patientID),
		zap.String("key", key),
		zap.Int("alert_count", len(alerts)),
	)
	return nil
}

// GetAlertCache 读取患者的活跃报警缓存；缓存不存在时返回空列表
func (c *CacheManager) GetAlertCache(ctx context.Context, patientID string) ([]models.Alert, error) {
	val, err := c.redisClient.Get(ctx, c.alertKey(patientID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []models.Alert{}, nil
		}
		return nil, fmt.Errorf("failed to get alert cache: %w", err)
	}

	var alerts []models.Alert
	if err := json.Unmarshal([]byte(val), &alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert cache: %w", err)
	}
	return alerts, nil
}
