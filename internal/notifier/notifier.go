package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"vitalguard-alarm/common/redis"
	"vitalguard-alarm/internal/models"

	"go.uber.org/zap"
)

// Publisher MQTT 发布接口（common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTNotifier 通过 MQTT 推送新报警，主题为 {prefix}{patient_id}
type MQTTNotifier struct {
	publisher   Publisher
	topicPrefix string
	qos         byte
	logger      *zap.Logger
}

// NewMQTTNotifier 创建 MQTT 推送
func NewMQTTNotifier(publisher Publisher, topicPrefix string, qos byte, logger *zap.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		publisher:   publisher,
		topicPrefix: topicPrefix,
		qos:         qos,
		logger:      logger,
	}
}

// Notify 发布一条报警
func (n *MQTTNotifier) Notify(_ context.Context, alert models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	topic := n.topicPrefix + alert.PatientID
	if err := n.publisher.Publish(topic, n.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish alert to %s: %w", topic, err)
	}

	n.logger.Debug("Published alert to MQTT",
		zap.String("topic", topic),
		zap.String("alert_id", alert.ID),
	)
	return nil
}

// StreamNotifier 通过 Redis Stream 推送新报警
type StreamNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewStreamNotifier 创建 Redis Stream 推送
func NewStreamNotifier(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamNotifier {
	return &StreamNotifier{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Notify 发布一条报警
func (n *StreamNotifier) Notify(ctx context.Context, alert models.Alert) error {
	id, err := redis.PublishJSONToStream(ctx, n.client, n.stream, n.maxLen, alert)
	if err != nil {
		return fmt.Errorf("failed to publish alert to stream %s: %w", n.stream, err)
	}

	n.logger.Debug("Published alert to stream",
		zap.String("stream", n.stream),
		zap.String("message_id", id),
		zap.String("alert_id", alert.ID),
	)
	return nil
}
