package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"vitalguard-alarm/common/config"
	"vitalguard-alarm/internal/models"
)

// 通知通道
const (
	NotifyNone   = "none"
	NotifyMQTT   = "mqtt"
	NotifyStream = "stream"
)

// ConfigurationError 配置非法，启动时直接失败
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// Config 报警服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	DBEnabled    bool
	RedisEnabled bool
	SeedPatients bool // 数据库启用时写入内置患者名册

	HTTP struct {
		Addr         string
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
	}

	// 报警引擎配置
	Alarm struct {
		Thresholds    models.ThresholdTable
		MinConfidence float64       // 置信度下限，默认 0.75
		Cooldown      time.Duration // 同一患者同类报警的冷却时间，默认 5 分钟

		Spike struct {
			Threshold   float64 // 风险分值跳变阈值（百分点），默认 20
			HistorySize int     // 每位患者保留的风险样本数，默认 5
		}

		// Redis 缓存配置
		Cache struct {
			VitalsKeyPrefix string // 生命体征缓存键前缀，如 "vitalguard:patient:"
			VitalsSuffix    string // 生命体征缓存键后缀，如 ":vitals"
			AlertKeyPrefix  string // 活跃报警缓存键前缀
			AlertSuffix     string // 活跃报警缓存键后缀，如 ":alerts"
			AlertTTL        int    // 活跃报警缓存 TTL（秒），默认 30
		}

		PollEnabled  bool
		PollInterval time.Duration // 轮询间隔，默认 5 秒

		Evaluation struct {
			BatchSize   int // 每批评估的患者数量，默认 10
			Concurrency int // 批内并发评估数，默认 4
		}

		Predictor struct {
			BaseURL    string
			Timeout    time.Duration
			RetryCount int
		}

		Notify struct {
			Transport    string // none / mqtt / stream
			TopicPrefix  string // MQTT 主题前缀，如 "vitalguard/alerts/"
			Stream       string // Redis Stream 名称
			StreamMaxLen int64
		}
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置并校验
func Load() (*Config, error) {
	cfg := &Config{}
	p := &envParser{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "vitalguard"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	p.check("DB", cfg.Database.LoadFromEnv("DB"))

	cfg.Redis.Addr = "localhost:6379"
	p.check("REDIS", cfg.Redis.LoadFromEnv("REDIS"))

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "vitalguard-alarm"
	cfg.MQTT.QoS = 1
	p.check("MQTT", cfg.MQTT.LoadFromEnv("MQTT"))

	cfg.DBEnabled = p.boolean("DB_ENABLED", false)
	cfg.RedisEnabled = p.boolean("REDIS_ENABLED", false)
	cfg.SeedPatients = p.boolean("SEED_PATIENTS", true)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTP.ReadTimeout = p.duration("HTTP_READ_TIMEOUT", 10*time.Second)
	cfg.HTTP.WriteTimeout = p.duration("HTTP_WRITE_TIMEOUT", 30*time.Second)

	// 临床阈值，"off" 关闭某一方向
	defaults := models.DefaultThresholds()
	cfg.Alarm.Thresholds = models.ThresholdTable{}
	for _, m := range models.Metrics {
		def := defaults[m]
		name := strings.ToUpper(string(m))
		b := models.Bound{
			Low:  p.optionalFloat("THRESHOLD_"+name+"_LOW", def.Low),
			High: p.optionalFloat("THRESHOLD_"+name+"_HIGH", def.High),
		}
		if b.Low != nil || b.High != nil {
			cfg.Alarm.Thresholds[m] = b
		}
	}

	cfg.Alarm.MinConfidence = p.float("MIN_CONFIDENCE", 0.75)
	cfg.Alarm.Cooldown = p.duration("ALERT_COOLDOWN", 5*time.Minute)
	cfg.Alarm.Spike.Threshold = p.float("SPIKE_THRESHOLD", 20)
	cfg.Alarm.Spike.HistorySize = p.integer("SPIKE_HISTORY_SIZE", 5)

	cfg.Alarm.Cache.VitalsKeyPrefix = getEnv("CACHE_VITALS_PREFIX", "vitalguard:patient:")
	cfg.Alarm.Cache.VitalsSuffix = ":vitals"
	cfg.Alarm.Cache.AlertKeyPrefix = getEnv("CACHE_ALERT_PREFIX", "vitalguard:patient:")
	cfg.Alarm.Cache.AlertSuffix = ":alerts"
	cfg.Alarm.Cache.AlertTTL = p.integer("CACHE_ALERT_TTL", 30)

	cfg.Alarm.PollEnabled = p.boolean("POLL_ENABLED", false)
	cfg.Alarm.PollInterval = p.duration("POLL_INTERVAL", 5*time.Second)
	cfg.Alarm.Evaluation.BatchSize = p.integer("EVAL_BATCH_SIZE", 10)
	cfg.Alarm.Evaluation.Concurrency = p.integer("EVAL_CONCURRENCY", 4)

	cfg.Alarm.Predictor.BaseURL = getEnv("PREDICTOR_URL", "http://127.0.0.1:8000")
	cfg.Alarm.Predictor.Timeout = p.duration("PREDICTOR_TIMEOUT", 5*time.Second)
	cfg.Alarm.Predictor.RetryCount = p.integer("PREDICTOR_RETRY_COUNT", 2)

	cfg.Alarm.Notify.Transport = getEnv("NOTIFY_TRANSPORT", NotifyNone)
	cfg.Alarm.Notify.TopicPrefix = getEnv("NOTIFY_TOPIC_PREFIX", "vitalguard/alerts/")
	cfg.Alarm.Notify.Stream = getEnv("NOTIFY_STREAM", "vitalguard:alerts")
	cfg.Alarm.Notify.StreamMaxLen = int64(p.integer("NOTIFY_STREAM_MAXLEN", 10000))

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置一致性
func (c *Config) Validate() error {
	for _, m := range models.Metrics {
		b, ok := c.Alarm.Thresholds[m]
		if !ok {
			continue
		}
		if b.Low != nil && b.High != nil && *b.Low >= *b.High {
			return &ConfigurationError{
				Field:  "THRESHOLD_" + strings.ToUpper(string(m)),
				Reason: fmt.Sprintf("low bound %g must be below high bound %g", *b.Low, *b.High),
			}
		}
	}
	if c.Alarm.Spike.Threshold <= 0 || c.Alarm.Spike.Threshold > 100 {
		return &ConfigurationError{Field: "SPIKE_THRESHOLD", Reason: "must be in (0, 100]"}
	}
	if c.Alarm.Spike.HistorySize < 2 {
		return &ConfigurationError{Field: "SPIKE_HISTORY_SIZE", Reason: "must be at least 2"}
	}
	if c.Alarm.MinConfidence < 0 || c.Alarm.MinConfidence > 1 {
		return &ConfigurationError{Field: "MIN_CONFIDENCE", Reason: "must be in [0, 1]"}
	}
	if c.Alarm.Cooldown < 0 {
		return &ConfigurationError{Field: "ALERT_COOLDOWN", Reason: "must not be negative"}
	}
	if c.Alarm.PollInterval <= 0 {
		return &ConfigurationError{Field: "POLL_INTERVAL", Reason: "must be positive"}
	}
	if c.Alarm.Evaluation.BatchSize <= 0 {
		return &ConfigurationError{Field: "EVAL_BATCH_SIZE", Reason: "must be positive"}
	}
	if c.Alarm.Evaluation.Concurrency <= 0 {
		return &ConfigurationError{Field: "EVAL_CONCURRENCY", Reason: "must be positive"}
	}
	switch c.Alarm.Notify.Transport {
	case NotifyNone, NotifyMQTT:
	case NotifyStream:
		if !c.RedisEnabled {
			return &ConfigurationError{Field: "NOTIFY_TRANSPORT", Reason: "stream transport requires REDIS_ENABLED=true"}
		}
	default:
		return &ConfigurationError{Field: "NOTIFY_TRANSPORT", Reason: fmt.Sprintf("unknown transport %q", c.Alarm.Notify.Transport)}
	}
	if c.Alarm.PollEnabled && !c.RedisEnabled {
		return &ConfigurationError{Field: "POLL_ENABLED", Reason: "polling reads vitals from Redis and requires REDIS_ENABLED=true"}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envParser 解析带类型的环境变量，只保留第一个错误
type envParser struct {
	err error
}

func (p *envParser) check(field string, err error) {
	if err != nil && p.err == nil {
		p.err = &ConfigurationError{Field: field, Reason: err.Error()}
	}
}

func (p *envParser) fail(key, value, kind string) {
	if p.err == nil {
		p.err = &ConfigurationError{Field: key, Reason: fmt.Sprintf("%q is not a valid %s", value, kind)}
	}
}

func (p *envParser) float(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		p.fail(key, raw, "number")
		return def
	}
	return v
}

func (p *envParser) optionalFloat(key string, def *float64) *float64 {
	raw := os.Getenv(key)
	switch raw {
	case "":
		return def
	case "off", "none":
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		p.fail(key, raw, "number")
		return def
	}
	return &v
}

func (p *envParser) integer(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, "integer")
		return def
	}
	return v
}

func (p *envParser) boolean(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, "boolean")
		return def
	}
	return v
}

func (p *envParser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, "duration")
		return def
	}
	return v
}
