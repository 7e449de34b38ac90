package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Session SessionConfig
	Upload  UploadConfig
	Media   MediaConfig
	Events  EventsConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	sessionCfg, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	upload, err := loadUploadConfig()
	if err != nil {
		return nil, err
	}

	media, err := loadMediaConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Log:     logCfg,
		Session: sessionCfg,
		Upload:  upload,
		Media:   media,
		Events: EventsConfig{
			RedisAddr:  strings.TrimSpace(os.Getenv("EVENTS_REDIS_ADDR")),
			RedisGroup: getEnvOrDefault("EVENTS_REDIS_GROUP", "echoes"),
		},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// LogConfig 描述全局日志配置。
type LogConfig struct {
	Level  string
	Pretty bool
}

func loadLogConfig() (LogConfig, error) {
	pretty, err := parseBoolEnv("LOG_PRETTY", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "info"), Pretty: pretty}, nil
}

// SessionConfig 描述会话计时与清理配置。
type SessionConfig struct {
	ConnectDelay     time.Duration
	TickInterval     time.Duration
	ScriptInterval   time.Duration
	ReplyDelay       time.Duration
	PlaybackDuration time.Duration
	Retention        time.Duration
	SweepSpec        string
	// RandomSeed 为 nil 时使用当前时间作为随机种子。
	RandomSeed  *int64
	ScriptsFile string
}

func loadSessionConfig() (SessionConfig, error) {
	var cfg SessionConfig
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"SESSION_CONNECT_DELAY", 2 * time.Second, &cfg.ConnectDelay},
		{"SESSION_TICK_INTERVAL", time.Second, &cfg.TickInterval},
		{"SESSION_SCRIPT_INTERVAL", 12 * time.Second, &cfg.ScriptInterval},
		{"SESSION_REPLY_DELAY", 2 * time.Second, &cfg.ReplyDelay},
		{"SESSION_PLAYBACK_DURATION", 3 * time.Second, &cfg.PlaybackDuration},
		{"SESSION_RETENTION", 10 * time.Minute, &cfg.Retention},
	}
	for _, d := range durations {
		v, err := parseDurationEnv(d.key, d.def)
		if err != nil {
			return SessionConfig{}, err
		}
		*d.dest = v
	}

	seed, err := parseOptionalInt64Env("SESSION_RANDOM_SEED")
	if err != nil {
		return SessionConfig{}, err
	}
	cfg.RandomSeed = seed
	cfg.SweepSpec = getEnvOrDefault("SESSION_SWEEP_SPEC", "@every 1m")
	cfg.ScriptsFile = strings.TrimSpace(os.Getenv("SCRIPTS_FILE"))
	return cfg, nil
}

// UploadConfig 描述模拟上传进度的节奏。
type UploadConfig struct {
	VoiceStep     int
	VoiceInterval time.Duration
	TextStep      int
	TextInterval  time.Duration
	MaxBytes      int64
	Retention     time.Duration
}

func loadUploadConfig() (UploadConfig, error) {
	voiceStep, err := parseIntEnv("UPLOAD_VOICE_STEP", 5)
	if err != nil {
		return UploadConfig{}, err
	}
	voiceInterval, err := parseDurationEnv("UPLOAD_VOICE_INTERVAL", 200*time.Millisecond)
	if err != nil {
		return UploadConfig{}, err
	}
	textStep, err := parseIntEnv("UPLOAD_TEXT_STEP", 10)
	if err != nil {
		return UploadConfig{}, err
	}
	textInterval, err := parseDurationEnv("UPLOAD_TEXT_INTERVAL", 300*time.Millisecond)
	if err != nil {
		return UploadConfig{}, err
	}
	retention, err := parseDurationEnv("UPLOAD_RETENTION", 10*time.Minute)
	if err != nil {
		return UploadConfig{}, err
	}
	maxBytes, err := parseOptionalInt64Env("UPLOAD_MAX_BYTES")
	if err != nil {
		return UploadConfig{}, err
	}

	cfg := UploadConfig{
		VoiceStep:     voiceStep,
		VoiceInterval: voiceInterval,
		TextStep:      textStep,
		TextInterval:  textInterval,
		MaxBytes:      32 << 20,
		Retention:     retention,
	}
	if maxBytes != nil {
		if *maxBytes <= 0 {
			return UploadConfig{}, fmt.Errorf("invalid UPLOAD_MAX_BYTES value %d: must be positive", *maxBytes)
		}
		cfg.MaxBytes = *maxBytes
	}
	return cfg, nil
}

// CaptureMode 选择麦克风采集实现。
type CaptureMode string

const (
	CaptureSimulated CaptureMode = "simulated"
	CaptureDenied    CaptureMode = "denied"
)

// MediaConfig 描述采集设备配置。
type MediaConfig struct {
	Capture CaptureMode
}

func loadMediaConfig() (MediaConfig, error) {
	mode := CaptureMode(strings.ToLower(getEnvOrDefault("MEDIA_CAPTURE", string(CaptureSimulated))))
	switch mode {
	case CaptureSimulated, CaptureDenied:
		return MediaConfig{Capture: mode}, nil
	default:
		return MediaConfig{}, fmt.Errorf("invalid MEDIA_CAPTURE value %q: want simulated or denied", mode)
	}
}

// EventsConfig 选择事件传输方式；RedisAddr 为空时使用内存总线。
type EventsConfig struct {
	RedisAddr  string
	RedisGroup string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalInt64Env(key string) (*int64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}
