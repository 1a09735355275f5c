// =============================================================================
// 📦 reclip 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Storage:    DefaultStorageConfig(),
		Providers:  DefaultProvidersConfig(),
		Generation: DefaultGenerationConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		Password:    "",
		DB:          0,
		TerminalTTL: 7 * 24 * time.Hour,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:  "postgres",
		Host:    "localhost",
		Port:    5432,
		User:    "reclip",
		Name:    "reclip",
		SSLMode: "disable",
	}
}

// DefaultStorageConfig 返回默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		WorkDir:        filepath.Join(os.TempDir(), "reclip"),
		MaxUploadBytes: 10 << 20, // 10 MB
	}
}

// DefaultProvidersConfig 返回默认供应商端点配置
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		GeminiModel: "gemini-3-flash-preview",
	}
}

// DefaultGenerationConfig 返回默认生成流水线配置
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxConcurrentClips: 3,
		PollInterval:       5 * time.Second,
		ClipTimeoutFactor:  10.0,
		ClipTimeoutMin:     2 * time.Minute,
		SessionTimeout:     30 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "reclip",
		SampleRate:   0.1,
	}
}
