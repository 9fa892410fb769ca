// =============================================================================
// 📦 PipeFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Executor:    DefaultExecutorConfig(),
		Checkpoint:  DefaultCheckpointConfig(),
		Graphs:      DefaultGraphsConfig(),
		Redis:       DefaultRedisConfig(),
		Database:    DefaultDatabaseConfig(),
		Mongo:       DefaultMongoConfig(),
		ObjectStore: DefaultObjectStoreConfig(),
		JWT:         DefaultJWTConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultExecutorConfig 返回默认执行器配置
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxIterations:       100,
		StepTimeout:         5 * time.Minute,
		StepRateLimit:       0,
		StepRateBurst:       1,
		CheckpointEveryStep: false,
		RetainCompleted:     false,
		LeaseTTL:            30 * time.Second,
		Parallelism:         4,
		TokenEncoding:       "cl100k_base",
	}
}

// DefaultCheckpointConfig 返回默认检查点配置
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Type:         "memory",
		Codec:        "json",
		Dir:          "./data/checkpoints",
		KeyPrefix:    "pipeflow:",
		TTL:          0,
		Table:        "pipeflow_checkpoints",
		AutoMigrate:  false,
		Collection:   "checkpoints",
		ObjectPrefix: "checkpoints/",
	}
}

// DefaultGraphsConfig 返回默认图加载配置
func DefaultGraphsConfig() GraphsConfig {
	return GraphsConfig{
		Pattern: "graphs/**/*.{yaml,yml,json}",
		Builtin: true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "pipeflow",
		Password:        "",
		Name:            "pipeflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "pipeflow",
		ConnectTimeout: 10 * time.Second,
	}
}

// DefaultObjectStoreConfig 返回默认对象存储配置
func DefaultObjectStoreConfig() ObjectStoreConfig {
	return ObjectStoreConfig{
		Endpoint: "localhost:9000",
		Region:   "us-east-1",
		UseSSL:   false,
		Bucket:   "pipeflow",
	}
}

// DefaultJWTConfig 返回默认 JWT 配置（密钥为空，认证关闭）
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		Issuer: "pipeflow",
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
		ServiceName:  "pipeflow",
		SampleRate:   0.1,
	}
}
