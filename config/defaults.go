// =============================================================================
// 📦 GatewayFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Routing:   DefaultRoutingConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Quota:     DefaultQuotaConfig(),
		Upstream:  DefaultUpstreamConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Auth:      DefaultAuthConfig(),
	}
}

// DefaultAuthConfig 返回默认鉴权配置。生产部署必须通过
// GATEWAYFLOW_AUTH_JWT_SECRET 覆盖空密钥。
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{JWTSecret: ""}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		GRPCPort:        9090,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultRoutingConfig 返回默认路由配置
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		DefaultEpsilon:     0.1,
		AffinityBonus:      0.15,
		AffinityTTL:        10 * time.Minute,
		BreakerProbeWeight: 0.05,
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
		User:            "gatewayflow",
		Password:        "",
		Name:            "gatewayflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultQuotaConfig 返回默认配额配置
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		DefaultDailyTokens:    1_000_000,
		DefaultDailyRequests:  10_000,
		DefaultMonthlyCostUSD: 500,
	}
}

// DefaultUpstreamConfig 返回默认上游调用配置
func DefaultUpstreamConfig() UpstreamConfig {
	return UpstreamConfig{
		ConnectTimeout:          5 * time.Second,
		FirstByteTimeout:        30 * time.Second,
		IdleTimeout:             30 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerOpenDuration:     30 * time.Second,
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
		ServiceName:  "gatewayflow",
		SampleRate:   0.1,
	}
}
