// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables
// with sensible defaults, optionally overlaying a YAML file named by
// WINGOPS_CONFIG_FILE.
//
// # Configuration Structure
//
// Server settings:
//
//	WINGOPS_HOST="0.0.0.0"
//	WINGOPS_PORT="8080"
//	WINGOPS_HEALTH_PORT="9090"
//	WINGOPS_READ_TIMEOUT="15s"
//	WINGOPS_WRITE_TIMEOUT="15s"
//	WINGOPS_SHUTDOWN_TIMEOUT="30s"
//
// Database settings:
//
//	WINGOPS_POSTGRES_URL="postgres://localhost/wingops"
//	WINGOPS_POSTGRES_MAX_CONNS="25"
//	WINGOPS_POSTGRES_IDLE_CONNS="5"
//	WINGOPS_POSTGRES_CONN_LIFETIME="30m"
//
// Snapshot cache settings:
//
//	WINGOPS_CACHE_BACKEND="memory"        # memory or redis
//	WINGOPS_CACHE_TTL="15m"
//	WINGOPS_CACHE_MAX_ENTRIES="4096"
//	WINGOPS_REDIS_ADDR="localhost:6379"
//	WINGOPS_CACHE_STATS_SCHEDULE="@every 1m"
//	WINGOPS_CACHE_WARMUP_PILOTS="id1,id2"
//
// Observability settings:
//
//	WINGOPS_LOG_LEVEL="info"
//	WINGOPS_METRICS_ENABLED="true"
//	WINGOPS_OTEL_ENABLED="false"
//	WINGOPS_OTEL_ENDPOINT="localhost:4317"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	server := &http.Server{Addr: cfg.Server.Addr()}
//
// Validation fails fast on a missing Postgres URL, colliding server and
// health ports, or an unknown cache backend.
package config
