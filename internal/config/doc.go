// Package config loads bufstreamd configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file, then BUFSTREAM_* environment variables.
//
//	cfg, err := config.Load("bufstreamd.yaml")
//	logger, err := config.NewLogger(cfg.Log)
//
// Example file:
//
//	server:
//	  addr: ":8080"
//	  shutdown_timeout: 10s
//	stream:
//	  chunk_size: 65536
//	  rate_bytes_per_sec: 1048576
//	store:
//	  backend: redis
//	  ttl: 1h
//	  redis:
//	    addr: "redis:6379"
//	log:
//	  level: info
//	  format: json
//	report:
//	  schedule: "@every 30s"
package config
