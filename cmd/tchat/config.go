package main

import "time"

type Config struct {
	Host           string        `env:"HOST,default=localhost"`
	Port           int           `env:"PORT,default=8080" validate:"gte=1,lte=65535"`
	MaxSessions    int           `env:"MAX_SESSIONS,default=10" validate:"gte=1"`
	SendBufferSize int           `env:"SEND_BUFFER_SIZE,default=16" validate:"gte=1"`
	ShutdownGrace  time.Duration `env:"SHUTDOWN_GRACE,default=5s"`
	LogLevel       string        `env:"LOG_LEVEL,default=INFO"`
	MetricsPort    *int          `env:"METRICS_PORT"`
}
