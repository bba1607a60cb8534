package main

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	ServiceConfig struct {
		Environment string `yaml:"environment" env:"SENTRY_ENVIRONMENT" env-default:"development"`
		Port        string `yaml:"port" env:"PORT" env-default:"8080"`

		SentryDSN string `yaml:"sentry_dsn" env:"SENTRY_DSN"`
		LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

		SlowCallThreshold time.Duration `yaml:"slow_call_threshold" env:"SLOW_CALL_THRESHOLD" env-default:"0s"`

		MetricsMaxMethods uint `yaml:"metrics_max_methods" env:"METRICS_MAX_METHODS" env-default:"100"`
		MetricsMaxSamples uint `yaml:"metrics_max_samples" env:"METRICS_MAX_SAMPLES" env-default:"1000"`

		TraceCapacity int `yaml:"trace_capacity" env:"TRACE_CAPACITY" env-default:"10000"`

		ExportInterval  time.Duration `yaml:"export_interval" env:"EXPORT_INTERVAL" env-default:"1m"`
		ExportBucketURL string        `yaml:"export_bucket_url" env:"EXPORT_BUCKET_URL"`
		ExportPrefix    string        `yaml:"export_prefix" env:"EXPORT_PREFIX" env-default:"class-profiles"`

		KafkaBrokers []string `yaml:"kafka_brokers" env:"KAFKA_BROKERS"`
		KafkaTopic   string   `yaml:"kafka_topic" env:"KAFKA_TOPIC" env-default:"class-profiles"`

		Workload         bool          `yaml:"workload" env:"WORKLOAD"`
		WorkloadInterval time.Duration `yaml:"workload_interval" env:"WORKLOAD_INTERVAL" env-default:"10s"`
		// WorkloadScale multiplies the sleeps of the demo workload.
		WorkloadScale float64 `yaml:"workload_scale" env:"WORKLOAD_SCALE" env-default:"0.1"`
	}
)

// loadConfig reads the YAML file at path, if any, then the environment.
// Environment variables take precedence.
func loadConfig(path string) (ServiceConfig, error) {
	var c ServiceConfig
	if path != "" {
		err := cleanenv.ReadConfig(path, &c)
		return c, err
	}
	err := cleanenv.ReadEnv(&c)
	return c, err
}
