package config

import (
	// Local Packages
	errors "disburse-engine/errors"
)

var DefaultConfig = []byte(`
application: "disburse-engine"

logger:
  level: "debug"

is_prod_mode: false

currency: "PHP"
amount_scale: 2

mongo:
  uri: "mongodb://localhost:27017"

redis:
  uri: "localhost:6379"
  password: ""

kafka:
  brokers:
    - "localhost:9092"
  consume: true
  topic: "disbursement-requests"
  records_per_poll: 500
  consumer_name: "disburse-engine"

server:
  addr: ":8080"

batch:
  max_size: 100
  cutoff_seconds: 300
  queue_size: 16

retry:
  base_interval_seconds: 30
  max_interval_seconds: 3600
  max_attempts: 5
  poll_seconds: 5
  batch_limit: 100

sla:
  window_seconds: 86400

recon:
  grace_seconds: 3600
  sweep_seconds: 600

providers:
  - code: "MOCKBANK"
    kind: "polling"
    settle_seconds: 300
  - code: "MOCKWALLET"
    kind: "webhook"
    webhook_secret: "dev-secret"
`)

type Config struct {
	Application string     `koanf:"application"`
	Logger      Logger     `koanf:"logger"`
	IsProdMode  bool       `koanf:"is_prod_mode"`
	Currency    string     `koanf:"currency"`
	AmountScale int32      `koanf:"amount_scale"`
	Mongo       Mongo      `koanf:"mongo"`
	Redis       Redis      `koanf:"redis"`
	Kafka       Kafka      `koanf:"kafka"`
	Server      Server     `koanf:"server"`
	Batch       Batch      `koanf:"batch"`
	Retry       Retry      `koanf:"retry"`
	SLA         SLA        `koanf:"sla"`
	Recon       Recon      `koanf:"recon"`
	Providers   []Provider `koanf:"providers"`
}

type Logger struct {
	Level string `koanf:"level"`
}

type Mongo struct {
	URI string `koanf:"uri"`
}

type Redis struct {
	URI      string `koanf:"uri"`
	Password string `koanf:"password"`
}

type Kafka struct {
	Brokers        []string `koanf:"brokers"`
	Consume        bool     `koanf:"consume"`
	Topic          string   `koanf:"topic"`
	RecordsPerPoll int      `koanf:"records_per_poll"`
	ConsumerName   string   `koanf:"consumer_name"`
}

type Server struct {
	Addr string `koanf:"addr"`
}

type Batch struct {
	MaxSize       int `koanf:"max_size"`
	CutoffSeconds int `koanf:"cutoff_seconds"`
	QueueSize     int `koanf:"queue_size"`
}

type Retry struct {
	BaseIntervalSeconds int   `koanf:"base_interval_seconds"`
	MaxIntervalSeconds  int   `koanf:"max_interval_seconds"`
	MaxAttempts         int   `koanf:"max_attempts"`
	PollSeconds         int   `koanf:"poll_seconds"`
	BatchLimit          int64 `koanf:"batch_limit"`
}

type SLA struct {
	WindowSeconds int `koanf:"window_seconds"`
}

type Recon struct {
	GraceSeconds int `koanf:"grace_seconds"`
	SweepSeconds int `koanf:"sweep_seconds"`
}

type Provider struct {
	Code          string `koanf:"code"`
	Kind          string `koanf:"kind"`
	SettleSeconds int    `koanf:"settle_seconds"`
	WebhookSecret string `koanf:"webhook_secret"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	ve := errors.ValidationErrs()

	if c.Application == "" {
		ve.Add("application", "cannot be empty")
	}
	if c.Logger.Level == "" {
		ve.Add("logger.level", "cannot be empty")
	}
	if c.Currency == "" {
		ve.Add("currency", "cannot be empty")
	}
	if c.AmountScale < 0 {
		ve.Add("amount_scale", "cannot be negative")
	}
	if c.Mongo.URI == "" {
		ve.Add("mongo.uri", "cannot be empty")
	}
	if c.Redis.URI == "" {
		ve.Add("redis.uri", "cannot be empty")
	}
	if len(c.Kafka.Brokers) == 0 {
		ve.Add("kafka.brokers", "cannot be empty")
	}
	if c.Batch.MaxSize <= 0 {
		ve.Add("batch.max_size", "must be positive")
	}
	if c.Batch.CutoffSeconds <= 0 {
		ve.Add("batch.cutoff_seconds", "must be positive")
	}
	if c.Batch.QueueSize <= 0 {
		ve.Add("batch.queue_size", "must be positive")
	}
	if c.Retry.BaseIntervalSeconds <= 0 {
		ve.Add("retry.base_interval_seconds", "must be positive")
	}
	if c.Retry.MaxIntervalSeconds <= 0 {
		ve.Add("retry.max_interval_seconds", "must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		ve.Add("retry.max_attempts", "must be positive")
	}
	if c.Retry.PollSeconds <= 0 {
		ve.Add("retry.poll_seconds", "must be positive")
	}
	if c.SLA.WindowSeconds <= 0 {
		ve.Add("sla.window_seconds", "must be positive")
	}
	if c.Recon.SweepSeconds <= 0 {
		ve.Add("recon.sweep_seconds", "must be positive")
	}
	if len(c.Providers) == 0 {
		ve.Add("providers", "cannot be empty")
	}
	for _, p := range c.Providers {
		if p.Code == "" {
			ve.Add("providers.code", "cannot be empty")
		}
		if p.Kind != "polling" && p.Kind != "webhook" {
			ve.Add("providers.kind", "must be polling or webhook")
		}
		if p.Kind == "webhook" && p.WebhookSecret == "" {
			ve.Add("providers.webhook_secret", "cannot be empty for webhook providers")
		}
	}

	return ve.Err()
}
