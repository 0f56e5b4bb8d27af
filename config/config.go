// Package config loads a PartitionProducer's settings from a YAML file, in
// the same load/validate/default shape as klaviyo-pulsar-local-lab's
// test-tools/internal/config package, swapped from JSON to YAML (via
// gopkg.in/yaml.v3) since this pack's only other config loader already
// covers the JSON case and spec.md's ambient config surface benefits more
// from exercising a second serialization library than from duplicating one.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Compression names accepted in the compression_type field.
const (
	CompressionNone   = "NONE"
	CompressionLZ4    = "LZ4"
	CompressionZSTD   = "ZSTD"
	CompressionSnappy = "SNAPPY"
)

// Config is a single PartitionProducer's settings (spec.md section 6).
type Config struct {
	Broker   BrokerConfig   `yaml:"broker"`
	Producer ProducerConfig `yaml:"producer"`
	Queue    QueueConfig    `yaml:"queue"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// BrokerConfig is where and how to reach the broker.
type BrokerConfig struct {
	Addr           string        `yaml:"addr"`
	Topic          string        `yaml:"topic"`
	ClientVersion  string        `yaml:"client_version"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	KeepaliveEvery time.Duration `yaml:"keepalive_every"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// ProducerConfig is the batching/compression policy.
type ProducerConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	CompressionType string        `yaml:"compression_type"`
	SyncCallTimeout time.Duration `yaml:"sync_call_timeout"`
}

// QueueConfig is the durable-queue policy (spec.md section 4.3).
type QueueConfig struct {
	Dir             string        `yaml:"dir"`
	SegBytes        int64         `yaml:"seg_bytes"`
	OffloadMode     bool          `yaml:"offload_mode"`
	MaxTotalBytes   int64         `yaml:"max_total_bytes"`
	RetentionPeriod time.Duration `yaml:"retention_period"`
}

// MetricsConfig controls whether a Prometheus collector is wired in.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and validates a Config from a YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// Default returns the baseline configuration New's defaults mirror.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Addr:           "localhost:6650",
			ClientVersion:  "pulsago-client",
			ConnectTimeout: 60 * time.Second,
			SendTimeout:    60 * time.Second,
			KeepaliveEvery: 30 * time.Second,
			ReconnectDelay: 5 * time.Second,
		},
		Producer: ProducerConfig{
			BatchSize:       0,
			CompressionType: CompressionNone,
			SyncCallTimeout: 5 * time.Second,
		},
		Queue: QueueConfig{
			SegBytes:        20 << 20,
			RetentionPeriod: -1,
		},
	}
}

// Validate rejects settings that would never produce a workable producer.
func (c *Config) Validate() error {
	if c.Broker.Addr == "" {
		return fmt.Errorf("broker.addr is required")
	}
	if c.Broker.Topic == "" {
		return fmt.Errorf("broker.topic is required")
	}
	if c.Producer.BatchSize < 0 {
		return fmt.Errorf("producer.batch_size must be non-negative, got %d", c.Producer.BatchSize)
	}
	switch c.Producer.CompressionType {
	case CompressionNone, CompressionLZ4, CompressionZSTD, CompressionSnappy:
	default:
		return fmt.Errorf("producer.compression_type %q is not one of NONE, LZ4, ZSTD, SNAPPY", c.Producer.CompressionType)
	}
	if c.Queue.MaxTotalBytes < 0 {
		return fmt.Errorf("queue.max_total_bytes must be non-negative, got %d", c.Queue.MaxTotalBytes)
	}
	return nil
}
