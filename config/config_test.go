package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulsago.yaml")
	yaml := `
broker:
  addr: broker.example.com:6650
  topic: persistent://public/default/orders-partition-3
producer:
  batch_size: 50
  compression_type: LZ4
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "broker.example.com:6650", cfg.Broker.Addr)
	require.Equal(t, "persistent://public/default/orders-partition-3", cfg.Broker.Topic)
	require.Equal(t, 50, cfg.Producer.BatchSize)
	require.Equal(t, CompressionLZ4, cfg.Producer.CompressionType)
	// Defaults survive for fields the file didn't set.
	require.Equal(t, "pulsago-client", cfg.Broker.ClientVersion)
}

func TestLoadRejectsMissingTopic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulsago.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker:\n  addr: x:1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsUnknownCompression(t *testing.T) {
	cfg := Default()
	cfg.Broker.Topic = "t"
	cfg.Producer.CompressionType = "BOGUS"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeBatchSize(t *testing.T) {
	cfg := Default()
	cfg.Broker.Topic = "t"
	cfg.Producer.BatchSize = -1
	require.Error(t, cfg.Validate())
}
