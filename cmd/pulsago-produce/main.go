// Command pulsago-produce is a small demo CLI driving a single partition
// producer: it reads newline-delimited values from stdin and publishes each
// as a cast, printing a line per SendReceipt. Flag/command wiring follows
// sawpanic-cryptorun's cmd/cryptorun/main.go (package-level flag vars, a
// cobra root command with RunE).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pulsago/pulsago/config"
	"github.com/pulsago/pulsago/logger"
	"github.com/pulsago/pulsago/metrics"
	"github.com/pulsago/pulsago/pkg/pgo"
	"github.com/pulsago/pulsago/pkg/pmsg"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	configPath string
	key        string
)

var rootCmd = &cobra.Command{
	Use:   "pulsago-produce",
	Short: "Publish stdin lines to a Pulsar partition through pulsago's producer core",
	RunE:  runProduce,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "pulsago.yaml", "path to a producer config file")
	rootCmd.Flags().StringVar(&key, "key", "", "partition key attached to every message")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pulsago-produce: %v\n", err)
		os.Exit(1)
	}
}

func runProduce(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	compression, err := compressionFromConfig(cfg.Producer.CompressionType)
	if err != nil {
		return err
	}

	opts := []pgo.Opt{
		pgo.WithBatchSize(cfg.Producer.BatchSize),
		pgo.WithCompression(compression),
		pgo.WithClientVersion(cfg.Broker.ClientVersion),
		pgo.WithSyncCallTimeout(cfg.Producer.SyncCallTimeout),
		pgo.WithLogger(logger.NewZerolog(zerolog.New(os.Stderr).With().Timestamp().Logger(), logger.LevelInfo)),
		pgo.WithCallback(printReceipt),
	}
	if cfg.Queue.Dir != "" {
		opts = append(opts,
			pgo.WithReplayDir(cfg.Queue.Dir),
			pgo.WithReplaySegBytes(cfg.Queue.SegBytes),
			pgo.WithReplayOffloadMode(cfg.Queue.OffloadMode),
			pgo.WithReplayMaxTotalBytes(cfg.Queue.MaxTotalBytes),
			pgo.WithRetentionPeriod(cfg.Queue.RetentionPeriod),
		)
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, pgo.WithMetrics(metrics.New(prometheus.DefaultRegisterer, cfg.Broker.Topic)))
	}

	producer, err := pgo.New(cfg.Broker.Topic, cfg.Broker.Addr, uint64(time.Now().UnixNano()), opts...)
	if err != nil {
		return fmt.Errorf("construct producer: %w", err)
	}
	producer.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		msg := pgo.Message{Value: []byte(line)}
		if key != "" {
			msg.Key = []byte(key)
		}
		if err := producer.Send([]pgo.Message{msg}); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
	}

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return producer.Close(closeCtx)
}

func printReceipt(res pgo.SendResult) {
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "batch %d failed: %v\n", res.SequenceID, res.Err)
		return
	}
	fmt.Printf("seq=%d messages=%d ledger=%d entry=%d\n", res.SequenceID, res.MessageCount, res.MessageID.LedgerID, res.MessageID.EntryID)
}

func compressionFromConfig(name string) (pmsg.CompressionType, error) {
	switch name {
	case "", config.CompressionNone:
		return pmsg.CompressionNone, nil
	case config.CompressionLZ4:
		return pmsg.CompressionLZ4, nil
	case config.CompressionZSTD:
		return pmsg.CompressionZSTD, nil
	case config.CompressionSnappy:
		return pmsg.CompressionSnappy, nil
	default:
		return 0, fmt.Errorf("unknown compression_type %q", name)
	}
}
