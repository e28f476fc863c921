package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"github.com/Yates-Labs/newsagent/internal/checkpoint"
	"github.com/Yates-Labs/newsagent/internal/config"
	"github.com/Yates-Labs/newsagent/internal/delivery"
	"github.com/Yates-Labs/newsagent/internal/orchestrator"
)

var (
	ingestFile    string
	ingestKinesis bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest news events into the vector index",
	Long: `Ingest news events into the vector index.

Events are JSON objects with event_id, updated_at, summary and event fields.
They are read one per line from --file (or stdin), or consumed from the
Kinesis stream named by ingest.kinesis.stream when --kinesis is set.

Batches are processed concurrently up to ingest.parallelization_factor. A
failing batch is redelivered whole up to ingest.max_retries times and then
sent to the dead-letter sink (ingest.dead_letter).

The in-memory store does not outlive this command; in that mode load
events with serve --events or ask --events instead.

Examples:
  newsagent ingest --file events.jsonl
  cat events.jsonl | newsagent ingest
  newsagent ingest --kinesis`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "JSONL file of events (default stdin)")
	ingestCmd.Flags().BoolVar(&ingestKinesis, "kinesis", false, "Consume events from the configured Kinesis stream")
	ingestCmd.MarkFlagsMutuallyExclusive("file", "kinesis")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	pipeline, err := orchestrator.NewPipeline(ctx, cfg, orchestrator.WithLogger(logger))
	if err != nil {
		return err
	}
	defer pipeline.Close()

	if ingestKinesis {
		return withDispatcher(ctx, pipeline, func(dispatcher *delivery.Dispatcher) error {
			return consumeKinesis(ctx, cfg.Ingest.Kinesis, dispatcher)
		})
	}
	return loadEvents(cmd, pipeline, ingestFile)
}

// loadEvents ingests a JSONL file, or stdin for "" and "-", and prints the
// totals.
func loadEvents(cmd *cobra.Command, pipeline *orchestrator.Pipeline, path string) error {
	ctx := cmd.Context()
	name, r, err := openEvents(path, cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer r.Close()

	var stats delivery.Stats
	err = withDispatcher(ctx, pipeline, func(dispatcher *delivery.Dispatcher) error {
		stats, err = delivery.NewFileSource(name, r, dispatcher, logger).Run(ctx)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "batches=%d processed=%d dead_lettered=%d failed=%d\n",
		stats.Batches, stats.Processed, stats.DeadLettered, stats.Failed)
	return checkStats(stats)
}

// checkStats fails when records were neither processed nor dead-lettered.
func checkStats(stats delivery.Stats) error {
	if stats.Failed > 0 {
		return fmt.Errorf("%d records could not be processed or dead-lettered", stats.Failed)
	}
	return nil
}

func withDispatcher(ctx context.Context, pipeline *orchestrator.Pipeline, run func(*delivery.Dispatcher) error) error {
	deadLetter, closeDeadLetter, err := openDeadLetter(ctx, cfg.Ingest)
	if err != nil {
		return err
	}
	defer closeDeadLetter()

	dispatcher, err := delivery.NewDispatcher(pipeline.Ingest, deadLetter, cfg.DeliveryConfig(), delivery.WithLogger(logger))
	if err != nil {
		return err
	}
	defer dispatcher.Release()
	return run(dispatcher)
}

func openEvents(path string, stdin io.Reader) (string, io.ReadCloser, error) {
	if path == "" || path == "-" {
		return "stdin", io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("opening events: %w", err)
	}
	return filepath.Base(path), f, nil
}

func openDeadLetter(ctx context.Context, ingest config.IngestConfig) (delivery.DeadLetter, func(), error) {
	switch ingest.DeadLetter.Type {
	case config.DeadLetterSQS:
		awsCfg, err := loadAWSConfig(ctx, ingest.Kinesis.Region)
		if err != nil {
			return nil, nil, err
		}
		dlq, err := delivery.NewSQSDeadLetter(sqs.NewFromConfig(awsCfg), ingest.DeadLetter.QueueURL)
		if err != nil {
			return nil, nil, err
		}
		return dlq, func() {}, nil
	default:
		dlq, err := delivery.OpenFileDeadLetter(ingest.DeadLetter.Path)
		if err != nil {
			return nil, nil, err
		}
		return dlq, func() {
			if err := dlq.Close(); err != nil {
				logger.Warn("closing dead-letter file", "err", err)
			}
		}, nil
	}
}

func consumeKinesis(ctx context.Context, kc config.KinesisConfig, dispatcher *delivery.Dispatcher) error {
	awsCfg, err := loadAWSConfig(ctx, kc.Region)
	if err != nil {
		return err
	}

	checkpoints, err := checkpoint.Open(kc.CheckpointDir, logger)
	if err != nil {
		return err
	}
	defer checkpoints.Close()

	source, err := delivery.NewKinesisSource(kinesis.NewFromConfig(awsCfg), checkpoints, dispatcher, delivery.KinesisConfig{
		StreamName:    kc.Stream,
		PollInterval:  kc.PollInterval,
		StartAtLatest: kc.StartAtLatest,
	}, logger)
	if err != nil {
		return err
	}
	return source.Run(ctx)
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return awsCfg, nil
}
