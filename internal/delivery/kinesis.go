package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"golang.org/x/sync/errgroup"

	"github.com/Yates-Labs/newsagent/internal/checkpoint"
)

// KinesisAPI is the subset of the Kinesis client used by KinesisSource.
type KinesisAPI interface {
	ListShards(ctx context.Context, params *kinesis.ListShardsInput, optFns ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error)
	GetShardIterator(ctx context.Context, params *kinesis.GetShardIteratorInput, optFns ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, params *kinesis.GetRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error)
}

// CheckpointStore persists the committed position of each shard.
type CheckpointStore interface {
	Save(ctx context.Context, stream, shardID, sequenceNumber string) error
	Load(ctx context.Context, stream, shardID string) (*checkpoint.Checkpoint, error)
}

// KinesisConfig selects the stream and polling behavior.
type KinesisConfig struct {
	StreamName   string
	PollInterval time.Duration
	// StartAtLatest skips existing records on shards without a checkpoint
	StartAtLatest bool
}

// KinesisSource polls every shard of a stream and commits a shard position
// only after every batch up to it has been processed or dead-lettered.
type KinesisSource struct {
	client      KinesisAPI
	checkpoints CheckpointStore
	dispatcher  *Dispatcher
	config      KinesisConfig
	logger      *slog.Logger
}

// NewKinesisSource creates a consumer for config.StreamName.
func NewKinesisSource(client KinesisAPI, checkpoints CheckpointStore, dispatcher *Dispatcher, config KinesisConfig, logger *slog.Logger) (*KinesisSource, error) {
	if client == nil || checkpoints == nil || dispatcher == nil {
		return nil, fmt.Errorf("kinesis client, checkpoint store and dispatcher are required")
	}
	if config.StreamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KinesisSource{
		client:      client,
		checkpoints: checkpoints,
		dispatcher:  dispatcher,
		config:      config,
		logger:      logger.With("component", "kinesis_source", "stream", config.StreamName),
	}, nil
}

// Run consumes every shard until ctx ends or all shards are closed.
// Shards are listed again whenever one closes, and a child shard is started
// only once its parents have been drained, so a reshard is followed without
// a restart. Cancellation is a clean shutdown and returns nil once in-flight
// batches have finished.
func (s *KinesisSource) Run(ctx context.Context) error {
	shards, err := s.listShards(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("consuming stream", "shards", len(shards))

	g, gctx := errgroup.WithContext(ctx)
	tracker := &shardTracker{started: map[string]bool{}, drained: map[string]bool{}}

	var launch func(shards []types.Shard)
	launch = func(shards []types.Shard) {
		for _, shardID := range tracker.ready(shards) {
			g.Go(func() error {
				if err := s.consumeShard(gctx, shardID); err != nil {
					return err
				}
				tracker.drain(shardID)
				shards, err := s.listShards(gctx)
				if err != nil {
					return err
				}
				launch(shards)
				return nil
			})
		}
	}
	launch(shards)

	err = g.Wait()
	s.dispatcher.Wait()

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// shardTracker decides which listed shards may start.
type shardTracker struct {
	mu      sync.Mutex
	started map[string]bool
	drained map[string]bool
}

// ready marks and returns the shards that have not started and whose
// parents are drained or no longer listed.
func (t *shardTracker) ready(shards []types.Shard) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	listed := make(map[string]bool, len(shards))
	for _, shard := range shards {
		listed[aws.ToString(shard.ShardId)] = true
	}
	var out []string
	for _, shard := range shards {
		id := aws.ToString(shard.ShardId)
		if t.started[id] {
			continue
		}
		waiting := false
		for _, parent := range []*string{shard.ParentShardId, shard.AdjacentParentShardId} {
			if p := aws.ToString(parent); p != "" && listed[p] && !t.drained[p] {
				waiting = true
			}
		}
		if waiting {
			continue
		}
		t.started[id] = true
		out = append(out, id)
	}
	return out
}

func (t *shardTracker) drain(shardID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drained[shardID] = true
}

func (s *KinesisSource) listShards(ctx context.Context) ([]types.Shard, error) {
	var shards []types.Shard
	input := &kinesis.ListShardsInput{StreamName: aws.String(s.config.StreamName)}
	for {
		out, err := s.client.ListShards(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("listing shards of %s: %w", s.config.StreamName, err)
		}
		shards = append(shards, out.Shards...)
		if out.NextToken == nil {
			return shards, nil
		}
		// StreamName and NextToken are mutually exclusive
		input = &kinesis.ListShardsInput{NextToken: out.NextToken}
	}
}

func (s *KinesisSource) shardIterator(ctx context.Context, shardID string) (*string, error) {
	input := &kinesis.GetShardIteratorInput{
		StreamName:        aws.String(s.config.StreamName),
		ShardId:           aws.String(shardID),
		ShardIteratorType: types.ShardIteratorTypeTrimHorizon,
	}
	if s.config.StartAtLatest {
		input.ShardIteratorType = types.ShardIteratorTypeLatest
	}

	cp, err := s.checkpoints.Load(ctx, s.config.StreamName, shardID)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		input.ShardIteratorType = types.ShardIteratorTypeAfterSequenceNumber
		input.StartingSequenceNumber = aws.String(cp.SequenceNumber)
	}

	out, err := s.client.GetShardIterator(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("getting iterator for shard %s: %w", shardID, err)
	}
	return out.ShardIterator, nil
}

func (s *KinesisSource) consumeShard(ctx context.Context, shardID string) error {
	logger := s.logger.With("shard", shardID)
	iterator, err := s.shardIterator(ctx, shardID)
	if err != nil {
		return err
	}

	progress := newShardProgress()
	// Held across finish and Save so checkpoints are written in order
	var commitMu sync.Mutex
	var inflight sync.WaitGroup
	done := func(seq int) func(Outcome) {
		return func(o Outcome) {
			defer inflight.Done()
			commitMu.Lock()
			defer commitMu.Unlock()
			committed, ok := progress.finish(seq, o.Err == nil)
			if o.Err != nil {
				logger.Error("batch not committed, shard position held", "err", o.Err)
				return
			}
			if !ok {
				return
			}
			// Saved with a fresh context so a shutdown still records finished work
			if err := s.checkpoints.Save(context.WithoutCancel(ctx), s.config.StreamName, shardID, committed); err != nil {
				logger.Error("saving checkpoint", "sequence", committed, "err", err)
			}
		}
	}

	limit := int32(s.dispatcher.BatchSize())
	for iterator != nil {
		out, err := s.client.GetRecords(ctx, &kinesis.GetRecordsInput{
			ShardIterator: iterator,
			Limit:         aws.Int32(limit),
		})
		if err != nil {
			return fmt.Errorf("reading shard %s: %w", shardID, err)
		}

		if len(out.Records) > 0 {
			batch := Batch{Source: s.config.StreamName + "/" + shardID}
			for _, r := range out.Records {
				batch.Records = append(batch.Records, Record{ID: aws.ToString(r.SequenceNumber), Data: r.Data})
			}
			seq := progress.start(batch.Records[len(batch.Records)-1].ID)
			inflight.Add(1)
			if err := s.dispatcher.Submit(ctx, batch, done(seq)); err != nil {
				inflight.Done()
				return err
			}
		}

		iterator = out.NextShardIterator
		if iterator == nil {
			// Children of this shard must not overtake its records
			inflight.Wait()
			logger.Info("shard closed")
			return nil
		}
		if len(out.Records) == 0 || aws.ToInt64(out.MillisBehindLatest) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.config.PollInterval):
			}
		}
	}
	return nil
}

// shardProgress tracks batches of one shard that finish out of order and
// yields the highest sequence number below which every batch succeeded.
type shardProgress struct {
	mu        sync.Mutex
	next      int
	committed int
	lastSeq   map[int]string
	finished  map[int]bool
	blocked   bool
}

func newShardProgress() *shardProgress {
	return &shardProgress{lastSeq: map[int]string{}, finished: map[int]bool{}}
}

// start registers a batch ending at sequenceNumber and returns its position.
func (p *shardProgress) start(sequenceNumber string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	seq := p.next
	p.next++
	p.lastSeq[seq] = sequenceNumber
	return seq
}

// finish marks a batch done. It returns the new committable sequence number
// when the contiguous prefix of successful batches grew. A failed batch
// blocks every later commit.
func (p *shardProgress) finish(seq int, ok bool) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !ok {
		p.blocked = true
	}
	if p.blocked {
		return "", false
	}
	p.finished[seq] = true

	var committed string
	advanced := false
	for p.finished[p.committed] {
		committed = p.lastSeq[p.committed]
		delete(p.finished, p.committed)
		delete(p.lastSeq, p.committed)
		p.committed++
		advanced = true
	}
	return committed, advanced
}
