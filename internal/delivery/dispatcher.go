package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Yates-Labs/newsagent/internal/ingest"
	"github.com/Yates-Labs/newsagent/internal/rag"
	"github.com/Yates-Labs/newsagent/internal/retry"
)

// Config controls batch concurrency and redelivery.
type Config struct {
	BatchSize             int
	ParallelizationFactor int
	MaxRetries            int
	RedeliveryDelay       time.Duration
}

// DefaultConfig returns batches of 25, 5 in flight, 2 redeliveries.
func DefaultConfig() Config {
	return Config{
		BatchSize:             25,
		ParallelizationFactor: 5,
		MaxRetries:            2,
		RedeliveryDelay:       time.Second,
	}
}

// Validate checks the delivery settings.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.ParallelizationFactor <= 0 {
		return fmt.Errorf("parallelization factor must be positive, got %d", c.ParallelizationFactor)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative, got %d", c.MaxRetries)
	}
	return nil
}

// Dispatcher runs batches on a bounded worker pool. Batches share no state.
type Dispatcher struct {
	processor  Processor
	deadLetter DeadLetter
	config     Config
	pool       *ants.Pool
	wg         sync.WaitGroup
	sleep      retry.SleepFunc
	logger     *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithSleep replaces the wait between redeliveries.
func WithSleep(sleep retry.SleepFunc) DispatcherOption {
	return func(d *Dispatcher) {
		d.sleep = sleep
	}
}

// NewDispatcher creates a dispatcher with ParallelizationFactor workers.
func NewDispatcher(processor Processor, deadLetter DeadLetter, config Config, opts ...DispatcherOption) (*Dispatcher, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if deadLetter == nil {
		return nil, fmt.Errorf("dead letter sink cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		processor:  processor,
		deadLetter: deadLetter,
		config:     config,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")

	pool, err := ants.NewPool(config.ParallelizationFactor, ants.WithPanicHandler(func(p any) {
		d.logger.Error("batch worker panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	d.pool = pool
	return d, nil
}

var errWorkerPanicked = errors.New("batch worker panicked")

// BatchSize returns the configured records per batch.
func (d *Dispatcher) BatchSize() int {
	return d.config.BatchSize
}

// Submit queues a batch, blocking while every worker is busy. done, if not
// nil, is called once with the batch outcome from the worker goroutine.
func (d *Dispatcher) Submit(ctx context.Context, batch Batch, done func(Outcome)) error {
	d.wg.Add(1)
	err := d.pool.Submit(func() {
		defer d.wg.Done()
		// A panicking batch is still reported, as a failure
		outcome := Outcome{Batch: batch, Err: errWorkerPanicked}
		defer func() {
			if done != nil {
				done(outcome)
			}
		}()
		outcome = d.run(ctx, batch)
	})
	if err != nil {
		d.wg.Done()
		return fmt.Errorf("submitting batch: %w", err)
	}
	return nil
}

// Wait blocks until every submitted batch has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Release waits for in-flight batches and stops the workers.
func (d *Dispatcher) Release() {
	d.Wait()
	d.pool.Release()
}

func (d *Dispatcher) run(ctx context.Context, batch Batch) Outcome {
	outcome := Outcome{Batch: batch}
	logger := d.logger.With("source", batch.Source, "records", len(batch.Records))

	// Malformed records are diverted one by one and never fail their siblings
	var valid []Record
	var events []rag.DocumentEvent
	for _, r := range batch.Records {
		event, err := ingest.ParseEvent(r.Data)
		if err != nil {
			logger.Warn("dead-lettering malformed record", "record", r.ID, "err", err)
			if dlqErr := d.sendDeadLetter(ctx, batch.Source, ReasonMalformed, err, 1, []Record{r}); dlqErr != nil {
				outcome.Err = dlqErr
				return outcome
			}
			outcome.DeadLettered++
			continue
		}
		valid = append(valid, r)
		events = append(events, event)
	}
	if len(events) == 0 {
		return outcome
	}

	policy := retry.Policy{
		MaxAttempts: d.config.MaxRetries + 1,
		Backoff:     retry.Exponential(d.config.RedeliveryDelay),
		Retryable:   func(err error) bool { return !errors.Is(err, ingest.ErrMalformedEvent) },
		Sleep:       d.sleep,
		Logger:      logger,
	}

	err := policy.Do(ctx, func(ctx context.Context) error {
		outcome.Attempts++
		// Records in a batch run strictly in order; a failure redelivers the whole batch
		for i, event := range events {
			if _, err := d.processor.Process(ctx, event); err != nil {
				return fmt.Errorf("record %s: %w", valid[i].ID, err)
			}
		}
		return nil
	})
	if err == nil {
		outcome.Processed = len(events)
		logger.Info("batch processed", "attempts", outcome.Attempts)
		return outcome
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		outcome.Err = ctxErr
		return outcome
	}

	reason := ReasonRetriesExhausted
	if errors.Is(err, ingest.ErrMalformedEvent) {
		reason = ReasonMalformed
	}
	logger.Error("dead-lettering batch", "attempts", outcome.Attempts, "reason", reason, "err", err)
	if dlqErr := d.sendDeadLetter(ctx, batch.Source, reason, err, outcome.Attempts, valid); dlqErr != nil {
		outcome.Err = dlqErr
		return outcome
	}
	outcome.DeadLettered += len(valid)
	return outcome
}

func (d *Dispatcher) sendDeadLetter(ctx context.Context, source, reason string, cause error, attempts int, records []Record) error {
	err := d.deadLetter.Send(ctx, DeadLetterMessage{
		Source:   source,
		Reason:   reason,
		Error:    cause.Error(),
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
		Records:  deadRecords(records),
	})
	if err != nil {
		return fmt.Errorf("sending to dead letter: %w", err)
	}
	return nil
}
