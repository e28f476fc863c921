// Package delivery feeds event records from a stream into the ingestion
// pipeline with at-least-once semantics: batches run concurrently, records
// inside a batch run in order, failed batches are redelivered a bounded
// number of times and then diverted to a dead-letter sink.
package delivery

import (
	"context"
	"time"

	"github.com/Yates-Labs/newsagent/internal/ingest"
	"github.com/Yates-Labs/newsagent/internal/rag"
)

// Record is one raw event as read from a source.
type Record struct {
	// ID locates the record in its source (sequence number, line number)
	ID   string
	Data []byte
}

// Batch is the unit of delivery and redelivery.
type Batch struct {
	Source  string
	Records []Record
}

// Processor ingests one parsed event.
type Processor interface {
	Process(ctx context.Context, event rag.DocumentEvent) (ingest.Result, error)
}

// DeadLetter receives records that could not be processed.
type DeadLetter interface {
	Send(ctx context.Context, msg DeadLetterMessage) error
}

// DeadLetterMessage describes records diverted from the stream.
type DeadLetterMessage struct {
	Source   string       `json:"source"`
	Reason   string       `json:"reason"`
	Error    string       `json:"error"`
	Attempts int          `json:"attempts"`
	FailedAt time.Time    `json:"failed_at"`
	Records  []DeadRecord `json:"records"`
}

// DeadRecord is a diverted record. Data holds the raw payload as text.
type DeadRecord struct {
	ID        string `json:"id"`
	Data      string `json:"data"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Dead-letter reasons
const (
	ReasonMalformed        = "malformed"
	ReasonRetriesExhausted = "retries_exhausted"
)

// Outcome reports how a batch finished. Err is set only when the batch was
// neither processed nor dead-lettered, so its position must not be committed.
type Outcome struct {
	Batch        Batch
	Processed    int
	DeadLettered int
	Attempts     int
	Err          error
}

func deadRecords(records []Record) []DeadRecord {
	out := make([]DeadRecord, len(records))
	for i, r := range records {
		out[i] = DeadRecord{ID: r.ID, Data: string(r.Data)}
	}
	return out
}
