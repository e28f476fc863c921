// Package ingest turns inbound news events into context-enriched vector
// records stored under the event's classified namespace.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Yates-Labs/newsagent/internal/rag"
)

// ErrMalformedEvent marks a record that can never be processed. It is fatal
// for that record only.
var ErrMalformedEvent = errors.New("malformed event")

// ParseEvent decodes one JSON event record and validates it.
func ParseEvent(data []byte) (rag.DocumentEvent, error) {
	var event rag.DocumentEvent
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&event); err != nil {
		return rag.DocumentEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if dec.More() {
		return rag.DocumentEvent{}, fmt.Errorf("%w: trailing data after event", ErrMalformedEvent)
	}
	if err := ValidateEvent(event); err != nil {
		return rag.DocumentEvent{}, err
	}
	return event, nil
}

// ValidateEvent checks that every field the pipeline reads is present.
func ValidateEvent(event rag.DocumentEvent) error {
	var missing []string
	if strings.TrimSpace(event.EventID) == "" {
		missing = append(missing, "event_id")
	}
	if strings.TrimSpace(event.UpdatedAt) == "" {
		missing = append(missing, "updated_at")
	}
	if strings.TrimSpace(event.Summary) == "" {
		missing = append(missing, "summary")
	}
	if strings.TrimSpace(event.Event) == "" {
		missing = append(missing, "event")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedEvent, strings.Join(missing, ", "))
	}
	return nil
}
