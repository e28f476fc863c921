package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Yates-Labs/newsagent/internal/rag"
)

// Reference is a labelled text stored in the router partition.
type Reference struct {
	Namespace rag.Namespace `json:"namespace"`
	Text      string        `json:"text"`
}

// DefaultReferences returns a small reference set per topic.
func DefaultReferences() []Reference {
	return []Reference{
		{rag.NamespaceTech, "Technology news about software, smartphones, chips, artificial intelligence and the internet."},
		{rag.NamespaceTech, "A company released a new gadget, app update or cloud computing product."},
		{rag.NamespaceTech, "Cybersecurity researchers disclosed a data breach affecting online services."},
		{rag.NamespaceWorld, "International news about governments, elections, diplomacy and armed conflicts."},
		{rag.NamespaceWorld, "World leaders met at a summit to discuss a peace agreement and sanctions."},
		{rag.NamespaceWorld, "A natural disaster struck a country and humanitarian aid was sent."},
		{rag.NamespaceSports, "Sports news about football, basketball, tennis, athletes and tournaments."},
		{rag.NamespaceSports, "The team won the match after a late goal in the championship final."},
		{rag.NamespaceSports, "A player signed a transfer deal and the coach announced the squad."},
		{rag.NamespaceBusiness, "Business news about markets, earnings, companies, trade and the economy."},
		{rag.NamespaceBusiness, "Shares rose after the central bank changed interest rates and inflation slowed."},
		{rag.NamespaceBusiness, "The firm reported quarterly revenue and announced a merger with a rival."},
	}
}

// ReadReferences decodes references from newline-delimited JSON.
func ReadReferences(r io.Reader) ([]Reference, error) {
	var refs []Reference
	dec := json.NewDecoder(r)
	for {
		var ref Reference
		err := dec.Decode(&ref)
		if errors.Is(err, io.EOF) {
			return refs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reference %d: %w", ErrMalformedEvent, len(refs), err)
		}
		refs = append(refs, ref)
	}
}

// SeedRouter embeds references as passages and upserts them into the router
// partition with ids router-{namespace}-{n}. Seeding the same set again
// overwrites it.
func SeedRouter(ctx context.Context, embedder rag.Embedder, store rag.VectorStore, refs []Reference) (int, error) {
	if len(refs) == 0 {
		return 0, rag.ErrEmptyRecords
	}

	texts := make([]string, len(refs))
	for i, ref := range refs {
		if _, err := rag.ParseNamespace(string(ref.Namespace)); err != nil {
			return 0, fmt.Errorf("reference %d: %w", i, err)
		}
		if ref.Text == "" {
			return 0, fmt.Errorf("%w: reference %d has no text", ErrMalformedEvent, i)
		}
		texts[i] = ref.Text
	}

	vectors, err := embedder.Embed(ctx, texts, rag.InputPassage)
	if err != nil {
		return 0, fmt.Errorf("embedding references: %w", err)
	}
	if len(vectors) != len(refs) {
		return 0, fmt.Errorf("%w: got %d vectors for %d references", rag.ErrEmbeddingFailed, len(vectors), len(refs))
	}

	counts := map[rag.Namespace]int{}
	records := make([]rag.VectorRecord, len(refs))
	for i, ref := range refs {
		records[i] = rag.VectorRecord{
			ID:     fmt.Sprintf("router-%s-%d", ref.Namespace, counts[ref.Namespace]),
			Values: vectors[i],
			Metadata: rag.Metadata{
				Text:      ref.Text,
				Namespace: string(ref.Namespace),
			},
		}
		counts[ref.Namespace]++
	}

	if err := store.Upsert(ctx, rag.NamespaceRouter, records); err != nil {
		return 0, fmt.Errorf("upserting references: %w", err)
	}
	return len(records), nil
}
