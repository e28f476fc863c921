package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

var (
	ErrConnectionFailed = errors.New("failed to connect to Milvus")
	ErrUpsertFailed     = errors.New("failed to upsert records")
	ErrSearchFailed     = errors.New("failed to search vectors")
)

// Field names of the news collection
const (
	fieldID        = "id"
	fieldEventID   = "event_id"
	fieldText      = "text"
	fieldSummary   = "summary"
	fieldUpdatedAt = "updated_at"
	fieldNamespace = "namespace"
	fieldEmbedding = "embedding"
)

var metadataFields = []string{fieldEventID, fieldText, fieldSummary, fieldUpdatedAt, fieldNamespace}

// MilvusConfig holds configuration for Milvus connection and collection
type MilvusConfig struct {
	Address        string // Milvus server or Zilliz endpoint (e.g., "localhost:19530")
	APIKey         string // Optional token for managed deployments
	CollectionName string
	Dimension      int

	// HNSW index parameters
	M              int
	EfConstruction int
	SearchEf       int
}

// DefaultMilvusConfig returns a local Milvus setup for 1024-dimensional vectors.
func DefaultMilvusConfig() MilvusConfig {
	return MilvusConfig{
		Address:        "localhost:19530",
		CollectionName: "news_chunks",
		Dimension:      1024,
		M:              16,
		EfConstruction: 256,
		SearchEf:       64,
	}
}

// MilvusStore implements VectorStore on a single Milvus collection with one
// partition per namespace. Records are keyed by a VarChar primary key so an
// upsert replaces the previous version of a chunk.
type MilvusStore struct {
	client client.Client
	config MilvusConfig
	logger *slog.Logger
}

// MilvusOption configures a MilvusStore.
type MilvusOption func(*MilvusStore)

// WithMilvusLogger sets the store logger.
func WithMilvusLogger(logger *slog.Logger) MilvusOption {
	return func(m *MilvusStore) {
		m.logger = logger
	}
}

// NewMilvusStore connects to Milvus and ensures the collection and every
// namespace partition exist.
func NewMilvusStore(ctx context.Context, config MilvusConfig, opts ...MilvusOption) (*MilvusStore, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrDimensionMismatch)
	}

	c, err := client.NewClient(ctx, client.Config{
		Address: config.Address,
		APIKey:  config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := newMilvusStore(c, config, opts...)
	if err := store.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return store, nil
}

func newMilvusStore(c client.Client, config MilvusConfig, opts ...MilvusOption) *MilvusStore {
	store := &MilvusStore{
		client: c,
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(store)
	}
	store.logger = store.logger.With("component", "milvus", "collection", config.CollectionName)
	return store
}

// collectionSchema describes the news collection.
func collectionSchema(name string, dimension int) *entity.Schema {
	varchar := func(field string, maxLen int) *entity.Field {
		return entity.NewField().
			WithName(field).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(int64(maxLen))
	}

	return entity.NewSchema().
		WithName(name).
		WithDescription("contextual news chunks and router reference vectors").
		WithAutoID(false).
		WithField(varchar(fieldID, 256).WithIsPrimaryKey(true)).
		WithField(varchar(fieldEventID, 256)).
		WithField(varchar(fieldText, 65535)).
		WithField(varchar(fieldSummary, 65535)).
		WithField(varchar(fieldUpdatedAt, 64)).
		WithField(varchar(fieldNamespace, 64)).
		WithField(entity.NewField().
			WithName(fieldEmbedding).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dimension)))
}

// ensureCollection creates the collection, its HNSW index and the namespace
// partitions if they are missing, then loads the collection.
func (m *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.config.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !has {
		m.logger.Info("creating collection", "dimension", m.config.Dimension)
		schema := collectionSchema(m.config.CollectionName, m.config.Dimension)
		if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexHNSW(entity.COSINE, m.config.M, m.config.EfConstruction)
		if err != nil {
			return fmt.Errorf("failed to create index config: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.config.CollectionName, fieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	namespaces := append([]Namespace{NamespaceRouter}, TopicalNamespaces...)
	for _, ns := range namespaces {
		if err := m.ensurePartition(ctx, ns); err != nil {
			return err
		}
	}

	if err := m.client.LoadCollection(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (m *MilvusStore) ensurePartition(ctx context.Context, ns Namespace) error {
	has, err := m.client.HasPartition(ctx, m.config.CollectionName, string(ns))
	if err != nil {
		return fmt.Errorf("failed to check partition %s: %w", ns, err)
	}
	if has {
		return nil
	}
	if err := m.client.CreatePartition(ctx, m.config.CollectionName, string(ns)); err != nil {
		return fmt.Errorf("failed to create partition %s: %w", ns, err)
	}
	return nil
}

// Upsert writes records into the namespace partition. Records with an
// existing id are replaced.
func (m *MilvusStore) Upsert(ctx context.Context, namespace Namespace, records []VectorRecord) error {
	if len(records) == 0 {
		return ErrEmptyRecords
	}
	if !knownNamespace(namespace) {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}

	columns, err := recordColumns(records, m.config.Dimension)
	if err != nil {
		return err
	}

	if _, err := m.client.Upsert(ctx, m.config.CollectionName, string(namespace), columns...); err != nil {
		return fmt.Errorf("%w: %v", ErrUpsertFailed, err)
	}
	m.logger.Debug("upserted records", "namespace", namespace, "count", len(records))
	return nil
}

// Query searches one namespace partition by vector, or looks up one record
// by id when req.ID is set.
func (m *MilvusStore) Query(ctx context.Context, req QueryRequest) ([]Match, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !knownNamespace(req.Namespace) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, req.Namespace)
	}

	var outputFields []string
	if req.IncludeMetadata {
		outputFields = metadataFields
	}

	if req.ID != "" {
		return m.lookup(ctx, req.Namespace, req.ID, outputFields)
	}

	if len(req.Vector) != m.config.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, m.config.Dimension, len(req.Vector))
	}

	sp, err := entity.NewIndexHNSWSearchParam(max(m.config.SearchEf, req.TopK))
	if err != nil {
		return nil, fmt.Errorf("failed to create search params: %w", err)
	}

	results, err := m.client.Search(
		ctx,
		m.config.CollectionName,
		[]string{string(req.Namespace)},
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(req.Vector)},
		fieldEmbedding,
		entity.COSINE,
		req.TopK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	if len(results) == 0 {
		return []Match{}, nil
	}

	res := results[0]
	return matchesFromColumns(res.ResultCount, res.IDs, res.Scores, res.Fields)
}

func (m *MilvusStore) lookup(ctx context.Context, ns Namespace, id string, outputFields []string) ([]Match, error) {
	if outputFields == nil {
		outputFields = []string{fieldID}
	}
	columns, err := m.client.Query(ctx, m.config.CollectionName, []string{string(ns)}, idExpr(id), outputFields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	count := 0
	for _, col := range columns {
		count = max(count, col.Len())
	}
	if count == 0 {
		return []Match{}, nil
	}

	ids := entity.NewColumnVarChar(fieldID, []string{id})
	scores := []float32{1}
	return matchesFromColumns(1, ids, scores, columns)
}

// Close releases resources and closes the Milvus connection
func (m *MilvusStore) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

func knownNamespace(ns Namespace) bool {
	if ns == NamespaceRouter {
		return true
	}
	_, err := ParseNamespace(string(ns))
	return err == nil
}

// idExpr builds a boolean expression matching a single primary key.
func idExpr(id string) string {
	return fmt.Sprintf("%s in [%q]", fieldID, id)
}

// recordColumns converts records into column-major insert data.
func recordColumns(records []VectorRecord, dimension int) ([]entity.Column, error) {
	n := len(records)
	ids := make([]string, n)
	eventIDs := make([]string, n)
	texts := make([]string, n)
	summaries := make([]string, n)
	updatedAts := make([]string, n)
	namespaces := make([]string, n)
	vectors := make([][]float32, n)

	for i, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: record %d has no id", ErrInvalidQuery, i)
		}
		if len(r.Values) != dimension {
			return nil, fmt.Errorf("%w: record %s has %d values, expected %d", ErrDimensionMismatch, r.ID, len(r.Values), dimension)
		}
		ids[i] = r.ID
		eventIDs[i] = r.Metadata.EventID
		texts[i] = r.Metadata.Text
		summaries[i] = r.Metadata.Summary
		updatedAts[i] = r.Metadata.UpdatedAt
		namespaces[i] = r.Metadata.Namespace
		vectors[i] = r.Values
	}

	return []entity.Column{
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnVarChar(fieldEventID, eventIDs),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldSummary, summaries),
		entity.NewColumnVarChar(fieldUpdatedAt, updatedAts),
		entity.NewColumnVarChar(fieldNamespace, namespaces),
		entity.NewColumnFloatVector(fieldEmbedding, dimension, vectors),
	}, nil
}

// matchesFromColumns assembles matches from a search or query result.
// Unknown output fields are ignored.
func matchesFromColumns(count int, ids entity.Column, scores []float32, fields []entity.Column) ([]Match, error) {
	matches := make([]Match, 0, count)
	for i := 0; i < count; i++ {
		id, err := ids.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("%w: reading id %d: %v", ErrSearchFailed, i, err)
		}
		match := Match{ID: id}
		if i < len(scores) {
			match.Score = scores[i]
		}

		for _, field := range fields {
			if field.Len() <= i {
				continue
			}
			var dst *string
			switch field.Name() {
			case fieldEventID:
				dst = &match.Metadata.EventID
			case fieldText:
				dst = &match.Metadata.Text
			case fieldSummary:
				dst = &match.Metadata.Summary
			case fieldUpdatedAt:
				dst = &match.Metadata.UpdatedAt
			case fieldNamespace:
				dst = &match.Metadata.Namespace
			default:
				continue
			}
			value, err := field.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("%w: reading %s: %v", ErrSearchFailed, field.Name(), err)
			}
			*dst = value
		}
		matches = append(matches, match)
	}
	return matches, nil
}
