package rag

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMilvusStore_EmptyRecords checks that validation runs before any call to Milvus
func TestMilvusStore_EmptyRecords(t *testing.T) {
	store := newMilvusStore(nil, DefaultMilvusConfig())

	err := store.Upsert(context.Background(), NamespaceTech, nil)
	assert.ErrorIs(t, err, ErrEmptyRecords)
}

func TestMilvusStore_RejectsUnknownNamespace(t *testing.T) {
	store := newMilvusStore(nil, DefaultMilvusConfig())
	records := []VectorRecord{{ID: "a", Values: make([]float32, 1024)}}

	err := store.Upsert(context.Background(), Namespace("weather"), records)
	assert.ErrorIs(t, err, ErrUnknownNamespace)

	_, err = store.Query(context.Background(), QueryRequest{Namespace: "weather", ID: "a", TopK: 1})
	assert.ErrorIs(t, err, ErrUnknownNamespace)
}

func TestMilvusStore_QueryDimensionMismatch(t *testing.T) {
	store := newMilvusStore(nil, DefaultMilvusConfig())

	_, err := store.Query(context.Background(), QueryRequest{
		Namespace: NamespaceTech,
		Vector:    []float32{1, 2, 3},
		TopK:      5,
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestDefaultMilvusConfig(t *testing.T) {
	config := DefaultMilvusConfig()
	assert.NotEmpty(t, config.Address)
	assert.NotEmpty(t, config.CollectionName)
	assert.Equal(t, 1024, config.Dimension)
}

func TestCollectionSchema(t *testing.T) {
	schema := collectionSchema("news", 8)
	assert.Equal(t, "news", schema.CollectionName)
	assert.False(t, schema.AutoID)

	names := make([]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		names = append(names, f.Name)
		if f.Name == fieldID {
			assert.True(t, f.PrimaryKey)
			assert.Equal(t, entity.FieldTypeVarChar, f.DataType)
		}
		if f.Name == fieldEmbedding {
			assert.Equal(t, entity.FieldTypeFloatVector, f.DataType)
			assert.Equal(t, "8", f.TypeParams["dim"])
		}
	}
	assert.ElementsMatch(t, []string{fieldID, fieldEventID, fieldText, fieldSummary, fieldUpdatedAt, fieldNamespace, fieldEmbedding}, names)
}

func TestRecordColumns(t *testing.T) {
	records := []VectorRecord{
		{ID: "E1-0", Values: []float32{1, 0}, Metadata: Metadata{EventID: "E1", Text: "first", Summary: "s", UpdatedAt: "2024-01-01"}},
		{ID: "E1-1", Values: []float32{0, 1}, Metadata: Metadata{EventID: "E1", Text: "second", Summary: "s", UpdatedAt: "2024-01-01"}},
	}

	columns, err := recordColumns(records, 2)
	require.NoError(t, err)
	require.Len(t, columns, 7)

	byName := map[string]entity.Column{}
	for _, c := range columns {
		assert.Equal(t, 2, c.Len())
		byName[c.Name()] = c
	}

	id, err := byName[fieldID].GetAsString(1)
	require.NoError(t, err)
	assert.Equal(t, "E1-1", id)

	text, err := byName[fieldText].GetAsString(0)
	require.NoError(t, err)
	assert.Equal(t, "first", text)
}

func TestRecordColumns_Validation(t *testing.T) {
	_, err := recordColumns([]VectorRecord{{ID: "a", Values: []float32{1}}}, 2)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = recordColumns([]VectorRecord{{Values: []float32{1, 2}}}, 2)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestMatchesFromColumns(t *testing.T) {
	ids := entity.NewColumnVarChar(fieldID, []string{"E1-0", "E2-3"})
	scores := []float32{0.9, 0.4}
	fields := []entity.Column{
		entity.NewColumnVarChar(fieldText, []string{"alpha", "beta"}),
		entity.NewColumnVarChar(fieldNamespace, []string{"", "sports"}),
		entity.NewColumnInt64("unrelated", []int64{1, 2}),
	}

	matches, err := matchesFromColumns(2, ids, scores, fields)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "E1-0", matches[0].ID)
	assert.Equal(t, float32(0.9), matches[0].Score)
	assert.Equal(t, "alpha", matches[0].Metadata.Text)
	assert.Equal(t, "sports", matches[1].Metadata.Namespace)
}

func TestIDExpr(t *testing.T) {
	assert.Equal(t, `id in ["E1-0"]`, idExpr("E1-0"))
	assert.Equal(t, `id in ["a\"b"]`, idExpr(`a"b`))
}

// Integration test against a live Milvus: upsert twice, search, point lookup
func TestMilvusStore_Integration_Upsert(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	address := os.Getenv("MILVUS_ADDRESS")
	if address == "" {
		t.Skip("MILVUS_ADDRESS not set")
	}

	ctx := context.Background()
	config := DefaultMilvusConfig()
	config.Address = address
	config.CollectionName = fmt.Sprintf("newsagent_test_%d", os.Getpid())
	config.Dimension = 4

	store, err := NewMilvusStore(ctx, config)
	require.NoError(t, err)
	defer func() {
		_ = store.client.DropCollection(ctx, config.CollectionName)
		store.Close()
	}()

	records := []VectorRecord{
		{ID: "E1-0", Values: []float32{1, 0, 0, 0}, Metadata: Metadata{EventID: "E1", Text: "goal in extra time"}},
		{ID: "E1-1", Values: []float32{0, 1, 0, 0}, Metadata: Metadata{EventID: "E1", Text: "fans celebrate"}},
	}
	require.NoError(t, store.Upsert(ctx, NamespaceSports, records))
	require.NoError(t, store.Upsert(ctx, NamespaceSports, records))

	matches, err := store.Query(ctx, QueryRequest{
		Namespace:       NamespaceSports,
		Vector:          []float32{1, 0, 0, 0},
		TopK:            10,
		IncludeMetadata: true,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2, "re-upsert must not duplicate records")
	assert.Equal(t, "E1-0", matches[0].ID)

	other, err := store.Query(ctx, QueryRequest{Namespace: NamespaceTech, Vector: []float32{1, 0, 0, 0}, TopK: 10})
	require.NoError(t, err)
	assert.Empty(t, other)

	found, err := store.Query(ctx, QueryRequest{Namespace: NamespaceSports, ID: "E1-1", TopK: 1, IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "fans celebrate", found[0].Metadata.Text)
}
