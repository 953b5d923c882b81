package vectorstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/ghiac/agentize/log"
	"github.com/ghiac/agentize/model"
)

// fieldEntryID/fieldTenant/fieldVector are the Milvus collection's fixed
// field names. Only entry_id, tenant_id, and the dense vector live in
// Milvus; the full MemoryEntry payload is addressed back through the
// store's entry cache / symbolic index keyed by entry_id, which keeps the
// collection schema small and the semantic view fast.
const (
	fieldEntryID = "entry_id"
	fieldTenant  = "tenant_id"
	fieldVector  = "dense_vector"
)

// SemanticIndex is the dense k-NN view (spec 4.3 view 1), backed by a real
// Milvus collection scoped per tenant_id via a scalar partition-key style
// filter expression (`tenant_id == "<id>"`) rather than one physical Milvus
// collection per tenant, so that collection creation stays cheap and
// idempotent (spec: "Ensures the new collection exists (idempotent
// create)").
type SemanticIndex struct {
	cli            client.Client
	collectionName string
	dimension      int
	metric         entity.MetricType
}

// NewSemanticIndex connects to a Milvus instance at addr and ensures the
// shared collection exists with the given vector dimension.
func NewSemanticIndex(ctx context.Context, addr, collectionName string, dimension int) (*SemanticIndex, error) {
	cli, err := client.NewGrpcClient(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("semantic index: connect to milvus: %w", err)
	}

	idx := &SemanticIndex{
		cli:            cli,
		collectionName: collectionName,
		dimension:      dimension,
		metric:         entity.COSINE,
	}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (s *SemanticIndex) ensureCollection(ctx context.Context) error {
	exists, err := s.cli.HasCollection(ctx, s.collectionName)
	if err != nil {
		return fmt.Errorf("semantic index: has collection: %w", err)
	}
	if exists {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: s.collectionName,
		Description:    "agent memory entries, tenant-partitioned by tenant_id filter",
		Fields: []*entity.Field{
			{Name: fieldEntryID, DataType: entity.FieldTypeVarChar, PrimaryKey: true, AutoID: false, TypeParams: map[string]string{"max_length": "64"}},
			{Name: fieldTenant, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "128"}},
			{Name: fieldVector, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.dimension)}},
		},
	}
	if err := s.cli.CreateCollection(ctx, schema, 2); err != nil {
		return fmt.Errorf("semantic index: create collection: %w", err)
	}
	idx := entity.NewIndexIvfFlat(s.metric, 128)
	if err := s.cli.CreateIndex(ctx, s.collectionName, fieldVector, idx, false); err != nil {
		return fmt.Errorf("semantic index: create index: %w", err)
	}
	if err := s.cli.LoadCollection(ctx, s.collectionName, false); err != nil {
		return fmt.Errorf("semantic index: load collection: %w", err)
	}
	log.Log.Infof("[VectorStore] semantic collection %q created (dim=%d)", s.collectionName, s.dimension)
	return nil
}

// Upsert inserts or replaces a batch of entries' vectors.
func (s *SemanticIndex) Upsert(ctx context.Context, entries []*model.MemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, len(entries))
	tenants := make([]string, len(entries))
	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		ids[i] = e.EntryID
		tenants[i] = e.TenantID
		vectors[i] = e.DenseVector
	}

	// Milvus has no native upsert-by-primary-key for this client version
	// path; delete-then-insert keeps semantics idempotent per entry_id.
	expr := entryIDInExpr(ids)
	if err := s.cli.Delete(ctx, s.collectionName, "", expr); err != nil {
		log.Log.Warnf("[VectorStore] semantic pre-delete before upsert failed (continuing): %v", err)
	}

	_, err := s.cli.Insert(ctx, s.collectionName, "",
		entity.NewColumnVarChar(fieldEntryID, ids),
		entity.NewColumnVarChar(fieldTenant, tenants),
		entity.NewColumnFloatVector(fieldVector, s.dimension, vectors),
	)
	if err != nil {
		return fmt.Errorf("semantic index: insert: %w", err)
	}
	return s.cli.Flush(ctx, s.collectionName, false)
}

// Search returns up to topK entry_ids ranked by cosine similarity to query,
// scoped to tenantID.
func (s *SemanticIndex) Search(ctx context.Context, tenantID string, query []float32, topK int) ([]ScoredID, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("semantic index: search param: %w", err)
	}

	results, err := s.cli.Search(
		ctx, s.collectionName, nil, tenantFilterExpr(tenantID), []string{fieldEntryID},
		[]entity.Vector{entity.FloatVector(query)}, fieldVector, s.metric, topK, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("semantic index: search: %w", err)
	}

	var out []ScoredID
	for _, r := range results {
		idCol, ok := r.IDs.(*entity.ColumnVarChar)
		if !ok {
			continue
		}
		for i, id := range idCol.Data() {
			score := float64(0)
			if i < len(r.Scores) {
				score = float64(r.Scores[i])
			}
			out = append(out, ScoredID{EntryID: id, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Delete removes entries by entry_id from the semantic view.
func (s *SemanticIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.cli.Delete(ctx, s.collectionName, "", entryIDInExpr(ids))
}

// Clear drops every vector belonging to tenantID.
func (s *SemanticIndex) Clear(ctx context.Context, tenantID string) error {
	return s.cli.Delete(ctx, s.collectionName, "", tenantFilterExpr(tenantID))
}

// Dimension reports the vector width this index was created with.
func (s *SemanticIndex) Dimension() int { return s.dimension }

// ScoredID is a ranked (entry_id, score) pair returned by any search view.
type ScoredID struct {
	EntryID string
	Score   float64
}

func tenantFilterExpr(tenantID string) string {
	return fmt.Sprintf("%s == %q", fieldTenant, tenantID)
}

func entryIDInExpr(ids []string) string {
	expr := fieldEntryID + " in ["
	for i, id := range ids {
		if i > 0 {
			expr += ", "
		}
		expr += fmt.Sprintf("%q", id)
	}
	return expr + "]"
}
