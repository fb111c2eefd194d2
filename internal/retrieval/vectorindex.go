package retrieval

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/medtriage/internal/llm"
)

// VectorStore is the persistence side of a vector index (pgvector).
type VectorStore interface {
	SearchPassages(ctx context.Context, collection string, vector []float32, topK int, intent string) ([]Hit, error)
	UpsertPassages(ctx context.Context, collection string, passages []Passage) error
}

// VectorIndex embeds queries and delegates nearest-neighbour search to a
// VectorStore.
type VectorIndex struct {
	store    VectorStore
	embedder llm.Embedder
}

func NewVectorIndex(store VectorStore, embedder llm.Embedder) *VectorIndex {
	return &VectorIndex{store: store, embedder: embedder}
}

func (v *VectorIndex) Query(ctx context.Context, collection, text string, topK int, filter Filter) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	vecs, err := v.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
	}
	return v.store.SearchPassages(ctx, collection, vecs[0], topK, filter.Intent)
}

func (v *VectorIndex) Upsert(ctx context.Context, collection string, passages []Passage) error {
	var texts []string
	var idx []int
	for i, p := range passages {
		if len(p.Vector) == 0 {
			texts = append(texts, p.Document)
			idx = append(idx, i)
		}
	}
	if len(texts) > 0 {
		vecs, err := v.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed passages: %w", err)
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embed passages: expected %d vectors, got %d", len(texts), len(vecs))
		}
		for j, i := range idx {
			passages[i].Vector = vecs[j]
		}
	}
	return v.store.UpsertPassages(ctx, collection, passages)
}
