package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/medtriage/internal/llm"
)

const rrfK = 60 // reciprocal-rank-fusion constant

type collection struct {
	bleve    bleve.Index
	passages map[string]Passage
	order    []string
}

// MemIndex is an in-process index. Each collection keeps a BM25 index for
// the lexical leg and raw vectors for the cosine leg; results are fused with
// reciprocal rank fusion and reported with their cosine distance.
type MemIndex struct {
	mu          sync.RWMutex
	embedder    llm.Embedder
	collections map[string]*collection
}

func NewMemIndex(embedder llm.Embedder) (*MemIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("retrieval: memory index needs an embedder")
	}
	return &MemIndex{embedder: embedder, collections: make(map[string]*collection)}, nil
}

func (m *MemIndex) collection(name string, create bool) (*collection, error) {
	if c, ok := m.collections[name]; ok || !create {
		return c, nil
	}
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	c := &collection{bleve: idx, passages: make(map[string]Passage)}
	m.collections[name] = c
	return c, nil
}

type indexedDoc struct {
	Text   string `json:"text"`
	Topic  string `json:"topic"`
	Intent string `json:"intent"`
}

// Upsert embeds passages without vectors and replaces any with the same id.
func (m *MemIndex) Upsert(ctx context.Context, name string, passages []Passage) error {
	var missing []string
	var missingIdx []int
	for i, p := range passages {
		if len(p.Vector) == 0 {
			missing = append(missing, p.Document)
			missingIdx = append(missingIdx, i)
		}
	}
	if len(missing) > 0 {
		vecs, err := m.embedder.Embed(ctx, missing)
		if err != nil {
			return fmt.Errorf("embed passages: %w", err)
		}
		if len(vecs) != len(missing) {
			return fmt.Errorf("embed passages: expected %d vectors, got %d", len(missing), len(vecs))
		}
		for j, i := range missingIdx {
			passages[i].Vector = vecs[j]
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name, true)
	if err != nil {
		return err
	}
	for _, p := range passages {
		if _, exists := c.passages[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		c.passages[p.ID] = p
		if err := c.bleve.Index(p.ID, indexedDoc{Text: p.Document, Topic: p.Metadata.Topic, Intent: p.Metadata.Intent}); err != nil {
			return fmt.Errorf("index passage %s: %w", p.ID, err)
		}
	}
	return nil
}

// Query returns up to topK passages matching filter, best first. With
// filter.Nearest the order is ascending cosine distance.
func (m *MemIndex) Query(ctx context.Context, name, text string, topK int, filter Filter) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	vecs, err := m.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
	}
	qv := vecs[0]

	m.mu.RLock()
	defer m.mu.RUnlock()
	c, _ := m.collection(name, false)
	if c == nil {
		return nil, fmt.Errorf("retrieval: unknown collection %q", name)
	}

	distance := make(map[string]float64)
	var vectorLeg []string
	for _, id := range c.order {
		p := c.passages[id]
		if !filter.matches(p.Metadata) {
			continue
		}
		distance[id] = 1 - cosine(qv, p.Vector)
		vectorLeg = append(vectorLeg, id)
	}
	sort.SliceStable(vectorLeg, func(i, j int) bool { return distance[vectorLeg[i]] < distance[vectorLeg[j]] })
	if len(vectorLeg) > topK*3 {
		vectorLeg = vectorLeg[:topK*3]
	}

	fused := vectorLeg
	if !filter.Nearest {
		lexicalLeg, err := c.bm25(text, topK*3, filter)
		if err != nil {
			return nil, err
		}
		fused = fuseRRF(vectorLeg, lexicalLeg)
	}
	if len(fused) > topK {
		fused = fused[:topK]
	}
	out := make([]Hit, 0, len(fused))
	for _, id := range fused {
		p := c.passages[id]
		out = append(out, Hit{ID: id, Document: p.Document, Metadata: p.Metadata, Distance: distance[id]})
	}
	return out, nil
}

func (c *collection) bm25(text string, k int, filter Filter) ([]string, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(text), k*3, 0, false)
	res, err := c.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	var out []string
	for _, hit := range res.Hits {
		p, ok := c.passages[hit.ID]
		if !ok || !filter.matches(p.Metadata) {
			continue
		}
		out = append(out, hit.ID)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// fuseRRF merges ranked id lists; ties keep first-seen order.
func fuseRRF(lists ...[]string) []string {
	score := map[string]float64{}
	var order []string
	for _, list := range lists {
		for rank, id := range list {
			if _, ok := score[id]; !ok {
				order = append(order, id)
			}
			score[id] += 1.0 / float64(rrfK+rank+1)
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return score[order[i]] > score[order[j]] })
	return order
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
