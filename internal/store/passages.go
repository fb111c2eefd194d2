package store

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mohammad-safakhou/medtriage/internal/retrieval"
)

var _ retrieval.VectorStore = (*Store)(nil)

// SearchPassages returns the topK passages of collection nearest to vector
// by cosine distance. An empty intent matches every passage.
func (s *Store) SearchPassages(ctx context.Context, collection string, vector []float32, topK int, intent string) ([]retrieval.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	ctx, span := otel.Tracer("medtriage/internal/store").Start(ctx, "store.search_passages")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("intent", intent),
		attribute.Int("top_k", topK),
	)

	literal, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, document, page_number, topic, intent, embedding <=> $1::vector AS distance
FROM passages
WHERE collection = $2 AND ($3 = '' OR intent = $3)
ORDER BY embedding <=> $1::vector
LIMIT $4;
`, literal, collection, intent, topK)
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	defer rows.Close()

	var hits []retrieval.Hit
	for rows.Next() {
		var h retrieval.Hit
		if err := rows.Scan(&h.ID, &h.Document, &h.Metadata.Page, &h.Metadata.Topic, &h.Metadata.Intent, &h.Distance); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))
	return hits, nil
}

// UpsertPassages writes passages into collection in one transaction,
// replacing any passage with the same id.
func (s *Store) UpsertPassages(ctx context.Context, collection string, passages []retrieval.Passage) error {
	if strings.TrimSpace(collection) == "" {
		return fmt.Errorf("collection is required")
	}
	if len(passages) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range passages {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("passage id is required")
		}
		literal, err := encodeVectorLiteral(p.Vector)
		if err != nil {
			return fmt.Errorf("passage %s: %w", p.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO passages (collection, id, document, page_number, topic, intent, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7::vector,NOW())
ON CONFLICT (collection, id) DO UPDATE SET
  document = EXCLUDED.document,
  page_number = EXCLUDED.page_number,
  topic = EXCLUDED.topic,
  intent = EXCLUDED.intent,
  embedding = EXCLUDED.embedding;
`, collection, p.ID, p.Document, p.Metadata.Page, p.Metadata.Topic, p.Metadata.Intent, literal); err != nil {
			return fmt.Errorf("upsert passage %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// CountPassages returns how many passages collection holds.
func (s *Store) CountPassages(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages WHERE collection = $1`, collection).Scan(&n)
	return n, err
}
