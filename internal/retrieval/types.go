// Package retrieval holds the guideline passage index and the two-hop
// retriever built on top of it.
package retrieval

import (
	"context"
)

// Passage intents.
const (
	IntentDiagnostic       = "DIAGNOSTIC"
	IntentGuidelinePatient = "GUIDELINE_PATIENT"
	IntentTreatment        = "TREATMENT_PROFESSIONAL"
)

// Citation tiers.
const (
	TierCritical   = "critical"
	TierDiagnostic = "diagnostic"
	TierGuideline  = "guideline"
)

// Metadata describes where a passage came from.
type Metadata struct {
	Page   string `json:"page_number,omitempty"`
	Topic  string `json:"topic,omitempty"`
	Intent string `json:"intent,omitempty"`
}

// Passage is a unit of guideline text as stored in a collection.
type Passage struct {
	ID       string
	Document string
	Metadata Metadata
	Vector   []float32
}

// Hit is one ranked search result. Distance is cosine distance (0 = same
// direction, 2 = opposite).
type Hit struct {
	ID       string   `json:"id"`
	Document string   `json:"document"`
	Metadata Metadata `json:"metadata"`
	Distance float64  `json:"distance"`
}

// Filter restricts a query by metadata; empty fields match anything.
// Nearest ranks purely by distance, skipping the lexical leg.
type Filter struct {
	Intent  string
	Nearest bool
}

func (f Filter) matches(m Metadata) bool {
	return f.Intent == "" || f.Intent == m.Intent
}

// Index is a semantic passage index over named collections.
type Index interface {
	Query(ctx context.Context, collection, text string, topK int, filter Filter) ([]Hit, error)
}

// Writer loads passages into a collection, embedding them as needed.
type Writer interface {
	Upsert(ctx context.Context, collection string, passages []Passage) error
}

// Citation is a passage exposed to the caller as the source of a claim.
type Citation struct {
	Page    string `json:"page"`
	Content string `json:"content"`
	Type    string `json:"type"`
	Topic   string `json:"topic,omitempty"`
}

// NewCitation converts a hit into a citation, defaulting the page to "?".
func NewCitation(h Hit, tier string) Citation {
	page := h.Metadata.Page
	if page == "" {
		page = "?"
	}
	return Citation{Page: page, Content: h.Document, Type: tier, Topic: h.Metadata.Topic}
}
