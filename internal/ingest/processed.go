// Package ingest loads guideline passages into the retrieval index, either
// from the processed guideline JSON or from web pages.
package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/medtriage/internal/retrieval"
)

// GoldenSuffix is appended to an item id to name its golden rule passage.
const GoldenSuffix = "_GOLD"

// Item is one entry of the processed guideline file.
type Item struct {
	ID       string       `json:"id"`
	Content  string       `json:"content"`
	Metadata ItemMetadata `json:"metadata"`
}

// ItemMetadata mirrors the metadata block of a processed item.
type ItemMetadata struct {
	PageNumber        PageNumber `json:"page_number"`
	Topic             string     `json:"topic"`
	Intent            string     `json:"intent"`
	IsGolden          bool       `json:"is_golden"`
	GoldenRuleContent string     `json:"golden_rule_content"`
}

// PageNumber accepts both numeric and string page numbers.
type PageNumber string

func (p *PageNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*p = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*p = PageNumber(strings.TrimSpace(v))
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("page_number: %w", err)
	}
	*p = PageNumber(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

// ReadProcessed decodes the processed guideline file.
func ReadProcessed(r io.Reader) ([]Item, error) {
	var items []Item
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode processed guidelines: %w", err)
	}
	for i, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return nil, fmt.Errorf("item %d: id is required", i)
		}
	}
	return items, nil
}

// Split turns items into reference passages (every item with content) and
// golden passages (golden items carrying a rule text).
func Split(items []Item) (reference, golden []retrieval.Passage) {
	for _, it := range items {
		meta := retrieval.Metadata{
			Page:   string(it.Metadata.PageNumber),
			Topic:  it.Metadata.Topic,
			Intent: strings.ToUpper(strings.TrimSpace(it.Metadata.Intent)),
		}
		if content := cleanText(it.Content); content != "" {
			reference = append(reference, retrieval.Passage{ID: it.ID, Document: content, Metadata: meta})
		}
		if rule := cleanText(it.Metadata.GoldenRuleContent); it.Metadata.IsGolden && rule != "" {
			golden = append(golden, retrieval.Passage{
				ID:       it.ID + GoldenSuffix,
				Document: rule,
				Metadata: meta,
			})
		}
	}
	return reference, golden
}
