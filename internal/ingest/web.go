package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	nurl "net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/medtriage/internal/retrieval"
)

const (
	defaultChunkWords   = 180
	defaultOverlapWords = 40
	maxPageBytes        = 8 << 20
)

var reSpaces = regexp.MustCompile(`\s+`)

// Document is the readable text of a fetched page.
type Document struct {
	URL   string
	Title string
	Text  string
}

// Fetcher downloads pages and extracts their main content.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: "medtriage-ingest/1.0",
	}
}

// Fetch downloads link and runs readability over the HTML.
func (f *Fetcher) Fetch(ctx context.Context, link string) (Document, error) {
	canonical, err := canonicalURL(link)
	if err != nil {
		return Document{}, fmt.Errorf("invalid url %q: %w", link, err)
	}
	link = canonical
	u, err := nurl.Parse(link)
	if err != nil {
		return Document{}, fmt.Errorf("invalid url %q: %w", link, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return Document{}, err
	}
	req.Header.Set("User-Agent", f.UserAgent)
	resp, err := f.Client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetch %s: %w", link, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Document{}, fmt.Errorf("fetch %s: status %d", link, resp.StatusCode)
	}
	article, err := readability.FromReader(io.LimitReader(resp.Body, maxPageBytes), u)
	if err != nil {
		return Document{}, fmt.Errorf("extract %s: %w", link, err)
	}
	text := cleanText(article.TextContent)
	if text == "" {
		return Document{}, fmt.Errorf("extract %s: no readable text", link)
	}
	return Document{URL: link, Title: strings.TrimSpace(article.Title), Text: text}, nil
}

// Chunk splits text into windows of size words, each window overlapping the
// previous one by overlap words.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkWords
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= size {
		return []string{strings.Join(words, " ")}
	}
	var out []string
	for start := 0; start < len(words); {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
		start = end - overlap
	}
	return out
}

// Passages chunks doc into passages tagged with intent. Ids are derived from
// the page URL (or the text when there is none) so re-ingesting a page
// replaces its passages.
func (d Document) Passages(intent string, size, overlap int) []retrieval.Passage {
	key := d.URL
	if key == "" {
		key = d.Text
	}
	hash := sha1Hex(key)
	var out []retrieval.Passage
	for i, part := range Chunk(d.Text, size, overlap) {
		out = append(out, retrieval.Passage{
			ID:       fmt.Sprintf("%s#%03d", hash[:16], i),
			Document: part,
			Metadata: retrieval.Metadata{Topic: d.Title, Intent: intent},
		})
	}
	return out
}

func sha1Hex(s string) string   { h := sha1.Sum([]byte(s)); return hex.EncodeToString(h[:]) }
func normalize(s string) string { return strings.TrimSpace(reSpaces.ReplaceAllString(s, " ")) }
