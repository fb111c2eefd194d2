package ingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mohammad-safakhou/medtriage/internal/retrieval"
)

// Options names the target collections and batching.
type Options struct {
	ReferenceCollection string
	GoldenCollection    string
	BatchSize           int
	ChunkWords          int
	OverlapWords        int
}

func (o Options) withDefaults() Options {
	if o.ReferenceCollection == "" {
		o.ReferenceCollection = "medical_reference"
	}
	if o.GoldenCollection == "" {
		o.GoldenCollection = "golden_rules"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.ChunkWords <= 0 {
		o.ChunkWords = defaultChunkWords
	}
	if o.OverlapWords <= 0 {
		o.OverlapWords = defaultOverlapWords
	}
	return o
}

// Report counts what a load wrote.
type Report struct {
	Reference int `json:"reference"`
	Golden    int `json:"golden"`
	Failed    int `json:"failed"`
}

// Loader writes passages into an index in batches.
type Loader struct {
	writer  retrieval.Writer
	fetcher *Fetcher
	opts    Options
	logger  *log.Logger
}

func NewLoader(writer retrieval.Writer, fetcher *Fetcher, opts Options, logger *log.Logger) (*Loader, error) {
	if writer == nil {
		return nil, fmt.Errorf("ingest: writer is required")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	if fetcher == nil {
		fetcher = NewFetcher(0)
	}
	return &Loader{writer: writer, fetcher: fetcher, opts: opts.withDefaults(), logger: logger}, nil
}

// LoadFile loads a processed guideline file into the reference and golden
// collections.
func (l *Loader) LoadFile(ctx context.Context, path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, err
	}
	defer f.Close()
	items, err := ReadProcessed(f)
	if err != nil {
		return Report{}, err
	}
	return l.LoadItems(ctx, items)
}

func (l *Loader) LoadItems(ctx context.Context, items []Item) (Report, error) {
	reference, golden := Split(items)
	var rep Report
	if err := l.write(ctx, l.opts.ReferenceCollection, reference); err != nil {
		return rep, err
	}
	rep.Reference = len(reference)
	if err := l.write(ctx, l.opts.GoldenCollection, golden); err != nil {
		return rep, err
	}
	rep.Golden = len(golden)
	l.logger.Printf("loaded %d reference and %d golden passages", rep.Reference, rep.Golden)
	return rep, nil
}

// LoadURLs fetches each page, chunks it and writes the chunks to the
// reference collection. A page that fails is logged and counted.
func (l *Loader) LoadURLs(ctx context.Context, urls []string, intent string) (Report, error) {
	intent = strings.ToUpper(strings.TrimSpace(intent))
	if intent == "" {
		intent = retrieval.IntentGuidelinePatient
	}
	var rep Report
	seen := make(map[string]struct{}, len(urls))
	for _, link := range urls {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if canonical, err := canonicalURL(link); err == nil {
			if _, dup := seen[canonical]; dup {
				continue
			}
			seen[canonical] = struct{}{}
		}
		doc, err := l.fetcher.Fetch(ctx, link)
		if err != nil {
			l.logger.Printf("warn: %v", err)
			rep.Failed++
			continue
		}
		passages := doc.Passages(intent, l.opts.ChunkWords, l.opts.OverlapWords)
		if err := l.write(ctx, l.opts.ReferenceCollection, passages); err != nil {
			return rep, err
		}
		rep.Reference += len(passages)
		l.logger.Printf("ingested %s as %d passages", link, len(passages))
	}
	return rep, nil
}

func (l *Loader) write(ctx context.Context, collection string, passages []retrieval.Passage) error {
	for start := 0; start < len(passages); start += l.opts.BatchSize {
		end := min(start+l.opts.BatchSize, len(passages))
		if err := l.writer.Upsert(ctx, collection, passages[start:end]); err != nil {
			return fmt.Errorf("upsert %s[%d:%d]: %w", collection, start, end, err)
		}
	}
	return nil
}
