package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// memoryDoc is the indexed document shape.
type memoryDoc struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An existing index is
// reused; remove the directory to force a rebuild after mapping changes.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so exact terms
	// match without stem surprises.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	categoryFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("category", categoryFieldMapping)
	im.AddDocumentMapping("memory", docMapping)
	im.DefaultType = "memory"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open keyword index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexMemory adds or replaces the document for recordID.
func (b *BleveIndex) IndexMemory(ctx context.Context, recordID int64, category, text string) error {
	return b.index.Index(strconv.FormatInt(recordID, 10), memoryDoc{
		Category: category,
		Text:     text,
	})
}

// Search runs a match query over memory text, optionally restricted to one
// category, and returns up to k hits by descending score.
func (b *BleveIndex) Search(ctx context.Context, query, category string, k int) ([]Result, error) {
	if k <= 0 {
		k = 10
	}

	textQuery := bleve.NewMatchQuery(query)
	textQuery.SetField("text")

	var q blevequery.Query = textQuery
	if category != "" {
		categoryQuery := bleve.NewTermQuery(category)
		categoryQuery.SetField("category")
		q = bleve.NewConjunctionQuery(textQuery, categoryQuery)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = k
	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Result{RecordID: id, Score: hit.Score})
	}
	return out, nil
}

// Delete removes the document for recordID.
func (b *BleveIndex) Delete(ctx context.Context, recordID int64) error {
	return b.index.Delete(strconv.FormatInt(recordID, 10))
}

// Close closes the underlying index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
