package index

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/mapping"
)

// analyzerKeywordLower indexes a whole value as one lower-cased term.
// Queries against Keyword fields must lower-case their terms.
const analyzerKeywordLower = "keyword_lower"

var commentFields = []FieldSpec{
	{Name: FieldNonEmpty, Kind: Keyword},
	{Name: FieldIssue, Kind: ExactKeyword, Store: true},
	{Name: FieldBody, Kind: Text},
	{Name: FieldAuthor, Kind: Keyword},
	{Name: FieldCreated, Kind: Date},
}

var changeFields = []FieldSpec{
	{Name: FieldNonEmpty, Kind: Keyword},
	{Name: FieldIssue, Kind: ExactKeyword, Store: true},
	{Name: FieldChanged, Kind: Keyword},
	{Name: FieldFrom, Kind: Keyword},
	{Name: FieldTo, Kind: Keyword},
	{Name: FieldAuthor, Kind: Keyword},
	{Name: FieldCreated, Kind: Date},
}

// issueFields collects the fields declared by the indexers plus the fields
// every issue document carries.
func issueFields(indexers []FieldIndexer) []FieldSpec {
	specs := []FieldSpec{{Name: FieldNonEmpty, Kind: Keyword}}
	seen := map[string]bool{FieldNonEmpty: true, FieldSource: true}
	for _, fi := range indexers {
		for _, f := range fi.Fields() {
			if seen[f.Name] {
				continue
			}
			seen[f.Name] = true
			specs = append(specs, f)
		}
	}
	return specs
}

func buildMapping(name Name, indexers []FieldIndexer) (mapping.IndexMapping, error) {
	var specs []FieldSpec
	switch name {
	case Comments:
		specs = commentFields
	case Changes:
		specs = changeFields
	default:
		specs = issueFields(indexers)
	}

	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(analyzerKeywordLower, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, err
	}

	doc := bleve.NewDocumentStaticMapping()
	for _, f := range specs {
		doc.AddFieldMappingsAt(f.Name, fieldMapping(f))
	}
	if name == Issues {
		src := bleve.NewTextFieldMapping()
		src.Index = false
		src.Store = true
		src.IncludeInAll = false
		src.IncludeTermVectors = false
		src.DocValues = false
		doc.AddFieldMappingsAt(FieldSource, src)
	}

	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	im.IndexDynamic = false
	im.StoreDynamic = false
	im.DocValuesDynamic = false
	im.ScoringModel = "bm25"
	return im, nil
}

func fieldMapping(f FieldSpec) *mapping.FieldMapping {
	var fm *mapping.FieldMapping
	switch f.Kind {
	case Keyword:
		fm = bleve.NewTextFieldMapping()
		fm.Analyzer = analyzerKeywordLower
		fm.IncludeTermVectors = false
	case ExactKeyword:
		fm = bleve.NewKeywordFieldMapping()
		fm.Analyzer = keyword.Name
	case Text:
		fm = bleve.NewTextFieldMapping()
		fm.Analyzer = standard.Name
	case Number:
		fm = bleve.NewNumericFieldMapping()
	case Date:
		fm = bleve.NewDateTimeFieldMapping()
	}
	fm.Store = f.Store
	fm.IncludeInAll = false
	return fm
}
