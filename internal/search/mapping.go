package search

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// buildIndexMapping creates the Bleve index mapping for product documents.
//
//  1. Full-text search on name with English stemming
//  2. Brand matched without stemming
//  3. Exact keyword matching for barcode and safety color
//  4. Numeric fields for score range filters and recency sorting
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	docMapping := bleve.NewDocumentMapping()

	// --- Text fields ---

	nameFieldMapping := bleve.NewTextFieldMapping()
	nameFieldMapping.Analyzer = en.AnalyzerName
	nameFieldMapping.Store = true
	nameFieldMapping.IncludeTermVectors = true // For highlighting
	docMapping.AddFieldMappingsAt("name", nameFieldMapping)

	brandFieldMapping := bleve.NewTextFieldMapping()
	brandFieldMapping.Analyzer = simple.Name
	brandFieldMapping.Store = true
	brandFieldMapping.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("brand", brandFieldMapping)

	// --- Keyword fields ---

	idFieldMapping := bleve.NewTextFieldMapping()
	idFieldMapping.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("id", idFieldMapping)

	barcodeFieldMapping := bleve.NewTextFieldMapping()
	barcodeFieldMapping.Analyzer = keyword.Name
	barcodeFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("barcode", barcodeFieldMapping)

	colorFieldMapping := bleve.NewTextFieldMapping()
	colorFieldMapping.Analyzer = keyword.Name
	colorFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("safety_color", colorFieldMapping)

	isNewFieldMapping := bleve.NewBooleanFieldMapping()
	isNewFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("is_new", isNewFieldMapping)

	// --- Numeric fields ---

	scoreFieldMapping := bleve.NewNumericFieldMapping()
	scoreFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("safety_score", scoreFieldMapping)

	updatedAtFieldMapping := bleve.NewNumericFieldMapping()
	updatedAtFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("updated_at", updatedAtFieldMapping)

	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}
