package index

import (
	"sort"
	"time"

	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// FieldKind selects how a field is analysed.
type FieldKind int

const (
	// Keyword fields are matched whole and case-insensitively.
	Keyword FieldKind = iota
	// ExactKeyword fields are matched whole and case-sensitively.
	ExactKeyword
	// Text fields are tokenised for ~ matching.
	Text
	Number
	Date
)

// FieldSpec declares one index field a FieldIndexer writes.
type FieldSpec struct {
	Name string
	Kind FieldKind
	// Store keeps the raw value retrievable from hits.
	Store bool
}

// FieldIndexer projects one application field of an issue into the issue
// index document.
type FieldIndexer interface {
	ID() string
	Fields() []FieldSpec
	AddIndex(doc *Document, issue *model.Issue)
}

// Document is an index document under construction. Fields may hold
// several values.
type Document struct {
	fields   map[string]any
	nonEmpty map[string]bool
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{fields: make(map[string]any), nonEmpty: make(map[string]bool)}
}

func (d *Document) add(name string, v any) {
	d.nonEmpty[name] = true
	switch cur := d.fields[name].(type) {
	case nil:
		d.fields[name] = v
	case []any:
		d.fields[name] = append(cur, v)
	default:
		d.fields[name] = []any{cur, v}
	}
}

// AddString adds non-empty string values to a field.
func (d *Document) AddString(name string, values ...string) {
	for _, v := range values {
		if v != "" {
			d.add(name, v)
		}
	}
}

// AddNumber adds a numeric value to a field.
func (d *Document) AddNumber(name string, v float64) {
	d.add(name, v)
}

// AddTime adds a time value to a field. The zero time is skipped.
func (d *Document) AddTime(name string, t time.Time) {
	if !t.IsZero() {
		d.add(name, t.UTC())
	}
}

// Has reports whether the field holds a value.
func (d *Document) Has(name string) bool { return d.nonEmpty[name] }

// Value returns the raw value of a field: a single value, or []any when
// the field is multi-valued.
func (d *Document) Value(name string) any { return d.fields[name] }

// Map returns the document as indexed, including the nonempty field.
func (d *Document) Map() map[string]any {
	out := make(map[string]any, len(d.fields)+1)
	for k, v := range d.fields {
		out[k] = v
	}
	names := make([]string, 0, len(d.nonEmpty))
	for k := range d.nonEmpty {
		names = append(names, k)
	}
	sort.Strings(names)
	out[FieldNonEmpty] = names
	return out
}
