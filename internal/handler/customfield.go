package handler

import (
	"fmt"
	"strconv"

	"github.com/alfredjeanlab/issuesearch/internal/index"
	"github.com/alfredjeanlab/issuesearch/internal/jql"
	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// NewCustomFieldHandler registers a custom field. Its clause is always
// reachable as cf[id]; the field name is an alias unless isReserved
// claims it.
func NewCustomFieldHandler(cf model.CustomField, isReserved func(string) bool) (*SearchHandler, error) {
	if !cf.Type.IsValid() {
		return nil, fmt.Errorf("custom field %d: unknown type %q", cf.ID, cf.Type)
	}
	names, err := jql.ForCustomField(cf.ID, cf.Name, isReserved)
	if err != nil {
		return nil, fmt.Errorf("custom field %d: %w", cf.ID, err)
	}
	field := index.CustomField(cf.ID)

	var h ClauseHandler
	switch cf.Type {
	case model.CustomFieldNumber:
		h = NewNumberHandler(names, field)
	case model.CustomFieldDate:
		h = NewDateHandler(names, field)
	case model.CustomFieldSelect:
		h = NewKeywordHandler(names, field)
	default:
		h = NewTextHandler(names, field)
	}
	return NewSearchHandler(
		[]index.FieldIndexer{&customFieldIndexer{cf: cf}},
		searcherFor("customfield_"+strconv.FormatInt(cf.ID, 10), h),
	)
}
