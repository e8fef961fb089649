package search

import (
	"errors"
	"sort"
	"strings"

	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// ErrStop may be returned by a Collector to end a streaming search early.
// The search then returns nil.
var ErrStop = errors.New("search: stop collecting")

// Collector receives the hits of a streaming search one at a time. The
// issue must not be retained for mutation.
type Collector interface {
	Collect(issue *model.Issue) error
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func(issue *model.Issue) error

func (f CollectorFunc) Collect(issue *model.Issue) error { return f(issue) }

// ValueCount is one row of a FieldValueCounter.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// StatFields lists the fields FieldValueCounter can count.
var StatFields = map[string]func(*model.Issue) []string{
	"status":    func(i *model.Issue) []string { return []string{i.Status} },
	"priority":  func(i *model.Issue) []string { return []string{i.Priority} },
	"assignee":  func(i *model.Issue) []string { return []string{i.Assignee} },
	"reporter":  func(i *model.Issue) []string { return []string{i.Reporter} },
	"issuetype": func(i *model.Issue) []string { return []string{i.IssueTypeID} },
	"project": func(i *model.Issue) []string {
		p, _, _ := model.SplitKey(i.Key)
		return []string{p}
	},
	"labels": func(i *model.Issue) []string {
		if len(i.Labels) == 0 {
			return []string{""}
		}
		return i.Labels
	},
}

// FieldValueCounter counts the hits per value of one field. An issue with
// no value is counted under the empty string; an issue with several labels
// is counted once per label.
type FieldValueCounter struct {
	field  string
	get    func(*model.Issue) []string
	counts map[string]int
	hits   int
}

// NewFieldValueCounter returns a counter for one of StatFields.
func NewFieldValueCounter(field string) (*FieldValueCounter, error) {
	get, ok := StatFields[strings.ToLower(field)]
	if !ok {
		return nil, errors.New("search: cannot count values of field " + field)
	}
	return &FieldValueCounter{field: strings.ToLower(field), get: get, counts: make(map[string]int)}, nil
}

func (c *FieldValueCounter) Collect(issue *model.Issue) error {
	c.hits++
	for _, v := range c.get(issue) {
		c.counts[v]++
	}
	return nil
}

// Hits returns the number of issues collected.
func (c *FieldValueCounter) Hits() int { return c.hits }

// Counts returns the values by descending count, then by value.
func (c *FieldValueCounter) Counts() []ValueCount {
	out := make([]ValueCount, 0, len(c.counts))
	for v, n := range c.counts {
		out = append(out, ValueCount{Value: v, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}
