// Package index maintains the inverted indexes searched by the query
// engine. There are three named indexes: issues (one document per issue),
// comments (one per comment) and changes (one per history item).
package index

import "strconv"

// Name identifies one of the indexes.
type Name string

const (
	Issues   Name = "issues"
	Comments Name = "comments"
	Changes  Name = "changes"
)

// Names lists every index in open order.
var Names = []Name{Issues, Comments, Changes}

// Issue index fields.
const (
	FieldID          = "id"
	FieldKey         = "key"
	FieldKeyProject  = "keyproject"
	FieldKeyNumber   = "keynum"
	FieldProject     = "project"
	FieldIssueType   = "issuetype"
	FieldStatus      = "status"
	FieldPriority    = "priority"
	FieldPrioritySeq = "priority_seq"
	FieldAssignee    = "assignee"
	FieldReporter    = "reporter"
	FieldSummary     = "summary"
	FieldDescription = "description"
	FieldLabels      = "labels"
	FieldCreated     = "created"
	FieldUpdated     = "updated"
	FieldDue         = "due"

	// FieldNonEmpty lists the names of the fields a document has a value
	// for; it backs IS EMPTY and the exclusion of empty values from !=.
	FieldNonEmpty = "nonempty"
	// FieldSource stores the issue JSON the hit is decoded from.
	FieldSource = "source"
)

// Comment and change index fields. Both carry the owning issue id in
// FieldIssue.
const (
	FieldIssue   = "issue"
	FieldBody    = "body"
	FieldAuthor  = "author"
	FieldChanged = "field"
	FieldFrom    = "from"
	FieldTo      = "to"
)

// CustomField returns the index field of a custom field.
func CustomField(id int64) string {
	return "customfield_" + strconv.FormatInt(id, 10)
}
