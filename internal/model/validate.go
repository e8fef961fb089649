package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// MaxSearchRequestNameLength bounds saved-search names.
const MaxSearchRequestNameLength = 255

// ValidateSearchRequest checks a SearchRequest for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if it is valid.
func ValidateSearchRequest(r *SearchRequest) error {
	var ve ValidationError

	name := strings.TrimSpace(r.Name())
	if name == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "name", Message: "is required"})
	} else if len([]rune(name)) > MaxSearchRequestNameLength {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "name",
			Message: fmt.Sprintf("must be %d characters or fewer", MaxSearchRequestNameLength),
		})
	}

	if strings.TrimSpace(r.OwnerKey()) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "owner", Message: "is required"})
	}

	for _, p := range r.Permissions() {
		switch {
		case !p.Type.IsValid():
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "permissions",
				Message: fmt.Sprintf("invalid share type %q", p.Type),
			})
		case p.Type == ShareGlobal && p.Param != "":
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "permissions",
				Message: "global share takes no parameter",
			})
		case p.Type != ShareGlobal && strings.TrimSpace(p.Param) == "":
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "permissions",
				Message: fmt.Sprintf("%s share requires a parameter", p.Type),
			})
		case p.Type == ShareProject:
			if _, err := strconv.ParseInt(p.Param, 10, 64); err != nil {
				ve.Errors = append(ve.Errors, FieldError{
					Field:   "permissions",
					Message: fmt.Sprintf("project share parameter %q is not a project id", p.Param),
				})
			}
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateIssue checks that an issue can be indexed.
func ValidateIssue(i *Issue) error {
	var ve ValidationError

	if i.ID <= 0 {
		ve.Errors = append(ve.Errors, FieldError{Field: "id", Message: "must be positive"})
	}
	if _, _, ok := SplitKey(i.Key); !ok {
		ve.Errors = append(ve.Errors, FieldError{Field: "key", Message: fmt.Sprintf("invalid issue key %q", i.Key)})
	}
	if i.ProjectID <= 0 {
		ve.Errors = append(ve.Errors, FieldError{Field: "project_id", Message: "is required"})
	}
	if strings.TrimSpace(i.Summary) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "summary", Message: "is required"})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
