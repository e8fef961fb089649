package model

// Project groups issues and is the unit of browse permission.
type Project struct {
	ID         int64  `json:"id"`
	Key        string `json:"key"`
	Name       string `json:"name"`
	CategoryID *int64 `json:"category_id,omitempty"`
}

// ProjectCategory groups projects.
type ProjectCategory struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// IssueType classifies issues (Bug, Task, ...).
type IssueType struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subtask bool   `json:"subtask,omitempty"`
}

// User is a searching user. A nil *User is the anonymous user.
type User struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	Groups      []string `json:"groups,omitempty"`
}

// InGroup reports whether the user belongs to group.
func (u *User) InGroup(group string) bool {
	if u == nil {
		return false
	}
	for _, g := range u.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// UserKey returns the key of u, or "" for the anonymous user.
func UserKey(u *User) string {
	if u == nil {
		return ""
	}
	return u.Key
}

// CustomFieldType selects how a custom field is indexed and queried.
type CustomFieldType string

const (
	CustomFieldText   CustomFieldType = "text"
	CustomFieldNumber CustomFieldType = "number"
	CustomFieldSelect CustomFieldType = "select"
	CustomFieldDate   CustomFieldType = "date"
)

// IsValid checks whether the custom field type is a known value.
func (t CustomFieldType) IsValid() bool {
	switch t {
	case CustomFieldText, CustomFieldNumber, CustomFieldSelect, CustomFieldDate:
		return true
	}
	return false
}

// CustomField is an administrator-defined issue field.
type CustomField struct {
	ID   int64           `json:"id"`
	Name string          `json:"name"`
	Type CustomFieldType `json:"type"`
}

// GrantType is the audience of a project browse grant.
type GrantType string

const (
	// GrantAnyone includes the anonymous user.
	GrantAnyone GrantType = "anyone"
	GrantGroup  GrantType = "group"
	GrantUser   GrantType = "user"
)

// BrowseGrant allows an audience to see the issues of a project. Param is
// the group name or user key.
type BrowseGrant struct {
	ProjectID int64     `json:"project_id"`
	Type      GrantType `json:"type"`
	Param     string    `json:"param,omitempty"`
}
