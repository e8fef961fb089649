package model

import "fmt"

// ShareType is the audience a saved search is shared with.
type ShareType string

const (
	ShareGlobal  ShareType = "global"
	ShareGroup   ShareType = "group"
	ShareProject ShareType = "project"
	ShareUser    ShareType = "user"
)

// IsValid checks whether the share type is a known value.
func (t ShareType) IsValid() bool {
	switch t {
	case ShareGlobal, ShareGroup, ShareProject, ShareUser:
		return true
	}
	return false
}

// SharePermission grants visibility of a saved search to an audience.
// Param is the group name, project id or user key; it is empty for global
// shares.
type SharePermission struct {
	Type  ShareType `json:"type"`
	Param string    `json:"param,omitempty"`
}

func (p SharePermission) String() string {
	if p.Param == "" {
		return string(p.Type)
	}
	return fmt.Sprintf("%s:%s", p.Type, p.Param)
}

// SharePermissions is the set of shares on a saved search. The empty set
// means private to the owner.
type SharePermissions []SharePermission

// IsPrivate reports whether nobody but the owner can see the search.
func (s SharePermissions) IsPrivate() bool { return len(s) == 0 }

// IsGlobal reports whether the search is shared with everyone.
func (s SharePermissions) IsGlobal() bool {
	for _, p := range s {
		if p.Type == ShareGlobal {
			return true
		}
	}
	return false
}

// Contains reports whether p is in the set.
func (s SharePermissions) Contains(p SharePermission) bool {
	for _, q := range s {
		if q == p {
			return true
		}
	}
	return false
}

// Equal compares two sets ignoring order.
func (s SharePermissions) Equal(other SharePermissions) bool {
	if len(s) != len(other) {
		return false
	}
	for _, p := range s {
		if !other.Contains(p) {
			return false
		}
	}
	return true
}

// SearchSortField orders saved-search listings.
type SearchSortField string

const (
	SortByName       SearchSortField = "name"
	SortByOwner      SearchSortField = "owner"
	SortByFavourites SearchSortField = "favourites"
)

// SharedSearchParams selects saved searches for the "search filters" page.
// Zero values mean no restriction.
type SharedSearchParams struct {
	Text       string           // matched against name and description
	OwnerKey   string
	Share      *SharePermission // only searches carrying this share
	SortBy     SearchSortField
	Descending bool
}
