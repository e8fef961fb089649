package jql

import (
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrBlankClauseName is returned when a primary or alternate clause name is blank.
var ErrBlankClauseName = errors.New("clause name must not be blank")

var customFieldName = regexp.MustCompile(`(?i)^cf\[\d+\]$`)

// ClauseNames is the set of names a query may use to refer to one field.
// The primary name is always a member and membership is case-insensitive.
type ClauseNames struct {
	primary string
	names   map[string]struct{} // lower-cased
}

// NewClauseNames returns the name set for primary plus the given aliases.
func NewClauseNames(primary string, aliases ...string) (ClauseNames, error) {
	if strings.TrimSpace(primary) == "" {
		return ClauseNames{}, ErrBlankClauseName
	}
	names := map[string]struct{}{strings.ToLower(primary): {}}
	for _, a := range aliases {
		if strings.TrimSpace(a) == "" {
			return ClauseNames{}, fmt.Errorf("alias of %q: %w", primary, ErrBlankClauseName)
		}
		names[strings.ToLower(a)] = struct{}{}
	}
	return ClauseNames{primary: primary, names: names}, nil
}

// MustClauseNames is NewClauseNames for statically known names. It panics on
// blank input.
func MustClauseNames(primary string, aliases ...string) ClauseNames {
	n, err := NewClauseNames(primary, aliases...)
	if err != nil {
		panic(err)
	}
	return n
}

// CustomFieldClauseName returns the synthetic clause name of a custom field.
func CustomFieldClauseName(id int64) string {
	return "cf[" + strconv.FormatInt(id, 10) + "]"
}

// IsCustomFieldClauseName reports whether name has the cf[NNN] form.
func IsCustomFieldClauseName(name string) bool {
	return customFieldName.MatchString(strings.TrimSpace(name))
}

// ForCustomField builds the names of a custom field. The primary name is the
// synthetic cf[id]; the field's own name becomes an alias unless it collides
// with a reserved system name or is already in cf[NNN] form.
func ForCustomField(id int64, name string, isReserved func(string) bool) (ClauseNames, error) {
	primary := CustomFieldClauseName(id)
	name = strings.TrimSpace(name)
	if name == "" || IsCustomFieldClauseName(name) || (isReserved != nil && isReserved(name)) {
		return NewClauseNames(primary)
	}
	return NewClauseNames(primary, name)
}

// Primary returns the canonical name.
func (c ClauseNames) Primary() string { return c.primary }

// Contains reports whether name refers to this field, ignoring case.
func (c ClauseNames) Contains(name string) bool {
	_, ok := c.names[strings.ToLower(name)]
	return ok
}

// Names returns every member, lower-cased and sorted.
func (c ClauseNames) Names() []string {
	out := make([]string, 0, len(c.names))
	for n := range c.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets have the same primary name and members.
func (c ClauseNames) Equal(other ClauseNames) bool {
	if c.primary != other.primary || len(c.names) != len(other.names) {
		return false
	}
	for n := range c.names {
		if _, ok := other.names[n]; !ok {
			return false
		}
	}
	return true
}

// Hash is consistent with Equal.
func (c ClauseNames) Hash() uint64 {
	h := blake3.New()
	h.Write([]byte(c.primary))
	for _, n := range c.Names() {
		h.Write([]byte{0})
		h.Write([]byte(n))
	}
	return binary.BigEndian.Uint64(h.Sum(nil))
}

func (c ClauseNames) String() string {
	return c.primary + "[" + strings.Join(c.Names(), ",") + "]"
}
