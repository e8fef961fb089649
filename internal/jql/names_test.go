package jql

import (
	"errors"
	"strings"
	"testing"
)

func TestClauseNames_ContainsPrimaryCaseInsensitive(t *testing.T) {
	for _, primary := range []string{"project", "issueType", "cf[10001]", "Story Points"} {
		n, err := NewClauseNames(primary, "alias")
		if err != nil {
			t.Fatalf("NewClauseNames(%q): %v", primary, err)
		}
		for _, name := range []string{primary, strings.ToUpper(primary), strings.ToLower(primary), "ALIAS"} {
			if !n.Contains(name) {
				t.Errorf("%v.Contains(%q) = false", n, name)
			}
		}
		if n.Contains("other") {
			t.Errorf("%v.Contains(other) = true", n)
		}
	}
}

func TestClauseNames_RejectsBlank(t *testing.T) {
	for _, tc := range []struct {
		primary string
		aliases []string
	}{
		{"", nil},
		{"   ", nil},
		{"status", []string{"state", " "}},
	} {
		if _, err := NewClauseNames(tc.primary, tc.aliases...); !errors.Is(err, ErrBlankClauseName) {
			t.Errorf("NewClauseNames(%q, %q) error = %v, want ErrBlankClauseName", tc.primary, tc.aliases, err)
		}
	}
}

func TestMustClauseNames_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustClauseNames(\"\") did not panic")
		}
	}()
	MustClauseNames("")
}

func TestClauseNames_EqualAndHash(t *testing.T) {
	a := MustClauseNames("issuetype", "type")
	b := MustClauseNames("issuetype", "TYPE")
	c := MustClauseNames("type", "issuetype")
	d := MustClauseNames("issuetype")

	if !a.Equal(b) || a.Hash() != b.Hash() {
		t.Error("equal name sets should be Equal with equal hashes")
	}
	if a.Equal(c) {
		t.Error("different primary names should not be Equal")
	}
	if a.Equal(d) {
		t.Error("different name sets should not be Equal")
	}
}

func TestForCustomField(t *testing.T) {
	reservedNames := map[string]bool{"status": true}
	isReserved := func(s string) bool { return reservedNames[strings.ToLower(s)] }

	for _, tc := range []struct {
		name      string
		fieldName string
		wantAlias bool
	}{
		{"plain name becomes alias", "Story Points", true},
		{"reserved name is not aliased", "Status", false},
		{"cf form is not aliased", "cf[999]", false},
		{"blank name", "", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			n, err := ForCustomField(10001, tc.fieldName, isReserved)
			if err != nil {
				t.Fatalf("ForCustomField: %v", err)
			}
			if n.Primary() != "cf[10001]" {
				t.Errorf("Primary() = %q, want cf[10001]", n.Primary())
			}
			if !n.Contains("CF[10001]") {
				t.Error("synthetic name lookup should be case-insensitive")
			}
			if tc.fieldName != "" && n.Contains(tc.fieldName) != tc.wantAlias {
				t.Errorf("Contains(%q) = %v, want %v", tc.fieldName, !tc.wantAlias, tc.wantAlias)
			}
		})
	}
}

func TestIsCustomFieldClauseName(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want bool
	}{
		{"cf[1]", true},
		{"CF[10001]", true},
		{"cf[]", false},
		{"cf[abc]", false},
		{"customfield_1", false},
	} {
		if got := IsCustomFieldClauseName(tc.in); got != tc.want {
			t.Errorf("IsCustomFieldClauseName(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
