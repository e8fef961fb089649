package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/store/memory"
)

var exportTime = time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)

func seedSearches(t *testing.T, st *memory.Store, recs ...*model.SearchRequestRecord) {
	t.Helper()
	for _, r := range recs {
		if err := st.CreateSearchRequest(context.Background(), r); err != nil {
			t.Fatalf("CreateSearchRequest: %v", err)
		}
	}
}

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	n, err := ExportJSONL(context.Background(), memory.New(), &buf, exportTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}
	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != FormatVersion || h.Type != "header" || h.FilterCount != 0 || !h.Timestamp.Equal(exportTime) {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestExportJSONL_Filters(t *testing.T) {
	st := memory.New()
	seedSearches(t, st,
		&model.SearchRequestRecord{Name: "open bugs", OwnerKey: "alice", Query: `issuetype = Bug AND status = Open`},
		&model.SearchRequestRecord{Name: "mine", OwnerKey: "bob", Query: "assignee = currentUser()",
			Permissions: model.SharePermissions{{Type: model.ShareGroup, Param: "devs"}}},
	)

	var buf bytes.Buffer
	n, err := ExportJSONL(context.Background(), st, &buf, exportTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), buf.String())
	}

	var got []model.SearchRequestRecord
	for _, line := range lines[1:] {
		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if rec.Type != "filter" {
			t.Fatalf("record type = %q, want filter", rec.Type)
		}
		var f model.SearchRequestRecord
		if err := json.Unmarshal(rec.Data, &f); err != nil {
			t.Fatalf("unmarshal filter: %v", err)
		}
		got = append(got, f)
	}
	if got[0].Name != "open bugs" || got[1].Name != "mine" {
		t.Fatalf("filters not in id order: %q, %q", got[0].Name, got[1].Name)
	}
	if !got[1].Permissions.Equal(model.SharePermissions{{Type: model.ShareGroup, Param: "devs"}}) {
		t.Errorf("permissions = %v", got[1].Permissions)
	}
}

type failingSource struct{ err error }

func (f failingSource) ListAllSearchRequests(context.Context) ([]*model.SearchRequestRecord, error) {
	return nil, f.err
}

func TestExportJSONL_SourceError(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := ExportJSONL(context.Background(), failingSource{boom}, &bytes.Buffer{}, exportTime)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestImportJSONL_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	seedSearches(t, src,
		&model.SearchRequestRecord{Name: "open bugs", OwnerKey: "alice", Query: `issuetype = Bug AND status = Open`, FavouriteCount: 3},
		&model.SearchRequestRecord{Name: "mine", OwnerKey: "bob", Query: "assignee = currentUser() ORDER BY updated DESC",
			Permissions: model.SharePermissions{{Type: model.ShareGlobal}}},
	)
	var buf bytes.Buffer
	if _, err := ExportJSONL(ctx, src, &buf, exportTime); err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := memory.New()
	seedSearches(t, dst, &model.SearchRequestRecord{Name: "mine", OwnerKey: "bob", Query: ""})

	res, err := ImportJSONL(ctx, dst, &buf)
	if err != nil {
		t.Fatalf("ImportJSONL: %v", err)
	}
	if res.Created != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 created and 1 skipped", res)
	}
	got, err := dst.GetSearchRequestByName(ctx, "alice", "open bugs")
	if err != nil {
		t.Fatalf("imported search missing: %v", err)
	}
	if got.Query != "issuetype = Bug AND status = Open" || got.FavouriteCount != 0 {
		t.Errorf("imported = %+v", got)
	}
}

func TestImportJSONL_Errors(t *testing.T) {
	const hdr = `{"version":"1","type":"header","filter_count":1}`
	tests := []struct {
		name  string
		input string
	}{
		{"bad json", "{\n"},
		{"wrong version", `{"version":"9","type":"header"}`},
		{"filter before header", `{"type":"filter","data":{"name":"x","owner_key":"a","query":""}}`},
		{"unknown type", hdr + "\n" + `{"type":"bead","data":{}}`},
		{"bad query", hdr + "\n" + `{"type":"filter","data":{"name":"x","owner_key":"a","query":"status = "}}`},
		{"invalid filter", hdr + "\n" + `{"type":"filter","data":{"name":"","owner_key":"a","query":""}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memory.New()
			if _, err := ImportJSONL(context.Background(), st, strings.NewReader(tt.input)); err == nil {
				t.Fatal("expected error")
			}
			all, _ := st.ListAllSearchRequests(context.Background())
			if len(all) != 0 {
				t.Errorf("%d searches written despite the error", len(all))
			}
		})
	}
}

func nonEmptyLines(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}
