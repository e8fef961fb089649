// Package sync backs saved searches up to external destinations as JSONL
// and restores them from such a backup.
package sync

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/store"
)

// FormatVersion is written in the header of every export.
const FormatVersion = "1"

const (
	typeHeader = "header"
	typeFilter = "filter"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version     string    `json:"version"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	FilterCount int       `json:"filter_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Source lists the saved searches to export.
type Source interface {
	ListAllSearchRequests(ctx context.Context) ([]*model.SearchRequestRecord, error)
}

// ExportJSONL writes every saved search, ordered by id, to w: a header line
// followed by one "filter" line per search.
func ExportJSONL(ctx context.Context, s Source, w io.Writer, now time.Time) (int, error) {
	recs, err := s.ListAllSearchRequests(ctx)
	if err != nil {
		return 0, fmt.Errorf("list saved searches: %w", err)
	}
	body, err := encodeFilters(recs)
	if err != nil {
		return 0, err
	}
	if err := writeExport(w, body, len(recs), now); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// encodeFilters renders the "filter" lines of an export.
func encodeFilters(recs []*model.SearchRequestRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range recs {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode saved search %d: %w", r.ID, err)
		}
		if err := enc.Encode(record{Type: typeFilter, Data: data}); err != nil {
			return nil, fmt.Errorf("encode saved search %d: %w", r.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func writeExport(w io.Writer, body []byte, count int, now time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(header{
		Version:     FormatVersion,
		Type:        typeHeader,
		Timestamp:   now.UTC(),
		FilterCount: count,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// ImportResult counts what ImportJSONL did.
type ImportResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"` // an owner already had a search of that name
}

// ImportJSONL recreates the saved searches of an export in st. Ids are
// reassigned; favourite counts restart at zero since favourites are not
// exported. Every query is parsed before anything is written, and the
// writes share one transaction.
func ImportJSONL(ctx context.Context, st store.Store, r io.Reader) (ImportResult, error) {
	var (
		res  ImportResult
		recs []*model.SearchRequestRecord
		seen bool
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return res, fmt.Errorf("line %d: %w", line, err)
		}
		switch rec.Type {
		case typeHeader:
			var h header
			if err := json.Unmarshal(sc.Bytes(), &h); err != nil {
				return res, fmt.Errorf("line %d: %w", line, err)
			}
			if h.Version != FormatVersion {
				return res, fmt.Errorf("line %d: unsupported export version %q", line, h.Version)
			}
			seen = true
		case typeFilter:
			if !seen {
				return res, fmt.Errorf("line %d: saved search before header", line)
			}
			var f model.SearchRequestRecord
			if err := json.Unmarshal(rec.Data, &f); err != nil {
				return res, fmt.Errorf("line %d: %w", line, err)
			}
			sr, err := f.Restore()
			if err != nil {
				return res, fmt.Errorf("line %d: %w", line, err)
			}
			if err := model.ValidateSearchRequest(sr); err != nil {
				return res, fmt.Errorf("line %d: %w", line, err)
			}
			recs = append(recs, &f)
		default:
			return res, fmt.Errorf("line %d: unknown record type %q", line, rec.Type)
		}
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("read export: %w", err)
	}

	err := st.RunInTransaction(ctx, func(tx store.Store) error {
		for _, f := range recs {
			_, err := tx.GetSearchRequestByName(ctx, f.OwnerKey, f.Name)
			if err == nil {
				res.Skipped++
				continue
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			f.ID = 0
			f.FavouriteCount = 0
			if err := tx.CreateSearchRequest(ctx, f); err != nil {
				return err
			}
			res.Created++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, fmt.Errorf("import saved searches: %w", err)
	}
	return res, nil
}
