package indexer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/alfredjeanlab/issuesearch/internal/events"
	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/store/memory"
)

// fakeSink records index updates.
type fakeSink struct {
	mu      sync.Mutex
	indexed []int64
	deleted []int64
	err     error
	notify  chan struct{}
}

func (s *fakeSink) IndexIssues(_ context.Context, issues []*model.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, i := range issues {
		s.indexed = append(s.indexed, i.ID)
	}
	s.signal()
	return nil
}

func (s *fakeSink) DeleteIssue(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	s.signal()
	return nil
}

func (s *fakeSink) signal() {
	if s.notify != nil {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func seedStore(t *testing.T, n int) *memory.Store {
	t.Helper()
	st := memory.New()
	for i := 1; i <= n; i++ {
		if err := st.UpsertIssue(context.Background(), &model.Issue{ID: int64(i), Key: "ABC-1", Status: model.StatusOpen}); err != nil {
			t.Fatalf("UpsertIssue: %v", err)
		}
	}
	return st
}

func TestRebuild(t *testing.T) {
	st := seedStore(t, 7)
	sink := &fakeSink{}
	p := New(st, sink, 3, quietLogger())

	n, err := p.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if n != 7 {
		t.Errorf("Rebuild = %d, want 7", n)
	}
	for i, id := range sink.indexed {
		if id != int64(i+1) {
			t.Fatalf("indexed = %v, want 1..7 in order", sink.indexed)
		}
	}
	if got := p.Stats().Indexed; got != 7 {
		t.Errorf("Stats().Indexed = %d", got)
	}
}

func TestRebuild_SinkError(t *testing.T) {
	boom := errors.New("disk full")
	p := New(seedStore(t, 2), &fakeSink{err: boom}, 0, quietLogger())
	if _, err := p.Rebuild(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestRebuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(seedStore(t, 2), &fakeSink{}, 0, quietLogger())
	if _, err := p.Rebuild(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestHandle(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t, 2)

	tests := []struct {
		name        string
		env         events.Envelope
		wantIndexed []int64
		wantDeleted []int64
		wantErr     bool
	}{
		{
			name:        "upsert",
			env:         events.Envelope{Topic: events.TopicIssueUpserted, Data: []byte(`{"issue_id":2}`)},
			wantIndexed: []int64{2},
		},
		{
			name:        "upsert of missing issue removes it",
			env:         events.Envelope{Topic: events.TopicIssueUpserted, Data: []byte(`{"issue_id":99}`)},
			wantDeleted: []int64{99},
		},
		{
			name:        "delete",
			env:         events.Envelope{Topic: events.TopicIssueDeleted, Data: []byte(`{"issue_id":1}`)},
			wantDeleted: []int64{1},
		},
		{
			name:    "bad payload",
			env:     events.Envelope{Topic: events.TopicIssueUpserted, Data: []byte(`nope`)},
			wantErr: true,
		},
		{
			name:    "unknown topic",
			env:     events.Envelope{Topic: "issuesearch.issue.renamed", Data: []byte(`{"issue_id":1}`)},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{}
			p := New(st, sink, 0, quietLogger())
			err := p.Handle(ctx, tt.env)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Handle err = %v, wantErr %v", err, tt.wantErr)
			}
			if !equalIDs(sink.indexed, tt.wantIndexed) || !equalIDs(sink.deleted, tt.wantDeleted) {
				t.Errorf("indexed %v deleted %v, want %v and %v", sink.indexed, sink.deleted, tt.wantIndexed, tt.wantDeleted)
			}
		})
	}
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func startTestNATS(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestRun(t *testing.T) {
	url := startTestNATS(t)
	st := seedStore(t, 3)
	sink := &fakeSink{notify: make(chan struct{}, 8)}
	p := New(st, sink, 0, quietLogger())

	sub, err := events.NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("NewNATSSubscriber: %v", err)
	}
	defer sub.Close()
	pub, err := events.NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("NewNATSPublisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, sub) }()

	// Run subscribes asynchronously; retry until the first event lands.
	deadline := time.After(5 * time.Second)
	for delivered := false; !delivered; {
		if err := pub.Publish(ctx, events.TopicIssueUpserted, events.IssueChanged{IssueID: 3}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		pub.Flush()
		select {
		case <-sink.notify:
			delivered = true
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for the pipeline to index")
		}
	}

	if err := pub.Publish(ctx, events.TopicIssueDeleted, events.IssueChanged{IssueID: 2}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	pub.Flush()
	waitFor(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.deleted) == 1
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if p.Stats().Deleted != 1 {
		t.Errorf("Stats = %+v", p.Stats())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
