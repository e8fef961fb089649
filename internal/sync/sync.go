package sync

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/alfredjeanlab/issuesearch/internal/store"
)

// Destination receives the JSONL backup of every saved search.
type Destination interface {
	fmt.Stringer
	// Write stores the payload, replacing any earlier backup.
	Write(ctx context.Context, data []byte) error
}

// Backup is a destination that can hand its last backup back.
type Backup interface {
	Destination
	Read(ctx context.Context) ([]byte, error)
}

// Restore imports the saved searches held by b into st.
func Restore(ctx context.Context, st store.Store, b Backup) (ImportResult, error) {
	data, err := b.Read(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	return ImportJSONL(ctx, st, bytes.NewReader(data))
}

// Scheduler periodically exports saved searches to its destinations. A
// destination is written only when the searches changed since its last
// successful write; the header timestamp alone does not count as a change.
type Scheduler struct {
	source       Source
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	written map[Destination][32]byte

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(source Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:       source,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		now:          time.Now,
		written:      make(map[Destination][32]byte, len(destinations)),
	}
}

// Start syncs once immediately and then on every tick until Stop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop ends the loop and waits for a sync in progress.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.SyncOnce(ctx); err != nil {
			s.logger.Error("saved search sync failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce exports once and writes to every stale destination. A failing
// destination does not stop the others; the first failure is returned and
// that destination is retried on the next sync.
func (s *Scheduler) SyncOnce(ctx context.Context) error {
	recs, err := s.source.ListAllSearchRequests(ctx)
	if err != nil {
		return fmt.Errorf("sync: list saved searches: %w", err)
	}
	body, err := encodeFilters(recs)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	digest := blake3.Sum256(body)

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		payload []byte
		wrote   int
		first   error
	)
	for _, dest := range s.destinations {
		if last, ok := s.written[dest]; ok && last == digest {
			continue
		}
		if payload == nil {
			var buf bytes.Buffer
			if err := writeExport(&buf, body, len(recs), s.now()); err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			payload = buf.Bytes()
		}
		if err := dest.Write(ctx, payload); err != nil {
			s.logger.Error("sync destination write failed", "destination", dest.String(), "err", err)
			if first == nil {
				first = fmt.Errorf("%s: %w", dest, err)
			}
			continue
		}
		s.written[dest] = digest
		wrote++
	}

	if wrote > 0 {
		s.logger.Info("saved searches backed up", "destinations", wrote, "filters", len(recs), "bytes", len(payload))
	} else {
		s.logger.Debug("saved searches unchanged", "filters", len(recs))
	}
	return first
}
