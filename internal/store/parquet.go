package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"alerttrader/internal/domain"
)

// ParquetArchive implements engine.OrderLog by appending attempts to daily
// Parquet files:
//
//	<DataDir>/attempts/<YYYY-MM-DD>.parquet
type ParquetArchive struct {
	DataDir string

	mu sync.Mutex
}

// NewParquetArchive creates an archive rooted at dataDir.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// AttemptRecord is the Parquet schema for one order attempt.
type AttemptRecord struct {
	ID            string `parquet:"id"`
	Seq           int64  `parquet:"seq"`
	UserID        string `parquet:"user_id"`
	ServiceID     string `parquet:"service_id"`
	BrokerType    string `parquet:"broker_type"`
	Action        string `parquet:"action"`
	Base          string `parquet:"base"`
	Quote         string `parquet:"quote"`
	Success       bool   `parquet:"success"`
	BrokerOrderID string `parquet:"broker_order_id"`
	ErrorKind     string `parquet:"error_kind"`
	Error         string `parquet:"error"`
	Order         string `parquet:"order"` // JSON, empty when never sized
	StartedAt     int64  `parquet:"started_at,timestamp(millisecond)"`
	FinishedAt    int64  `parquet:"finished_at,timestamp(millisecond)"`
}

func newAttemptRecord(a domain.OrderAttempt) (AttemptRecord, error) {
	r := AttemptRecord{
		ID:            a.ID,
		Seq:           int64(a.Seq),
		UserID:        a.UserID,
		ServiceID:     a.Result.ServiceID,
		BrokerType:    string(a.Result.BrokerType),
		Action:        string(a.Intent.Action),
		Base:          a.Intent.Pair.Base,
		Quote:         a.Intent.Pair.Quote,
		Success:       a.Result.Success,
		BrokerOrderID: a.Result.BrokerOrderID,
		ErrorKind:     string(a.Result.ErrorKind),
		Error:         a.Result.Error,
		StartedAt:     a.StartedAt.UnixMilli(),
		FinishedAt:    a.FinishedAt.UnixMilli(),
	}
	if a.Result.Order != nil {
		b, err := json.Marshal(a.Result.Order)
		if err != nil {
			return r, err
		}
		r.Order = string(b)
	}
	return r, nil
}

func (r AttemptRecord) attempt() (domain.OrderAttempt, error) {
	a := domain.OrderAttempt{
		ID:     r.ID,
		Seq:    uint64(r.Seq),
		UserID: r.UserID,
		Intent: domain.OrderIntent{
			Action: domain.Action(r.Action),
			Pair:   domain.SymbolPair{Base: r.Base, Quote: r.Quote},
		},
		Result: domain.OrderResult{
			ServiceID:     r.ServiceID,
			BrokerType:    domain.BrokerType(r.BrokerType),
			Success:       r.Success,
			BrokerOrderID: r.BrokerOrderID,
			ErrorKind:     domain.ErrorKind(r.ErrorKind),
			Error:         r.Error,
		},
		StartedAt:  time.UnixMilli(r.StartedAt),
		FinishedAt: time.UnixMilli(r.FinishedAt),
	}
	if r.Order != "" {
		var o domain.Order
		if err := json.Unmarshal([]byte(r.Order), &o); err != nil {
			return a, fmt.Errorf("decoding order of attempt %s: %w", r.ID, err)
		}
		a.Result.Order = &o
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// OrderLog implementation
// ---------------------------------------------------------------------------

// Record merges the attempt into the file of the day it started.
func (s *ParquetArchive) Record(_ context.Context, a domain.OrderAttempt) error {
	rec, err := newAttemptRecord(a)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.attemptPath(a.StartedAt)
	existing, err := readParquetFile[AttemptRecord](path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	merged := mergeAttemptRecords(existing, []AttemptRecord{rec})
	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing attempts for %s: %w", a.StartedAt.UTC().Format("2006-01-02"), err)
	}
	return nil
}

// ReadAttempts returns the attempts that started on day (UTC), oldest first.
// A day without attempts yields an empty slice.
func (s *ParquetArchive) ReadAttempts(_ context.Context, day time.Time) ([]domain.OrderAttempt, error) {
	s.mu.Lock()
	records, err := readParquetFile[AttemptRecord](s.attemptPath(day))
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]domain.OrderAttempt, 0, len(records))
	for _, r := range records {
		a, err := r.attempt()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path and file helpers
// ---------------------------------------------------------------------------

// attemptPath returns <dataDir>/attempts/<YYYY-MM-DD>.parquet for t in UTC.
func (s *ParquetArchive) attemptPath(t time.Time) string {
	return filepath.Join(s.DataDir, "attempts", t.UTC().Format("2006-01-02")+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeAttemptRecords deduplicates by ID, keeping the first record stored
// under an ID. Results are sorted by start time, then sequence.
func mergeAttemptRecords(existing, incoming []AttemptRecord) []AttemptRecord {
	seen := make(map[string]AttemptRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = r
	}
	for _, r := range incoming {
		if _, ok := seen[r.ID]; !ok {
			seen[r.ID] = r
		}
	}

	merged := make([]AttemptRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].StartedAt != merged[j].StartedAt {
			return merged[i].StartedAt < merged[j].StartedAt
		}
		return merged[i].Seq < merged[j].Seq
	})
	return merged
}
