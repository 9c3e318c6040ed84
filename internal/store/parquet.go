package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"markethours/internal/domain"
	"markethours/internal/pda"
)

// Compile-time interface check.
var _ ReceiptArchive = (*ParquetStore)(nil)

// ParquetStore archives receipts as Parquet files, one file per UTC day.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ReceiptRecord is the Parquet schema for archived receipts.
type ReceiptRecord struct {
	ID            string `parquet:"id"`
	Instruction   string `parquet:"instruction"`
	Signer        string `parquet:"signer"`
	Payer         string `parquet:"payer"`
	UnixTimestamp int64  `parquet:"unix_ts"`
	Success       bool   `parquet:"success"`
	Error         string `parquet:"error"`
	Logs          string `parquet:"logs"` // newline-joined
	Reward        int64  `parquet:"reward"`
	CreatedAt     int64  `parquet:"created_at,timestamp(millisecond)"` // Unix ms
}

// WriteReceipts merges receipts into the daily files they belong to:
//
//	<DataDir>/receipts/<YYYY-MM-DD>.parquet
func (s *ParquetStore) WriteReceipts(_ context.Context, receipts []domain.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}

	groups := make(map[string][]ReceiptRecord)
	for _, r := range receipts {
		date := r.CreatedAt.UTC().Format("2006-01-02")
		groups[date] = append(groups[date], toRecord(r))
	}

	for date, records := range groups {
		t, _ := time.Parse("2006-01-02", date)
		path := s.receiptPath(t)

		existing, _ := readParquetFile[ReceiptRecord](path)
		merged := mergeReceiptRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing receipts for %s: %w", date, err)
		}
	}
	return nil
}

// ReadReceipts reads archived receipts created within [start, end].
func (s *ParquetStore) ReadReceipts(_ context.Context, start, end time.Time) ([]domain.Receipt, error) {
	var out []domain.Receipt
	day := start.UTC()
	first := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	for d := first; !d.After(end); d = d.AddDate(0, 0, 1) {
		records, err := readParquetFile[ReceiptRecord](s.receiptPath(d))
		if err != nil {
			// No file for this day.
			continue
		}
		for _, rec := range records {
			ts := time.UnixMilli(rec.CreatedAt).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			r, err := fromRecord(rec)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// receiptPath returns the Parquet file for the UTC day of t.
func (s *ParquetStore) receiptPath(t time.Time) string {
	return filepath.Join(s.DataDir, "receipts", t.UTC().Format("2006-01-02")+".parquet")
}

func toRecord(r domain.Receipt) ReceiptRecord {
	return ReceiptRecord{
		ID:            r.ID,
		Instruction:   r.Instruction,
		Signer:        r.Signer.String(),
		Payer:         r.Payer.String(),
		UnixTimestamp: r.UnixTimestamp,
		Success:       r.Success,
		Error:         r.Error,
		Logs:          strings.Join(r.Logs, "\n"),
		Reward:        int64(r.Reward),
		CreatedAt:     r.CreatedAt.UnixMilli(),
	}
}

func fromRecord(rec ReceiptRecord) (domain.Receipt, error) {
	signer, err := pda.ParseAddress(rec.Signer)
	if err != nil {
		return domain.Receipt{}, err
	}
	payer, err := pda.ParseAddress(rec.Payer)
	if err != nil {
		return domain.Receipt{}, err
	}
	var logs []string
	if rec.Logs != "" {
		logs = strings.Split(rec.Logs, "\n")
	}
	return domain.Receipt{
		ID:            rec.ID,
		Instruction:   rec.Instruction,
		Signer:        signer,
		Payer:         payer,
		UnixTimestamp: rec.UnixTimestamp,
		Success:       rec.Success,
		Error:         rec.Error,
		Logs:          logs,
		Reward:        uint64(rec.Reward),
		CreatedAt:     time.UnixMilli(rec.CreatedAt).UTC(),
	}, nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeReceiptRecords deduplicates by receipt ID, preferring incoming records.
// Results are sorted by creation time.
func mergeReceiptRecords(existing, incoming []ReceiptRecord) []ReceiptRecord {
	seen := make(map[string]ReceiptRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = r
	}
	for _, r := range incoming {
		seen[r.ID] = r
	}

	merged := make([]ReceiptRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt != merged[j].CreatedAt {
			return merged[i].CreatedAt < merged[j].CreatedAt
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}
