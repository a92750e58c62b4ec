package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"polyagents/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ HeadlineStore = (*ParquetStore)(nil)
var _ CurveExporter = (*ParquetStore)(nil)

// ParquetStore implements BarStore, HeadlineStore and CurveExporter using
// Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// HeadlineRecord is the Parquet schema for scored headlines.
type HeadlineRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"`
	Title     string  `parquet:"title"`
	Score     float64 `parquet:"score"`
}

// EquityRecord is the Parquet schema for an exported equity curve.
type EquityRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"`
	Equity    float64 `parquet:"equity"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
//
// Existing rows with the same timestamp are replaced.
func (s *ParquetStore) WriteBars(_ context.Context, market string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		ts := b.Timestamp.UTC()
		k := key{symbol: strings.ToUpper(b.Symbol), year: ts.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:     k.symbol,
			Timestamp:  ts.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, k.year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil {
			return fmt.Errorf("reading existing bars for %s/%d: %w", k.symbol, k.year, err)
		}
		merged := mergeByTimestamp(existing, records, func(r BarRecord) int64 { return r.Timestamp })

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time range.
func (s *ParquetStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := readParquetFile[BarRecord](s.barPath(symbol, market, year))
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s/%d: %w", symbol, year, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:     r.Symbol,
				Timestamp:  ts,
				Open:       r.Open,
				High:       r.High,
				Low:        r.Low,
				Close:      r.Close,
				Volume:     r.Volume,
				TradeCount: r.TradeCount,
				VWAP:       r.VWAP,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// HeadlineStore implementation
// ---------------------------------------------------------------------------

// WriteHeadlines merges headlines into one file per symbol at
// <DataDir>/sentiment/<SYMBOL>.parquet. Headlines sharing a timestamp and
// title are stored once.
func (s *ParquetStore) WriteHeadlines(_ context.Context, headlines []domain.Headline) error {
	groups := make(map[string][]HeadlineRecord)
	for _, h := range headlines {
		sym := strings.ToUpper(h.Symbol)
		groups[sym] = append(groups[sym], HeadlineRecord{
			Symbol:    sym,
			Timestamp: h.Time.UnixMilli(),
			Title:     h.Title,
			Score:     h.Score,
		})
	}

	for sym, records := range groups {
		path := s.headlinePath(sym)
		existing, err := readParquetFile[HeadlineRecord](path)
		if err != nil {
			return fmt.Errorf("reading existing headlines for %s: %w", sym, err)
		}
		merged := mergeHeadlineRecords(existing, records)
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing headlines for %s: %w", sym, err)
		}
	}
	return nil
}

// ReadHeadlines reads the headlines for symbol within [start, end].
func (s *ParquetStore) ReadHeadlines(_ context.Context, symbol string, start, end time.Time) ([]domain.Headline, error) {
	records, err := readParquetFile[HeadlineRecord](s.headlinePath(symbol))
	if err != nil {
		return nil, fmt.Errorf("reading headlines for %s: %w", symbol, err)
	}

	var out []domain.Headline
	for _, r := range records {
		ts := time.UnixMilli(r.Timestamp).UTC()
		if ts.Before(start) || ts.After(end) {
			continue
		}
		out = append(out, domain.Headline{Symbol: r.Symbol, Time: ts, Title: r.Title, Score: r.Score})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Equity curve export
// ---------------------------------------------------------------------------

// WriteEquityCurve writes curve to <DataDir>/runs/<runID>/equity.parquet,
// replacing any previous export.
func (s *ParquetStore) WriteEquityCurve(_ context.Context, runID string, curve []domain.EquityPoint) error {
	records := make([]EquityRecord, len(curve))
	for i, p := range curve {
		records[i] = EquityRecord{Timestamp: p.Time.UnixMilli(), Equity: p.Value}
	}
	if err := writeParquetFile(s.equityPath(runID), records); err != nil {
		return fmt.Errorf("writing equity curve for run %s: %w", runID, err)
	}
	return nil
}

// ReadEquityCurve reads back a curve written by WriteEquityCurve.
func (s *ParquetStore) ReadEquityCurve(_ context.Context, runID string) ([]domain.EquityPoint, error) {
	records, err := readParquetFile[EquityRecord](s.equityPath(runID))
	if err != nil {
		return nil, err
	}
	out := make([]domain.EquityPoint, len(records))
	for i, r := range records {
		out[i] = domain.EquityPoint{Time: time.UnixMilli(r.Timestamp).UTC(), Value: r.Equity}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market string, year int) string {
	return filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// headlinePath: <dataDir>/sentiment/<SYMBOL>.parquet
func (s *ParquetStore) headlinePath(symbol string) string {
	return filepath.Join(s.DataDir, "sentiment", strings.ToUpper(symbol)+".parquet")
}

// equityPath: <dataDir>/runs/<id>/equity.parquet
func (s *ParquetStore) equityPath(runID string) string {
	return filepath.Join(s.DataDir, "runs", runID, "equity.parquet")
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

// readParquetFile returns the rows of path. A missing file yields no rows.
func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return rows, nil
}

// mergeByTimestamp deduplicates records by timestamp, preferring incoming
// over existing. Results are sorted by timestamp.
func mergeByTimestamp[T any](existing, incoming []T, ts func(T) int64) []T {
	seen := make(map[int64]T, len(existing)+len(incoming))
	for _, r := range existing {
		seen[ts(r)] = r
	}
	for _, r := range incoming {
		seen[ts(r)] = r
	}

	merged := make([]T, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return ts(merged[i]) < ts(merged[j])
	})
	return merged
}

// mergeHeadlineRecords deduplicates by (timestamp, title). Results are
// sorted by timestamp then title.
func mergeHeadlineRecords(existing, incoming []HeadlineRecord) []HeadlineRecord {
	type key struct {
		ts    int64
		title string
	}
	seen := make(map[key]HeadlineRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Timestamp, r.Title}] = r
	}
	for _, r := range incoming {
		seen[key{r.Timestamp, r.Title}] = r
	}

	merged := make([]HeadlineRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].Title < merged[j].Title
	})
	return merged
}
