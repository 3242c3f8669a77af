// Package telemetry collects per-operation records during a session
// and exports them as parquet for offline analysis.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/openfibsem/gofibsem/internal/structures"
)

// Record is one instrument operation observed by the client.
type Record struct {
	TimestampMS int64   `parquet:"timestamp_ms"`
	Operation   string  `parquet:"operation"`
	Beam        string  `parquet:"beam,optional"`
	DurationMS  float64 `parquet:"duration_ms"`
	HFW         float64 `parquet:"hfw,optional"`
	StageX      float64 `parquet:"stage_x,optional"`
	StageY      float64 `parquet:"stage_y,optional"`
	StageZ      float64 `parquet:"stage_z,optional"`
	StageTilt   float64 `parquet:"stage_tilt,optional"`
	Success     bool    `parquet:"success"`
	Error       string  `parquet:"error,optional"`
}

// Log is an append-only in-memory record store.
type Log struct {
	mu      sync.Mutex
	records []Record
}

func NewLog() *Log {
	return &Log{}
}

// Append adds one record.
func (l *Log) Append(rec Record) {
	if rec.TimestampMS == 0 {
		rec.TimestampMS = time.Now().UnixMilli()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

// Observe records one completed operation.
func (l *Log) Observe(op string, beam structures.BeamType, duration time.Duration, err error) {
	rec := Record{
		Operation:  op,
		Beam:       beam.String(),
		DurationMS: float64(duration.Microseconds()) / 1000.0,
		Success:    err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	l.Append(rec)
}

// ObserveStage records a completed motion with the resulting pose.
func (l *Log) ObserveStage(op string, pos structures.StagePosition, duration time.Duration, err error) {
	rec := Record{
		Operation:  op,
		DurationMS: float64(duration.Microseconds()) / 1000.0,
		StageX:     pos.X,
		StageY:     pos.Y,
		StageZ:     pos.Z,
		StageTilt:  pos.Tilt,
		Success:    err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	l.Append(rec)
}

// Len returns the number of records collected.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Records returns a copy of the collected records.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// WriteParquet exports the log to w.
func (l *Log) WriteParquet(w io.Writer) error {
	records := l.Records()
	writer := parquet.NewGenericWriter[Record](w)
	if len(records) > 0 {
		if _, err := writer.Write(records); err != nil {
			return fmt.Errorf("telemetry: write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("telemetry: close parquet writer: %w", err)
	}
	return nil
}

// Export writes the log to a parquet file at path.
func (l *Log) Export(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("telemetry: create export dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("telemetry: create export file: %w", err)
	}
	defer f.Close()
	return l.WriteParquet(f)
}

// ReadParquet loads records exported by WriteParquet, for tests and
// offline tools.
func ReadParquet(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open export file: %w", err)
	}
	defer f.Close()
	reader := parquet.NewGenericReader[Record](f)
	defer reader.Close()

	out := make([]Record, 0)
	buf := make([]Record, 64)
	for {
		n, err := reader.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			break
		}
	}
	return out, nil
}
