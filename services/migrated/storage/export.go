package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	ID          string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind        string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Outcome     string `parquet:"name=outcome, type=BYTE_ARRAY, convertedtype=UTF8"`
	Source      string `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	Destination string `parquet:"name=destination, type=BYTE_ARRAY, convertedtype=UTF8"`
	Actor       string `parquet:"name=actor, type=BYTE_ARRAY, convertedtype=UTF8"`
	FeeRateBps  int64  `parquet:"name=fee_rate_bps, type=INT64"`
	Error       string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
	Payload     string `parquet:"name=payload, type=BYTE_ARRAY, convertedtype=UTF8"`
	Digest      string `parquet:"name=digest, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt   string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Export writes every record created since the given time to
// dir/audit-<unix>.parquet and returns the path and row count.
func (s *AuditStore) Export(ctx context.Context, dir string, since time.Time) (string, int, error) {
	records, err := s.List(ctx, since, 0)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("audit: create export dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("audit-%d.parquet", s.now().UTC().Unix()))
	if err := WriteParquet(path, records); err != nil {
		return "", 0, err
	}
	return path, len(records), nil
}

// WriteParquet writes records to path with snappy compression.
func WriteParquet(path string, records []AuditRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := &parquetRow{
			ID:          rec.ID.String(),
			Kind:        rec.Kind,
			Outcome:     rec.Outcome,
			Source:      rec.Source,
			Destination: rec.Destination,
			Actor:       rec.Actor,
			FeeRateBps:  int64(rec.FeeRateBps),
			Error:       rec.Error,
			Payload:     rec.Payload,
			Digest:      rec.Digest,
			CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}
