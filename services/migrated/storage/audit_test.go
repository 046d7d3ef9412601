package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

func openTestStore(t *testing.T) *AuditStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAuditStoreRecordAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := &AuditRecord{
		Kind:        KindSimulation,
		Outcome:     OutcomeAccepted,
		Source:      "0x1111111111111111111111111111111111111111",
		Destination: "0x2222222222222222222222222222222222222222",
		FeeRateBps:  50,
		Payload:     `{"id":"abc"}`,
	}
	require.NoError(t, store.Record(ctx, rec))
	require.NotEqual(t, uuid.Nil, rec.ID)
	require.False(t, rec.CreatedAt.IsZero())

	loaded, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, KindSimulation, loaded.Kind)
	require.Equal(t, uint64(50), loaded.FeeRateBps)
	require.Equal(t, rec.Payload, loaded.Payload)
	require.Len(t, loaded.Digest, 64)
	require.True(t, loaded.Verify())

	loaded.Payload = `{"id":"tampered"}`
	require.False(t, loaded.Verify())

	_, err = store.Get(ctx, uuid.New())
	require.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestAuditStoreListAndExport(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(ctx, &AuditRecord{
			Kind:      KindPlan,
			Outcome:   OutcomeAccepted,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	recent, err := store.List(ctx, base.Add(30*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	limited, err := store.List(ctx, base, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.True(t, limited[0].CreatedAt.Equal(base))

	store.now = func() time.Time { return base.Add(24 * time.Hour) }
	path, count, err := store.Export(ctx, t.TempDir(), base)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(3), pr.GetNumRows())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "dsn"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
