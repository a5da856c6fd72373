package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "depot-test-*.db")
	require.NoError(t, err)
	tmpFile.Close()

	db, err := Open(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(tmpFile.Name())
	})
	return db
}

func TestSlotLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, ok, err := db.GetSlot(ctx, "workerSession")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SetSlot(ctx, "workerSession", `{"user":"w1"}`))
	require.NoError(t, db.SetSlot(ctx, "workerSession", `{"user":"w2"}`))

	v, ok, err := db.GetSlot(ctx, "workerSession")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"user":"w2"}`, v)

	slots, err := db.ListSlots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 1)

	require.NoError(t, db.DeleteSlot(ctx, "workerSession"))
	_, ok, err = db.GetSlot(ctx, "workerSession")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTakeSlotOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SetSlot(ctx, "pendingScan", "/scan?type=warehouse&id=main"))

	v, ok, err := db.TakeSlot(ctx, "pendingScan")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/scan?type=warehouse&id=main", v)

	_, ok, err = db.TakeSlot(ctx, "pendingScan")
	require.NoError(t, err)
	assert.False(t, ok, "second take should find the slot empty")
}

func TestSnapshotCache(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	snap, err := db.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	fetched := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.SaveSnapshot(ctx, &CachedSnapshot{
		Payload:    []byte(`{"centers":[]}`),
		ServerTime: "2024-05-02T10:00:00",
		FetchedAt:  fetched,
	}))
	require.NoError(t, db.SaveSnapshot(ctx, &CachedSnapshot{
		Payload:    []byte(`{"centers":[{"id":"c1"}]}`),
		ServerTime: "2024-05-02T10:00:15",
		FetchedAt:  fetched,
	}))

	snap, err = db.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.JSONEq(t, `{"centers":[{"id":"c1"}]}`, string(snap.Payload))
	assert.Equal(t, "2024-05-02T10:00:15", snap.ServerTime)

	require.NoError(t, db.ClearSnapshot(ctx))
	snap, err = db.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestScanJournal(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, db.InsertScan(ctx, &ScanEntry{
		ID: "a", Raw: "/scan?type=truck&id=TR-01", Kind: "truck", Worker: "w1",
		Outcome: ScanApplied, CreatedAt: base,
	}))
	require.NoError(t, db.InsertScan(ctx, &ScanEntry{
		ID: "b", Raw: "/scan?type=center&center_id=c2", Kind: "center", Worker: "w1", RouteID: "R1",
		Outcome: ScanRejected, Detail: "wrong center", CreatedAt: base.Add(time.Second),
	}))

	entries, err := db.RecentScans(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].ID)
	assert.Equal(t, ScanRejected, entries[0].Outcome)
	assert.Equal(t, "R1", entries[0].RouteID)
	assert.Equal(t, "", entries[1].RouteID)
}

func TestAdvanceRouteProgressNeverDecreases(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	prev, err := db.AdvanceRouteProgress(ctx, "R1", 0, "en_ruta")
	require.NoError(t, err)
	assert.Equal(t, -1, prev)

	prev, err = db.AdvanceRouteProgress(ctx, "R1", 2, "en_ruta")
	require.NoError(t, err)
	assert.Equal(t, 0, prev)

	prev, err = db.AdvanceRouteProgress(ctx, "R1", 1, "en_destino")
	require.NoError(t, err)
	assert.Equal(t, 2, prev)

	p, err := db.GetRouteProgress(ctx, "R1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2, p.StopIdx)
	assert.Equal(t, "en_ruta", p.Status)

	n, err := db.PruneRouteProgress(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestQueryTable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SetSlot(ctx, "activeRouteId", `"R1"`))

	cols, rows, err := db.QueryTable(ctx, "  select key, value, NULL AS missing, 42 AS n FROM session_slots")
	require.NoError(t, err)
	assert.Equal(t, []string{"key", "value", "missing", "n"}, cols)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"activeRouteId", `"R1"`, "NULL", "42"}, rows[0])

	_, _, err = db.QueryTable(ctx, "DELETE FROM session_slots")
	assert.ErrorIs(t, err, ErrNotSelect)

	_, ok, err := db.GetSlot(ctx, "activeRouteId")
	require.NoError(t, err)
	assert.True(t, ok)
}
