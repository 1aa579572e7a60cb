package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "fieldbridge/pkg/logx"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	stores := map[string]Store{}
	for name, cfg := range map[string]Config{
		"file":          {Driver: "file", Path: filepath.Join(dir, "audit", "fieldbridge.log")},
		"sqlite":        {Driver: "sqlite", Path: filepath.Join(dir, "fieldbridge.db")},
		"sqlite-memory": {Driver: "sqlite", Path: ":memory:", BusyTimeout: time.Second},
	} {
		st, err := Open(cfg, logx.Nop())
		require.NoError(t, err, name)
		require.NotNil(t, st, name)
		t.Cleanup(func() { _ = st.Close() })
		stores[name] = st
	}
	return stores
}

func TestCyclesRoundTrip(t *testing.T) {
	base := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 4; i++ {
				require.NoError(t, st.AppendCycle(ctx, CycleRecord{
					RunID:      fmt.Sprintf("run-%d", i),
					StartedAt:  base.Add(time.Duration(i) * time.Hour),
					FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Second),
					Workspaces: 1,
					Tasks:      i,
					Documents:  i,
					Success:    i,
				}))
			}
			require.NoError(t, st.AppendDelivery(ctx, DeliveryRecord{RunID: "run-3", At: base, Kind: "card", TaskID: "t1", OK: true}))

			got, err := st.RecentCycles(ctx, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "run-3", got[0].RunID)
			assert.Equal(t, "run-2", got[1].RunID)
			assert.Equal(t, 3, got[0].Success)
			assert.True(t, got[0].StartedAt.Equal(base.Add(3*time.Hour)))

			none, err := st.RecentCycles(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "audit.json")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.AppendDelivery(context.Background(), DeliveryRecord{RunID: "r", Kind: "summary", OK: false}))
	require.NoError(t, st.Close())

	b, err := os.ReadFile(filepath.Join(dir, "audit.deliveries.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"summary"`)

	assert.ErrorIs(t, st.AppendCycle(context.Background(), CycleRecord{RunID: "x"}), ErrClosed)
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.AppendCycle(context.Background(), CycleRecord{RunID: "a", StartedAt: time.Now(), FinishedAt: time.Now()}))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	got, err := st.RecentCycles(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].RunID)
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "postgres", Path: "x"}, logx.Nop())
	require.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}
