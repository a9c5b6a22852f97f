package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"
	"triagem/lib/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func setup(t testing.TB) Ledger {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "lib/ledger",
		DbSchema: Schema,
	})
	t.Cleanup(cleanup)

	ledger, err := New(context.Background(), res.DB)
	if err != nil {
		t.Fatal(err)
	}
	return ledger
}

func sampleRun(id string, started time.Time) Run {
	return Run{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Indices: []IndexResult{
			{
				Protocol: "7463527921",
				Index:    "0123456789",
				Dir:      "/results/7463527921/0123456789",
				Report:   "/results/7463527921/0123456789/1. Relatório de Triagem - 0123456789.pdf",
				Status:   STATUS_OK,
				Sources: []SourceResult{
					{Source: "basic_plan", Found: true, Attempts: 2},
					{Source: "project", Found: false, Attempts: 1, Error: "navigate: not found"},
				},
			},
			{
				Protocol: "7463527921",
				Index:    "9876543210",
				Dir:      "/results/7463527921/9876543210",
				Status:   STATUS_REPORT_FAILED,
				Error:    "render report: disk full",
			},
		},
	}
}

func TestRecordRun(t *testing.T) {
	ledger := setup(t)
	ctx := context.Background()

	run := sampleRun("abc12345", time.Unix(1700000000, 0))
	require.NoError(t, ledger.RecordRun(ctx, run))

	results, err := ledger.IndexResults(ctx, run.ID)
	require.NoError(t, err)
	diff := cmp.Diff(run.Indices, results)
	if diff != "" {
		t.Fatal(diff)
	}

	// ids are unique, recording the same run twice is refused
	require.Error(t, ledger.RecordRun(ctx, run))
}

func TestRecentRuns(t *testing.T) {
	ledger := setup(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	require.NoError(t, ledger.RecordRun(ctx, sampleRun("first", base)))
	second := sampleRun("second", base.Add(time.Hour))
	second.Cancelled = true
	second.Indices = second.Indices[:1]
	require.NoError(t, ledger.RecordRun(ctx, second))
	require.NoError(t, ledger.RecordRun(ctx, Run{ID: "empty", StartedAt: base.Add(2 * time.Hour), FinishedAt: base.Add(2 * time.Hour)}))

	runs, err := ledger.RecentRuns(ctx, 2)
	require.NoError(t, err)
	diff := cmp.Diff([]RunInfo{
		{ID: "empty", StartedAt: base.Add(2 * time.Hour), FinishedAt: base.Add(2 * time.Hour)},
		{ID: "second", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Minute), Cancelled: true, Indices: 1},
	}, runs)
	if diff != "" {
		t.Fatal(diff)
	}

	runs, err = ledger.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	require.Equal(t, 2, runs[2].Indices)
	require.Equal(t, 1, runs[2].Failed)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ledger.db")
	ctx := context.Background()

	ledger, err := Open(ctx, Config{File: path})
	require.NoError(t, err)
	require.NoError(t, ledger.RecordRun(ctx, sampleRun("persisted", time.Unix(1700000000, 0))))
	require.NoError(t, ledger.Close())

	ledger, err = Open(ctx, Config{File: path})
	require.NoError(t, err)
	defer ledger.Close()

	runs, err := ledger.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "persisted", runs[0].ID)

	_, err = Open(ctx, Config{})
	require.Error(t, err)
}

func TestRunFailed(t *testing.T) {
	require.Equal(t, 1, sampleRun("x", time.Now()).Failed())
}
