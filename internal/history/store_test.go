package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskpilot/internal/scheduler"
	"github.com/aristath/taskpilot/internal/task"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func snapshot(id, kind string, status task.Status, msg string, completed time.Time) task.Snapshot {
	return task.Snapshot{
		ID:          id,
		Kind:        kind,
		Name:        id,
		Status:      status,
		Message:     msg,
		Parameters:  task.Params{"password": "********", "url": "https://example.com"},
		RetryCount:  1,
		StartedAt:   completed.Add(-2 * time.Second),
		CompletedAt: completed,
		Duration:    2 * time.Second,
	}
}

func TestRecordAndListRuns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	first := scheduler.Summary{
		TotalTasks: 2, SuccessCount: 1, FailedCount: 1,
		StartedAt: now.Add(-time.Hour), EndedAt: now.Add(-time.Hour + time.Minute),
	}
	second := scheduler.Summary{
		TotalTasks: 0, Remaining: 1, Incomplete: true,
		Err:       errors.New("scheduler deadlock: c waits on unknown x"),
		StartedAt: now, EndedAt: now.Add(time.Second),
	}

	require.NoError(t, store.RecordRun(ctx, "run-1", "morning", first, []task.Snapshot{
		snapshot("a", "goto_url", task.StatusCompleted, "navigated", now.Add(-50*time.Minute)),
		snapshot("b", "write_comment", task.StatusFailed, "comment box not found", now.Add(-49*time.Minute)),
	}))
	require.NoError(t, store.RecordRun(ctx, "run-2", "evening", second, nil))

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID, "newest run first")
	assert.True(t, runs[0].Incomplete)
	assert.Contains(t, runs[0].Error, "deadlock")
	assert.Equal(t, "morning", runs[1].Plan)
	assert.Equal(t, time.Minute, runs[1].Duration())

	limited, err := store.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	outcomes, err := store.TaskOutcomes(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "a", outcomes[0].TaskID)
	assert.Equal(t, "completed", outcomes[0].Status)
	assert.Equal(t, "********", outcomes[0].Parameters["password"])
	assert.Equal(t, 2*time.Second, outcomes[1].Duration)
	assert.True(t, outcomes[1].CompletedAt.Equal(now.Add(-49*time.Minute)))
}

func TestRecordRunDuplicateID(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordRun(ctx, "dup", "p", scheduler.Summary{}, nil))
	assert.Error(t, store.RecordRun(ctx, "dup", "p", scheduler.Summary{}, nil))
}

func TestDailyActivity(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)
	old := now.AddDate(0, 0, -30)

	require.NoError(t, store.RecordRun(ctx, NewRunID(), "p", scheduler.Summary{StartedAt: now}, []task.Snapshot{
		snapshot("v1", "goto_url", task.StatusCompleted, "ok", now),
		snapshot("c1", "write_comment", task.StatusCompleted, "ok", now),
		snapshot("c2", "write_comment", task.StatusFailed, "timeout", now),
		snapshot("l1", "click_like", task.StatusCompleted, "ok", yesterday),
		snapshot("w1", "wait", task.StatusCompleted, "ok", yesterday),
		snapshot("v0", "goto_url", task.StatusCompleted, "ok", old),
	}))

	days, err := store.DailyActivity(ctx, 3, now)
	require.NoError(t, err)
	require.Len(t, days, 3)

	assert.Equal(t, "2026-10-18", days[0].Day)
	assert.Equal(t, DayActivity{Day: "2026-10-18", Visits: 1, Comments: 1, Completed: 2}, days[0])
	assert.Equal(t, DayActivity{Day: "2026-10-17", Likes: 1, Completed: 2}, days[1])
	assert.Equal(t, DayActivity{Day: "2026-10-16"}, days[2])
}

func TestFailureReasons(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordRun(ctx, NewRunID(), "p", scheduler.Summary{StartedAt: now}, []task.Snapshot{
		snapshot("a", "wait", task.StatusFailed, "timeout", now),
		snapshot("b", "wait", task.StatusFailed, "timeout", now),
		snapshot("c", "login", task.StatusSkipped, "circuit open for kind login", now),
		snapshot("d", "wait", task.StatusCompleted, "ok", now),
		snapshot("e", "wait", task.StatusFailed, "stale", now.AddDate(0, 0, -10)),
	}))

	reasons, err := store.FailureReasons(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"timeout": 2, "circuit open for kind login": 1}, reasons)
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a := testStore(t)
	b := testStore(t)
	ctx := context.Background()

	require.NoError(t, a.RecordRun(ctx, "only-in-a", "p", scheduler.Summary{}, nil))
	runs, err := b.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestOpenCreatesDirectories(t *testing.T) {
	path := t.TempDir() + "/nested/dir/history.db"
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
