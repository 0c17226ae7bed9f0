package correlation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visionline/internal/db"
	"visionline/internal/migrate"
	"visionline/internal/repo"
)

var t0 = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

func tables(t *testing.T) map[string]Table {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := DefaultRetention()
	return map[string]Table{
		"memory": NewMemory(r),
		"sql":    SQLTable{Repo: repo.New(conn, db.DriverSQLite), Retention: r},
	}
}

func TestTableLifecycle(t *testing.T) {
	for name, table := range tables(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			deadline := t0.Add(30 * time.Second)
			require.NoError(t, table.Bind(ctx, Entry{JobID: "job-a", ImageQueryID: "iq-a", Deadline: &deadline, CreatedAt: t0}))
			require.NoError(t, table.Bind(ctx, Entry{JobID: "job-b", ImageQueryID: "iq-b", CreatedAt: t0}))
			assert.ErrorIs(t, table.Bind(ctx, Entry{JobID: "job-a", ImageQueryID: "iq-x", CreatedAt: t0}), ErrDuplicateJob)

			e, ok, err := table.Lookup(ctx, "job-a")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "iq-a", e.ImageQueryID)
			require.NotNil(t, e.Deadline)
			assert.True(t, deadline.Equal(*e.Deadline))

			_, ok, err = table.Lookup(ctx, "job-missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, table.Resolve(ctx, "job-b", t0.Add(time.Second)))
			e, ok, err = table.Lookup(ctx, "job-b")
			require.NoError(t, err)
			require.True(t, ok)
			require.NotNil(t, e.ResolvedAt)

			// Nothing is old enough yet.
			n, err := table.Sweep(ctx, t0.Add(time.Minute))
			require.NoError(t, err)
			assert.Zero(t, n)

			// Both the expired deadline and the resolved entry age out.
			n, err = table.Sweep(ctx, t0.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			_, ok, _ = table.Lookup(ctx, "job-a")
			assert.False(t, ok)

			require.NoError(t, table.Bind(ctx, Entry{JobID: "job-c", ImageQueryID: "iq-c", CreatedAt: t0}))
			require.NoError(t, table.Forget(ctx, "job-c"))
			_, ok, _ = table.Lookup(ctx, "job-c")
			assert.False(t, ok)
		})
	}
}

func TestMemoryTableConcurrentAccess(t *testing.T) {
	table := NewMemory(DefaultRetention())
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			_ = table.Bind(ctx, Entry{JobID: id, ImageQueryID: "iq", CreatedAt: t0})
			_, _, _ = table.Lookup(ctx, id)
			_ = table.Resolve(ctx, id, t0)
			_, _ = table.Sweep(ctx, t0)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, table.Len())
}
