package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nadmax/imagegen/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) (Store, func(func() time.Time))

func memoryFactory(t *testing.T) (Store, func(func() time.Time)) {
	s := NewMemoryStore()
	return s, s.SetClock
}

func redisFactory(t *testing.T) (Store, func(func() time.Time)) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := NewRedisStore(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, s.SetClock
}

var factories = map[string]storeFactory{
	"memory": memoryFactory,
	"redis":  redisFactory,
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store, setClock func(func() time.Time))) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			s, setClock := factory(t)
			fn(t, s, setClock)
		})
	}
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestCreate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func(func() time.Time)) {
		ctx := context.Background()

		tsk, err := s.Create(ctx, "a cat", task.Ratio1x1)
		require.NoError(t, err)

		assert.NotEmpty(t, tsk.ID)
		assert.Equal(t, task.StatusWaiting, tsk.Status)
		assert.Empty(t, tsk.ProviderTaskID)
		assert.Empty(t, tsk.ResultURLs)
		assert.Nil(t, tsk.CompletedAt)
		assert.False(t, tsk.CreatedAt.IsZero())

		got, err := s.Get(ctx, tsk.ID)
		require.NoError(t, err)
		assert.Equal(t, tsk.ID, got.ID)
		assert.Equal(t, "a cat", got.Prompt)
	})
}

func TestCreate_DefaultAspectRatio(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func(func() time.Time)) {
		tsk, err := s.Create(context.Background(), "a cat", "")
		require.NoError(t, err)
		assert.Equal(t, task.Ratio1x1, tsk.AspectRatio)
	})
}

func TestCreate_UniqueIDs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func(func() time.Time)) {
		ids := make(map[string]bool)
		for range 50 {
			tsk, err := s.Create(context.Background(), "p", task.Ratio1x1)
			require.NoError(t, err)
			require.False(t, ids[tsk.ID])
			ids[tsk.ID] = true
		}
	})
}

func TestGet_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func(func() time.Time)) {
		_, err := s.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})
}

func TestAttachProviderID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, setClock func(func() time.Time)) {
		ctx := context.Background()
		created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		setClock(fixedClock(created))

		tsk, err := s.Create(ctx, "a cat", task.Ratio1x1)
		require.NoError(t, err)

		attached := created.Add(time.Second)
		setClock(fixedClock(attached))
		got, err := s.AttachProviderID(ctx, tsk.ID, "p1")
		require.NoError(t, err)
		assert.Equal(t, "p1", got.ProviderTaskID)
		assert.True(t, got.UpdatedAt.Equal(attached))

		byProvider, err := s.GetByProviderID(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, tsk.ID, byProvider.ID)
	})
}

func TestAttachProviderID_Errors(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func(func() time.Time)) {
		ctx := context.Background()

		_, err := s.AttachProviderID(ctx, "missing", "p1")
		assert.ErrorIs(t, err, task.ErrNotFound)

		first, err := s.Create(ctx, "one", task.Ratio1x1)
		require.NoError(t, err)
		second, err := s.Create(ctx, "two", task.Ratio1x1)
		require.NoError(t, err)

		_, err = s.AttachProviderID(ctx, first.ID, "")
		assert.ErrorIs(t, err, ErrEmptyProviderID)

		_, err = s.AttachProviderID(ctx, first.ID, "p1")
		require.NoError(t, err)

		_, err = s.AttachProviderID(ctx, first.ID, "p1")
		assert.NoError(t, err, "re-attaching the same id is a no-op")

		_, err = s.AttachProviderID(ctx, second.ID, "p1")
		assert.ErrorIs(t, err, task.ErrProviderIDTaken)

		_, err = s.AttachProviderID(ctx, first.ID, "p2")
		assert.ErrorIs(t, err, task.ErrProviderIDTaken)

		owner, err := s.GetByProviderID(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, owner.ID)
	})
}

func TestGetByProviderID_NeverAttached(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func(func() time.Time)) {
		ctx := context.Background()
		_, err := s.Create(ctx, "a cat", task.Ratio1x1)
		require.NoError(t, err)

		_, err = s.GetByProviderID(ctx, "unknown")
		assert.ErrorIs(t, err, task.ErrNotFound)

		_, err = s.GetByProviderID(ctx, "")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})
}

func TestMerge(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, setClock func(func() time.Time)) {
		ctx := context.Background()
		created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		setClock(fixedClock(created))

		tsk, err := s.Create(ctx, "a cat", task.Ratio1x1)
		require.NoError(t, err)

		merged := created.Add(time.Minute)
		setClock(fixedClock(merged))
		done := created.Add(30 * time.Second)
		got, err := s.Merge(ctx, tsk.ID, task.Update{
			Status:      task.Ptr(task.StatusSuccess),
			ResultURLs:  []string{"u1", "u2"},
			CostTime:    task.Ptr(int64(7)),
			CompletedAt: &done,
		})
		require.NoError(t, err)

		assert.Equal(t, task.StatusSuccess, got.Status)
		assert.Equal(t, []string{"u1", "u2"}, got.ResultURLs)
		assert.True(t, got.UpdatedAt.Equal(merged))
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(done))

		stored, err := s.Get(ctx, tsk.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2"}, stored.ResultURLs)
		require.NotNil(t, stored.CostTime)
		assert.Equal(t, int64(7), *stored.CostTime)
	})
}

func TestMerge_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func(func() time.Time)) {
		_, err := s.Merge(context.Background(), "missing", task.Update{Status: task.Ptr(task.StatusFail)})
		assert.ErrorIs(t, err, task.ErrNotFound)
	})
}

func TestMerge_ExpectStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func(func() time.Time)) {
		ctx := context.Background()
		tsk, err := s.Create(ctx, "a cat", task.Ratio1x1)
		require.NoError(t, err)

		_, err = s.Merge(ctx, tsk.ID, task.Update{
			ExpectStatus:   task.Ptr(task.StatusWaiting),
			Status:         task.Ptr(task.StatusFail),
			FailureCode:    task.Ptr("500"),
			FailureMessage: task.Ptr("boom"),
		})
		require.NoError(t, err)

		_, err = s.Merge(ctx, tsk.ID, task.Update{
			ExpectStatus: task.Ptr(task.StatusWaiting),
			Status:       task.Ptr(task.StatusSuccess),
			ResultURLs:   []string{"u1"},
		})
		assert.ErrorIs(t, err, task.ErrStatusConflict)

		stored, err := s.Get(ctx, tsk.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusFail, stored.Status)
		assert.Empty(t, stored.ResultURLs)
		assert.Equal(t, "boom", stored.FailureMessage)
	})
}

func TestMerge_UnconditionalOverwrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func(func() time.Time)) {
		ctx := context.Background()
		tsk, err := s.Create(ctx, "a cat", task.Ratio1x1)
		require.NoError(t, err)

		_, err = s.Merge(ctx, tsk.ID, task.Update{Status: task.Ptr(task.StatusFail)})
		require.NoError(t, err)

		got, err := s.Merge(ctx, tsk.ID, task.Update{Status: task.Ptr(task.StatusSuccess)})
		require.NoError(t, err)
		assert.Equal(t, task.StatusSuccess, got.Status)
	})
}

func TestMerge_ConcurrentConditionalWritersOneWins(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func(func() time.Time)) {
		ctx := context.Background()
		tsk, err := s.Create(ctx, "a cat", task.Ratio1x1)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := range 8 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				status := task.StatusSuccess
				if i%2 == 0 {
					status = task.StatusFail
				}
				_, err := s.Merge(ctx, tsk.ID, task.Update{
					ExpectStatus: task.Ptr(task.StatusWaiting),
					Status:       task.Ptr(status),
				})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, task.ErrStatusConflict), "unexpected error: %v", err)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
	})
}

func TestMerge_ConcurrentWritersOnDistinctTasks(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func(func() time.Time)) {
		ctx := context.Background()
		const n = 64

		ids := make([]string, n)
		for i := range n {
			tsk, err := s.Create(ctx, "prompt", task.Ratio1x1)
			require.NoError(t, err)
			ids[i] = tsk.ID
		}

		var wg sync.WaitGroup
		errs := make([]error, n)
		for i, id := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = s.Merge(ctx, id, task.Update{
					ExpectStatus: task.Ptr(task.StatusWaiting),
					Status:       task.Ptr(task.StatusSuccess),
				})
			}()
		}
		wg.Wait()

		for i, id := range ids {
			assert.NoError(t, errs[i], "merge of %s", id)

			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, task.StatusSuccess, got.Status, "task %s", id)
		}
	})
}

func TestList_Ordering(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, setClock func(func() time.Time)) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		var created []*task.Task
		for i := range 3 {
			setClock(fixedClock(base.Add(time.Duration(i) * time.Second)))
			tsk, err := s.Create(ctx, "prompt", task.Ratio1x1)
			require.NoError(t, err)
			created = append(created, tsk)
		}

		page, err := s.List(ctx, 2, 0)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, created[2].ID, page[0].ID)
		assert.Equal(t, created[1].ID, page[1].ID)

		page, err = s.List(ctx, 2, 2)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, created[0].ID, page[0].ID)

		page, err = s.List(ctx, 2, 10)
		require.NoError(t, err)
		assert.Empty(t, page)
	})
}

func TestList_Defaults(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func(func() time.Time)) {
		ctx := context.Background()
		for range 25 {
			_, err := s.Create(ctx, "prompt", task.Ratio1x1)
			require.NoError(t, err)
		}

		page, err := s.List(ctx, 0, -5)
		require.NoError(t, err)
		assert.Len(t, page, DefaultLimit)
	})
}

func TestEach_VisitsEveryPage(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ func(func() time.Time)) {
		ctx := context.Background()
		total := MaxLimit + 5
		for range total {
			_, err := s.Create(ctx, "prompt", task.Ratio1x1)
			require.NoError(t, err)
		}

		seen := make(map[string]bool, total)
		err := Each(ctx, s, func(tsk *task.Task) {
			seen[tsk.ID] = true
		})
		require.NoError(t, err)
		assert.Len(t, seen, total)
	})
}

func TestList_TiesUseCreationOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, setClock func(func() time.Time)) {
		setClock(fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
		ctx := context.Background()

		var created []*task.Task
		for range 12 {
			tsk, err := s.Create(ctx, "prompt", task.Ratio1x1)
			require.NoError(t, err)
			created = append(created, tsk)
		}

		page, err := s.List(ctx, 20, 0)
		require.NoError(t, err)
		require.Len(t, page, len(created))
		for i, tsk := range page {
			assert.Equal(t, created[len(created)-1-i].ID, tsk.ID, "position %d", i)
		}
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	tsk, err := s.Create(ctx, "a cat", task.Ratio1x1)
	require.NoError(t, err)
	tsk.Status = task.StatusSuccess

	stored, err := s.Get(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusWaiting, stored.Status)
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		limit, offset       int
		wantLimit, wantOffs int
	}{
		{0, 0, DefaultLimit, 0},
		{-1, -1, DefaultLimit, 0},
		{5, 3, 5, 3},
		{MaxLimit + 1, 0, MaxLimit, 0},
	}

	for _, tt := range tests {
		l, o := NormalizePage(tt.limit, tt.offset)
		assert.Equal(t, tt.wantLimit, l)
		assert.Equal(t, tt.wantOffs, o)
	}
}

func TestNewRedisStore_InvalidAddress(t *testing.T) {
	_, err := NewRedisStore("invalid:99999")
	assert.Error(t, err)
}
