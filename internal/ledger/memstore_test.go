package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/susu3304/warikanbot/internal/settlement"
)

func TestMemoryStoreVersionCheck(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	g := NewGroup("trip", []string{"A"}, fixedNow)
	require.NoError(t, store.CreateGroup(ctx, g))
	assert.Equal(t, int64(1), g.Version)

	cur, err := store.Group(ctx, g.ID)
	require.NoError(t, err)
	require.NoError(t, store.SaveGroup(ctx, cur, 1, nil))
	assert.Equal(t, int64(2), cur.Version)

	assert.ErrorIs(t, store.SaveGroup(ctx, cur, 1, nil), ErrVersionConflict)

	missing := NewGroup("missing", nil, fixedNow)
	assert.True(t, settlement.IsNotFound(store.SaveGroup(ctx, missing, 1, nil)))
}

func TestMemoryStorePurgeKeepsHistory(t *testing.T) {
	ctx := context.Background()
	svc, store, g := newTestService(t)
	_, err := svc.AddExpenses(ctx, g.ID, split("taxi", "A", "20", "A", "B"))
	require.NoError(t, err)
	res, err := svc.Resolve(ctx, g.ID, "B", "A", "B")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.GroupStatus)

	active, err := svc.CreateGroup(ctx, CreateGroupInput{Name: "open", Members: []string{"A"}})
	require.NoError(t, err)

	n, err := store.PurgeExpired(ctx, fixedNow)
	require.NoError(t, err)
	assert.Zero(t, n, "closed exactly at the cutoff is kept")

	n, err = store.PurgeExpired(ctx, fixedNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Group(ctx, g.ID)
	assert.True(t, settlement.IsNotFound(err))
	_, err = store.Group(ctx, active.ID)
	assert.NoError(t, err)

	h, err := svc.History(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "trip", h.GroupName)
	require.Len(t, h.SettledEdges, 1)
	assert.True(t, amount("10").Equal(h.SettledEdges[0].Amount))

	_, err = svc.History(ctx, "never-existed")
	assert.True(t, settlement.IsNotFound(err))
}

func TestMemoryStoreOneActiveGroupPerChannel(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := NewGroup("lunch", []string{"A"}, fixedNow)
	first.ChannelID = "ch1"
	require.NoError(t, store.CreateGroup(ctx, first))

	second := NewGroup("dinner", []string{"B"}, fixedNow)
	second.ChannelID = "ch1"
	assert.True(t, settlement.IsState(store.CreateGroup(ctx, second)))

	elsewhere := NewGroup("dinner", []string{"B"}, fixedNow)
	elsewhere.ChannelID = "ch2"
	require.NoError(t, store.CreateGroup(ctx, elsewhere))

	// Groups without a channel never collide.
	require.NoError(t, store.CreateGroup(ctx, NewGroup("x", nil, fixedNow)))
	require.NoError(t, store.CreateGroup(ctx, NewGroup("y", nil, fixedNow)))
}

func TestConcurrentCreateGroupInOneChannel(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created []string
		errs    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := svc.CreateGroup(ctx, CreateGroupInput{Name: "trip", Members: []string{"A"}, ChannelID: "ch1"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			created = append(created, g.ID)
		}()
	}
	wg.Wait()

	require.Len(t, created, 1)
	require.Len(t, errs, callers-1)
	for _, err := range errs {
		assert.True(t, settlement.IsState(err), err)
	}

	active, err := svc.GroupByChannel(ctx, "ch1")
	require.NoError(t, err)
	assert.Equal(t, created[0], active.ID)
}
