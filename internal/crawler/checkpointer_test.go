package crawler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/checkpoint"
)

func TestCheckpointerSkipsShrinkingSnapshots(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewMemoryStore()
	c := NewCheckpointer(store, "out", nil)
	var saved []string
	c.OnSave(func(name string, _ checkpoint.Snapshot) { saved = append(saved, name) })
	ctx := context.Background()

	require.NoError(t, c.SaveTmp(ctx, checkpoint.Snapshot{Done: []string{"a", "b"}, IDs: []string{"x"}}))
	require.NoError(t, c.SaveTmp(ctx, checkpoint.Snapshot{Done: []string{"a"}, IDs: []string{"x", "y"}}))
	require.NoError(t, c.SaveTmp(ctx, checkpoint.Snapshot{Done: []string{"a", "b", "c"}, IDs: []string{"x"}}))

	assert.Equal(t, 2, store.Saves("out_tmp"))
	snap, ok, err := store.Load(ctx, "out_tmp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, snap.Done, 3)
	assert.Equal(t, []string{"out_tmp", "out_tmp"}, saved)
}

func TestCheckpointerLoadSetsBaseline(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "out_tmp", checkpoint.Snapshot{Done: []string{"a", "b"}, IDs: []string{"c"}}))

	c := NewCheckpointer(store, "out", nil)
	_, ok, err := c.LoadTmp(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.SaveTmp(ctx, checkpoint.Snapshot{Done: []string{"a"}, IDs: []string{"c"}}))
	assert.Equal(t, 1, store.Saves("out_tmp"), "smaller snapshot must not replace the loaded one")
}

func TestCheckpointerNames(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewMemoryStore()
	c := NewCheckpointer(store, "related", nil)
	ctx := context.Background()

	require.NoError(t, c.SaveLevel(ctx, 2, checkpoint.Snapshot{Level: 2, Frontier: []string{"x"}}))
	require.NoError(t, c.SaveFinal(ctx, checkpoint.Snapshot{Done: []string{"a"}, Frontier: []string{"x"}}))
	assert.ElementsMatch(t, []string{"related_level-2", "related"}, store.Names())

	final, ok, err := c.LoadFinal(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, final.Complete)
	assert.Empty(t, final.Frontier)
}

func TestCheckpointerDisabled(t *testing.T) {
	t.Parallel()

	c := NewCheckpointer(nil, "out", nil)
	ctx := context.Background()
	require.NoError(t, c.SaveTmp(ctx, checkpoint.Snapshot{Done: []string{"a"}}))
	_, ok, err := c.LoadFinal(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	c = NewCheckpointer(checkpoint.NewMemoryStore(), "", nil)
	require.NoError(t, c.SaveFinal(ctx, checkpoint.Snapshot{}))
}
