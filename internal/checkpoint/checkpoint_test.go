package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSortsAndNeverEmitsNull(t *testing.T) {
	t.Parallel()

	data, err := Encode(Snapshot{IDs: []string{"b", "a"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"done":[],"ids":["a","b"]}`, string(data))

	data, err = Encode(Snapshot{Done: []string{"x"}, IDs: []string{"x"}, Level: 2, Frontier: []string{"y"}, Complete: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"done":["x"],"ids":["x"],"level":2,"frontier":["y"],"complete":true}`, string(data))
}

func TestDecodeAcceptsBaseDocument(t *testing.T) {
	t.Parallel()

	snap, err := Decode([]byte(`{"done":["a"],"ids":["a","b"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, snap.Done)
	assert.Equal(t, []string{"a", "b"}, snap.IDs)
	assert.Zero(t, snap.Level)
	assert.False(t, snap.Complete)

	snap, err = Decode([]byte(`{}`))
	require.NoError(t, err)
	assert.NotNil(t, snap.Done)
	assert.NotNil(t, snap.IDs)

	_, err = Decode([]byte(`[1,2]`))
	require.Error(t, err)
}

func TestNames(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ids_related_tmp", TmpName("ids_related"))
	assert.Equal(t, "ids_related_level-2", LevelName("ids_related", 2))
}

func TestFileStore(t *testing.T) {
	t.Parallel()

	t.Run("missing checkpoint is not found", func(t *testing.T) {
		t.Parallel()
		store, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		_, ok, err := store.Load(context.Background(), "nothing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("save then load", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		store, err := NewFileStore(dir)
		require.NoError(t, err)
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, "ids_search", Snapshot{Done: []string{"a"}, IDs: []string{"x", "y"}}))
		snap, ok, err := store.Load(ctx, "ids_search")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"a"}, snap.Done)
		assert.Equal(t, []string{"x", "y"}, snap.IDs)

		_, err = os.Stat(filepath.Join(dir, "ids_search.json"))
		require.NoError(t, err)
		leftovers, err := filepath.Glob(filepath.Join(dir, ".checkpoint-*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, leftovers)
	})

	t.Run("save replaces previous snapshot", func(t *testing.T) {
		t.Parallel()
		store, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		ctx := context.Background()
		require.NoError(t, store.Save(ctx, "run", Snapshot{IDs: []string{"a"}}))
		require.NoError(t, store.Save(ctx, "run.json", Snapshot{IDs: []string{"a", "b"}}))
		snap, ok, err := store.Load(ctx, "run")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"a", "b"}, snap.IDs)
	})

	t.Run("corrupt file is an error", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0o600))
		store, err := NewFileStore(dir)
		require.NoError(t, err)
		_, _, err = store.Load(context.Background(), "bad")
		require.Error(t, err)
	})
}

type fakeRedis struct {
	mu     sync.Mutex
	data   map[string]string
	closed bool
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	client := &fakeRedis{data: map[string]string{}}
	store := NewRedisStoreWithClient(client, "crawler:checkpoint:")
	ctx := context.Background()

	_, ok, err := store.Load(ctx, "ids_related")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, "ids_related", Snapshot{Done: []string{"A"}, IDs: []string{"B", "C"}, Level: 1}))
	assert.Contains(t, client.data, "crawler:checkpoint:ids_related")

	snap, ok, err := store.Load(ctx, "ids_related")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, snap.Level)
	assert.Equal(t, []string{"B", "C"}, snap.IDs)

	require.NoError(t, store.Close())
	assert.True(t, client.closed)
}

func TestNewRedisStoreRequiresAddr(t *testing.T) {
	t.Parallel()
	_, err := NewRedisStore("", "")
	require.Error(t, err)
}

func TestPostgresStore_Save(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO crawl_checkpoints").
		WithArgs("ids_search", []byte(`{"done":["a"],"ids":["x"]}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), "ids_search", Snapshot{Done: []string{"a"}, IDs: []string{"x"}}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresStoreWithPool(mock, "checkpoints")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT snapshot FROM checkpoints").
		WithArgs("run").
		WillReturnRows(pgxmock.NewRows([]string{"snapshot"}).AddRow([]byte(`{"done":["a"],"ids":["a","b"],"complete":true}`)))
	mock.ExpectQuery("SELECT snapshot FROM checkpoints").
		WithArgs("absent").
		WillReturnError(pgx.ErrNoRows)

	snap, ok, err := store.Load(context.Background(), "run")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, snap.Complete)
	assert.Equal(t, []string{"a", "b"}, snap.IDs)

	_, ok, err = store.Load(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RejectsInvalidTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresStoreWithPool(mock, "bad;table")
	require.Error(t, err)
	_, err = NewPostgresStore(context.Background(), PostgresConfig{})
	require.Error(t, err)
}

func TestNewGCSStoreValidation(t *testing.T) {
	t.Parallel()
	_, err := NewGCSStore(nil, GCSConfig{Bucket: "b"})
	require.Error(t, err)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	ids := []string{"a"}
	require.NoError(t, store.Save(ctx, "run", Snapshot{IDs: ids}))
	ids[0] = "mutated"

	snap, ok, err := store.Load(ctx, "run")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, snap.IDs)
	assert.Equal(t, 1, store.Saves("run"))
	assert.Equal(t, []string{"run"}, store.Names())
}
