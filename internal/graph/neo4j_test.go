package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	neo4j.ManagedTransaction
	query  string
	params map[string]any
	err    error
}

func (f *fakeTx) Run(_ context.Context, query string, params map[string]any) (neo4j.ResultWithContext, error) {
	f.query = query
	f.params = params
	return nil, f.err
}

type fakeSession struct {
	tx     *fakeTx
	closed int
}

func (f *fakeSession) ExecuteWrite(_ context.Context, work neo4j.ManagedTransactionWork, _ ...func(*neo4j.TransactionConfig)) (any, error) {
	return work(f.tx)
}

func (f *fakeSession) Close(context.Context) error {
	f.closed++
	return nil
}

type fakeDriver struct {
	session *fakeSession
	configs []neo4j.SessionConfig
	closed  bool
}

func (f *fakeDriver) NewSession(_ context.Context, config neo4j.SessionConfig) SessionRunner {
	f.configs = append(f.configs, config)
	return f.session
}

func (f *fakeDriver) Close(context.Context) error {
	f.closed = true
	return nil
}

func TestSinkAddEdges(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{session: &fakeSession{tx: &fakeTx{}}}
	sink := New(driver, "catalog", nil)

	require.NoError(t, sink.AddEdges(context.Background(), "A", []string{"B", "C"}))
	tx := driver.session.tx
	assert.Contains(t, tx.query, "MERGE (from)-[:RELATED]->(to)")
	assert.Equal(t, "A", tx.params["from"])
	assert.Equal(t, []string{"B", "C"}, tx.params["to"])
	require.Len(t, driver.configs, 1)
	assert.Equal(t, neo4j.AccessModeWrite, driver.configs[0].AccessMode)
	assert.Equal(t, "catalog", driver.configs[0].DatabaseName)
	assert.Equal(t, 1, driver.session.closed)

	require.NoError(t, sink.Close(context.Background()))
	assert.True(t, driver.closed)
}

func TestSinkSkipsEmptyEdges(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{session: &fakeSession{tx: &fakeTx{}}}
	sink := New(driver, "", nil)
	require.NoError(t, sink.AddEdges(context.Background(), "A", nil))
	assert.Empty(t, driver.configs)
}

func TestSinkWrapsWriteErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	driver := &fakeDriver{session: &fakeSession{tx: &fakeTx{err: boom}}}
	sink := New(driver, "", nil)
	err := sink.AddEdges(context.Background(), "A", []string{"B"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, driver.session.closed)
}

func TestOpenRequiresURI(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{}, nil)
	require.Error(t, err)
}
