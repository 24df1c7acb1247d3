package db

import (
	"errors"
	"testing"

	"dbconnector/internal/connection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flakyDB struct {
	MockDB
	pingErr error
	closed  bool
}

func (f *flakyDB) Ping() error {
	if f.pingErr != nil {
		return f.pingErr
	}
	return f.MockDB.Ping()
}

func (f *flakyDB) Close() error {
	f.closed = true
	return f.MockDB.Close()
}

func newTestPool(created *[]*flakyDB) *Pool {
	p := NewPool(zap.NewNop())
	p.newDatabase = func(string) (Database, error) {
		db := &flakyDB{}
		*created = append(*created, db)
		return db, nil
	}
	return p
}

func TestPoolReusesHealthyConnection(t *testing.T) {
	var created []*flakyDB
	p := newTestPool(&created)
	cfg := connection.ConnectionConfig{ID: "mock-1", Dialect: connection.DialectMock}

	first, err := p.Get(cfg)
	require.NoError(t, err)
	second, err := p.Get(cfg)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, created, 1)
}

func TestPoolReplacesConnectionThatFailsPing(t *testing.T) {
	var created []*flakyDB
	p := newTestPool(&created)
	cfg := connection.ConnectionConfig{ID: "mock-1", Dialect: connection.DialectMock}

	_, err := p.Get(cfg)
	require.NoError(t, err)
	created[0].pingErr = errors.New("broken pipe")

	_, err = p.Get(cfg)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.True(t, created[0].closed)
	assert.Equal(t, 1, p.Len())
}

func TestPoolReconnectsWhenConfigChanges(t *testing.T) {
	var created []*flakyDB
	p := newTestPool(&created)
	cfg := connection.ConnectionConfig{ID: "mock-1", Dialect: connection.DialectMock, Database: "a"}

	_, err := p.Get(cfg)
	require.NoError(t, err)
	cfg.Database = "b"
	_, err = p.Get(cfg)
	require.NoError(t, err)

	require.Len(t, created, 2)
	assert.True(t, created[0].closed)
}

func TestPoolCloseAll(t *testing.T) {
	var created []*flakyDB
	p := newTestPool(&created)
	_, err := p.Get(connection.ConnectionConfig{ID: "a", Dialect: connection.DialectMock})
	require.NoError(t, err)
	_, err = p.Get(connection.ConnectionConfig{ID: "b", Dialect: connection.DialectMock})
	require.NoError(t, err)

	p.Close("a")
	assert.Equal(t, 1, p.Len())
	p.CloseAll()
	assert.Equal(t, 0, p.Len())
	assert.True(t, created[0].closed && created[1].closed)
}
